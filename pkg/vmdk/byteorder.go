package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// Little-endian field accessors. The on-disk sparse-extent header packs a
// uint16 at an odd byte offset (CompressAlgorithm, offset 77) and grain
// frames pack a uint64 immediately followed by a uint32 — fields that a
// C reader would call "unaligned". Go byte slices have no alignment
// requirement of their own, but the helpers are kept as a distinct layer
// (rather than inlining encoding/binary.LittleEndian calls everywhere) so
// every on-disk field access goes through one seam.

import "encoding/binary"

func getUint16LE(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

func putUint16LE(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

func getUint32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func putUint32LE(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

func getUint64LE(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func putUint64LE(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}
