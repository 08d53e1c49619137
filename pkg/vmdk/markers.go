package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// Special sector markers share the grain frame's leading 12-byte shape
// (a u64 followed by a u32) but carry different semantics: lba holds a
// "length" field and the u32 names the marker type instead of a
// compressed-payload size. The only marker this package emits is the
// end-of-stream marker that closes the grain-data area.
const (
	markerEOS uint32 = 1

	markerHeaderSize = 12
)

// encodeEOSMarker renders the end-of-stream marker as a zero-padded
// 512-byte sector.
func encodeEOSMarker() []byte {
	b := make([]byte, SectorSize)
	putUint64LE(b[0:8], 0) // length
	putUint32LE(b[8:12], markerEOS)
	return b
}
