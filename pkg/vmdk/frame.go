package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// frameHeaderSize is the embedded-LBA grain-frame header: lba (u64) +
// cmpSize (u32).
const frameHeaderSize = 12

// encodeFrameHeader writes the 12-byte embedded-LBA frame header into
// the front of buf, which must be at least frameHeaderSize long.
func encodeFrameHeader(buf []byte, lba uint64, cmpSize uint32) {
	putUint64LE(buf[0:8], lba)
	putUint32LE(buf[8:12], cmpSize)
}

// decodeFrameHeader reads the 12-byte embedded-LBA frame header from the
// front of buf.
func decodeFrameHeader(buf []byte) (lba uint64, cmpSize uint32) {
	return getUint64LE(buf[0:8]), getUint32LE(buf[8:12])
}

// sectorsFor rounds a byte count up to a whole number of sectors.
func sectorsFor(n int) uint64 {
	return (uint64(n) + SectorSize - 1) / SectorSize
}

// paddedFrameSize rounds up frameHeaderSize+payload to a sector boundary.
func paddedFrameSize(payload int) uint64 {
	return sectorsFor(frameHeaderSize+payload) * SectorSize
}
