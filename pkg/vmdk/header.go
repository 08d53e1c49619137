package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import "fmt"

const (
	// SectorSize is the fixed on-disk addressing unit.
	SectorSize = 512

	// MagicNumber is the committed-file signature ("KDMV" little-endian).
	MagicNumber uint32 = 0x564d444b

	// magicMask XORed with MagicNumber gives the provisional (lowercase)
	// signature written before the final commit.
	magicMask uint32 = 0x20202020

	// maxVersion is the highest version this package knows how to
	// interpret incompat flags for.
	maxVersion uint32 = 3

	// FlagValidNewlineDetector asks readers to validate the four
	// newline-detector bytes in the header.
	FlagValidNewlineDetector uint32 = 0x1
	// FlagCompressed marks every grain as deflate-compressed.
	FlagCompressed uint32 = 0x10000
	// FlagEmbeddedLBA marks every compressed grain frame as carrying a
	// 12-byte header (lba + cmpSize) rather than a bare 4-byte cmpSize.
	FlagEmbeddedLBA uint32 = 0x20000

	// incompatFlagsMask identifies the flag bits that are "incompat":
	// a reader that doesn't understand a set incompat bit must refuse
	// the file. Only FlagCompressed and FlagEmbeddedLBA are recognized.
	incompatFlagsMask uint32 = 0xffff0000

	// CompressAlgorithmDeflate is the only compressAlgorithm value this
	// package writes or accepts.
	CompressAlgorithmDeflate uint16 = 1

	newlineSingle  byte = '\n'
	newlineNon     byte = ' '
	newlineDouble1 byte = '\r'
	newlineDouble2 byte = '\n'
)

// Header is the fixed 512-byte sparse-extent header. All fields are
// little-endian on disk; Capacity and GrainSize are in sectors.
type Header struct {
	MagicNumber       uint32
	Version           uint32
	Flags             uint32
	Capacity          uint64
	GrainSize         uint64
	DescriptorOffset  uint64
	DescriptorSize    uint64
	NumGTEsPerGT      uint32
	RGDOffset         uint64
	GDOffset          uint64
	OverHead          uint64
	UncleanShutdown   byte
	CompressAlgorithm uint16
}

// ParseHeader validates and decodes a 512-byte on-disk header.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) != SectorSize {
		return nil, fmt.Errorf("header must be exactly %d bytes: %w", SectorSize, ErrInvalidHeader)
	}

	magic := getUint32LE(b[0:4])
	if magic != MagicNumber {
		return nil, fmt.Errorf("bad magic number %#x: %w", magic, ErrInvalidHeader)
	}

	h := new(Header)
	h.MagicNumber = magic
	h.Version = getUint32LE(b[4:8])
	if h.Version > maxVersion {
		return nil, fmt.Errorf("unsupported version %d: %w", h.Version, ErrInvalidHeader)
	}

	h.Flags = getUint32LE(b[8:12])
	if h.Flags&incompatFlagsMask&^(FlagCompressed|FlagEmbeddedLBA) != 0 {
		return nil, fmt.Errorf("unrecognized incompat flags %#x: %w", h.Flags, ErrInvalidHeader)
	}
	if h.Flags&FlagEmbeddedLBA != 0 && h.Flags&FlagCompressed == 0 {
		return nil, fmt.Errorf("embedded LBA flag requires compressed flag: %w", ErrInvalidHeader)
	}

	if h.Flags&FlagValidNewlineDetector != 0 {
		if b[73] != newlineSingle || b[74] != newlineNon || b[75] != newlineDouble1 || b[76] != newlineDouble2 {
			return nil, fmt.Errorf("newline detector bytes mismatch: %w", ErrInvalidHeader)
		}
	}

	h.Capacity = getUint64LE(b[12:20])
	h.GrainSize = getUint64LE(b[20:28])
	h.DescriptorOffset = getUint64LE(b[28:36])
	h.DescriptorSize = getUint64LE(b[36:44])
	h.NumGTEsPerGT = getUint32LE(b[44:48])
	h.RGDOffset = getUint64LE(b[48:56])
	h.GDOffset = getUint64LE(b[56:64])
	h.OverHead = getUint64LE(b[64:72])
	h.UncleanShutdown = b[72]
	h.CompressAlgorithm = getUint16LE(b[77:79])

	return h, nil
}

// Encode serializes the header to its 512-byte on-disk form. When
// provisional is true the magic number is written lowercase, signalling
// an in-progress write that must not be trusted by a reader.
func (h *Header) Encode(provisional bool) []byte {
	b := make([]byte, SectorSize)

	magic := MagicNumber
	if provisional {
		magic ^= magicMask
	}
	putUint32LE(b[0:4], magic)
	putUint32LE(b[4:8], h.Version)
	putUint32LE(b[8:12], h.Flags)
	putUint64LE(b[12:20], h.Capacity)
	putUint64LE(b[20:28], h.GrainSize)
	putUint64LE(b[28:36], h.DescriptorOffset)
	putUint64LE(b[36:44], h.DescriptorSize)
	putUint32LE(b[44:48], h.NumGTEsPerGT)
	putUint64LE(b[48:56], h.RGDOffset)
	putUint64LE(b[56:64], h.GDOffset)
	putUint64LE(b[64:72], h.OverHead)
	b[72] = h.UncleanShutdown
	b[73] = newlineSingle
	b[74] = newlineNon
	b[75] = newlineDouble1
	b[76] = newlineDouble2
	putUint16LE(b[77:79], h.CompressAlgorithm)

	return b
}
