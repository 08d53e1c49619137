package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import "fmt"

const (
	// DefaultGrainSectors is the only grain size this package writes:
	// 128 sectors (64 KiB).
	DefaultGrainSectors = 128

	// DefaultNumGTEsPerGT is the only grain-table size this package
	// writes: 512 entries per table.
	DefaultNumGTEsPerGT = 512

	gteSize = 4 // bytes per grain-table entry on disk
)

// Layout describes the grain directory/grain table geometry derived from
// a header, and holds the in-memory index while writing or reading.
//
// GT is kept as native-endian uint32 in memory so parallel writers can
// update entries with atomic.StoreUint32 without touching byte order;
// little-endian serialization happens once, when the tables are flushed.
type Layout struct {
	GrainSectors  uint64
	NumGTEsPerGT  uint32
	Capacity      uint64 // sectors
	NumGTs        uint32 // number of grain tables (== len(GD))
	GTEs          uint64 // total addressable grains (NumGTs * NumGTEsPerGT)
	GDSectors     uint64 // sectors occupied by the grain directory
	GTSectors     uint64 // sectors occupied by one grain table
	GD            []uint32
	GT            []uint32 // NumGTs*NumGTEsPerGT entries, table i at GT[i*NumGTEsPerGT:]
}

// NewLayout computes grain-directory/grain-table geometry for a disk of
// the given capacity (in sectors), validating grainSectors and
// numGTEsPerGT against the constraints this package enforces.
func NewLayout(capacitySectors uint64, grainSectors uint64, numGTEsPerGT uint32) (*Layout, error) {
	if grainSectors == 0 || grainSectors&(grainSectors-1) != 0 {
		return nil, fmt.Errorf("grain size %d is not a power of two: %w", grainSectors, ErrInvalidGeometry)
	}
	if grainSectors > DefaultGrainSectors {
		return nil, fmt.Errorf("grain size %d exceeds %d sectors: %w", grainSectors, DefaultGrainSectors, ErrInvalidGeometry)
	}
	if numGTEsPerGT == 0 || numGTEsPerGT&(numGTEsPerGT-1) != 0 {
		return nil, fmt.Errorf("numGTEsPerGT %d is not a power of two: %w", numGTEsPerGT, ErrInvalidGeometry)
	}
	if numGTEsPerGT < 128 {
		return nil, fmt.Errorf("numGTEsPerGT %d is below 128: %w", numGTEsPerGT, ErrInvalidGeometry)
	}
	if capacitySectors == 0 {
		return nil, fmt.Errorf("capacity must be nonzero: %w", ErrInvalidGeometry)
	}

	grainsPerTable := uint64(numGTEsPerGT)
	sectorsPerTable := grainsPerTable * gteSize / SectorSize
	if sectorsPerTable == 0 {
		sectorsPerTable = 1
	}

	numGrains := (capacitySectors + grainSectors - 1) / grainSectors
	numGTs := (numGrains + grainsPerTable - 1) / grainsPerTable
	if numGTs == 0 {
		numGTs = 1
	}

	gdSectors := (numGTs*gteSize + SectorSize - 1) / SectorSize

	l := &Layout{
		GrainSectors: grainSectors,
		NumGTEsPerGT: numGTEsPerGT,
		Capacity:     capacitySectors,
		NumGTs:       uint32(numGTs),
		GTEs:         numGTs * grainsPerTable,
		GDSectors:    gdSectors,
		GTSectors:    sectorsPerTable,
		GD:           make([]uint32, numGTs),
		GT:           make([]uint32, numGTs*grainsPerTable),
	}
	return l, nil
}

// GrainSizeBytes is the size, in bytes, of one grain's uncompressed data.
func (l *Layout) GrainSizeBytes() uint64 {
	return l.GrainSectors * SectorSize
}

// GrainForOffset returns the grain index covering byte offset off.
func (l *Layout) GrainForOffset(off uint64) uint64 {
	return off / l.GrainSizeBytes()
}

// TableForGrain returns the grain-table (== grain-directory) index that
// owns grain nr, and nr's offset within that table.
func (l *Layout) TableForGrain(nr uint64) (tableIdx uint32, entryIdx uint32) {
	perTable := uint64(l.NumGTEsPerGT)
	return uint32(nr / perTable), uint32(nr % perTable)
}

// GrainTableSectors is the sectors occupied by a single grain table,
// rounded up, as prefillGD lays them out contiguously after the
// directory.
func (l *Layout) GrainTableSectors() uint64 {
	perTable := uint64(l.NumGTEsPerGT)
	sectors := (perTable*gteSize + SectorSize - 1) / SectorSize
	if sectors == 0 {
		return 1
	}
	return sectors
}

// PrefillGD lays out the grain directory and grain tables starting at
// startSector, filling GD with each table's starting sector and
// returning the first sector after the last grain table — where grain
// data begins. Mirrors sparse.c's prefillGD.
func (l *Layout) PrefillGD(startSector uint64) uint64 {
	gtSectors := l.GrainTableSectors()
	pos := startSector + l.GDSectors
	for i := range l.GD {
		l.GD[i] = uint32(pos)
		pos += gtSectors
	}
	return pos
}

// EncodeGD serializes the grain directory to little-endian bytes,
// padded up to a whole number of sectors.
func (l *Layout) EncodeGD() []byte {
	return encodeUint32Table(l.GD, l.GDSectors*SectorSize)
}

// EncodeGT serializes one grain table to little-endian bytes, padded up
// to a whole number of sectors.
func (l *Layout) EncodeGT(tableIdx uint32) []byte {
	perTable := uint64(l.NumGTEsPerGT)
	start := uint64(tableIdx) * perTable
	entries := l.GT[start : start+perTable]
	return encodeUint32Table(entries, l.GrainTableSectors()*SectorSize)
}

func encodeUint32Table(entries []uint32, paddedSize uint64) []byte {
	b := make([]byte, paddedSize)
	for i, v := range entries {
		putUint32LE(b[i*gteSize:i*gteSize+gteSize], v)
	}
	return b
}

// DecodeGD parses a little-endian grain directory out of buf into GD.
func (l *Layout) DecodeGD(buf []byte) {
	for i := range l.GD {
		l.GD[i] = getUint32LE(buf[i*gteSize : i*gteSize+gteSize])
	}
}

// DecodeGT parses a little-endian grain table out of buf into the GT
// slot for tableIdx.
func (l *Layout) DecodeGT(tableIdx uint32, buf []byte) {
	perTable := uint64(l.NumGTEsPerGT)
	start := uint64(tableIdx) * perTable
	for i := uint64(0); i < perTable; i++ {
		l.GT[start+i] = getUint32LE(buf[i*gteSize : i*gteSize+gteSize])
	}
}
