package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"os"

	"github.com/pianomanx/open-vmdk/pkg/elog"
)

// ReaderOptions configures Open.
type ReaderOptions struct {
	Logger elog.Logger
}

// Reader answers random-offset reads against a stream-optimized sparse
// VMDK and enumerates its allocated regions. Not safe for concurrent
// use; callers serialize their own calls.
type Reader struct {
	f      *os.File
	logger elog.Logger

	header *Header
	layout *Layout
	codec  *grainCodec

	lastGrainNr        uint64
	lastGrainSizeBytes uint64

	grainScratch []byte
	frameBuf     []byte

	closed bool
}

// Open opens path read-only, validates its header, and loads the grain
// directory and tables into memory.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = elog.Nop
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, ErrIoRead)
	}

	var hdrBuf [SectorSize]byte
	if _, err := f.ReadAt(hdrBuf[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header of %s: %w", path, ErrIoRead)
	}
	header, err := ParseHeader(hdrBuf[:])
	if err != nil {
		f.Close()
		return nil, err
	}

	layout, err := NewLayout(header.Capacity, header.GrainSize, header.NumGTEsPerGT)
	if err != nil {
		f.Close()
		return nil, err
	}

	var gdBuf []byte = make([]byte, layout.GDSectors*SectorSize)
	if _, err := f.ReadAt(gdBuf, int64(header.GDOffset*SectorSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading grain directory of %s: %w", path, ErrIoRead)
	}
	layout.DecodeGD(gdBuf)

	if err := loadGrainTables(f, layout); err != nil {
		f.Close()
		return nil, err
	}

	codec, err := newGrainCodec(0)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &Reader{
		f:            f,
		logger:       logger,
		header:       header,
		layout:       layout,
		codec:        codec,
		grainScratch: make([]byte, layout.GrainSizeBytes()),
		frameBuf:     make([]byte, (layout.GrainSectors+1)*SectorSize),
	}
	r.lastGrainNr = header.Capacity / layout.GrainSectors
	r.lastGrainSizeBytes = (header.Capacity % layout.GrainSectors) * SectorSize

	if text, err := r.readDescriptor(); err == nil {
		if n, ok := descriptorCapacity(text); ok && n != header.Capacity {
			logger.Warnf("%s: descriptor capacity %d sectors disagrees with header capacity %d sectors", path, n, header.Capacity)
		}
	}

	return r, nil
}

// loadGrainTables reads every grain table named by a nonzero directory
// entry, coalescing physically-adjacent table reads into single
// syscalls.
func loadGrainTables(f *os.File, layout *Layout) error {
	tableBytes := layout.GrainTableSectors() * SectorSize
	raw := make([]byte, uint64(layout.NumGTs)*tableBytes)

	p := newCoalescedPreader(f, raw)
	present := make([]bool, layout.NumGTs)
	for i, sector := range layout.GD {
		if sector == 0 {
			continue
		}
		present[i] = true
		fileOff := int64(sector) * SectorSize
		destOff := int64(i) * int64(tableBytes)
		if err := p.append(fileOff, destOff, int64(tableBytes)); err != nil {
			return err
		}
	}
	if err := p.Flush(); err != nil {
		return err
	}

	for i := range layout.GD {
		if present[i] {
			layout.DecodeGT(uint32(i), raw[uint64(i)*tableBytes:uint64(i+1)*tableBytes])
		}
	}
	return nil
}

func (r *Reader) readDescriptor() (string, error) {
	buf := make([]byte, r.header.DescriptorSize*SectorSize)
	if _, err := r.f.ReadAt(buf, int64(r.header.DescriptorOffset*SectorSize)); err != nil {
		return "", fmt.Errorf("reading descriptor: %w", ErrIoRead)
	}
	n := len(buf)
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	return string(buf[:n]), nil
}

// Capacity is the disk's logical size in bytes.
func (r *Reader) Capacity() uint64 {
	return r.header.Capacity * SectorSize
}

func (r *Reader) grainEffectiveLen(nr uint64) int {
	switch {
	case nr < r.lastGrainNr:
		return int(r.layout.GrainSizeBytes())
	case nr == r.lastGrainNr:
		return int(r.lastGrainSizeBytes)
	default:
		return 0
	}
}

func (r *Reader) lastValidByte() uint64 {
	return r.lastGrainNr*r.layout.GrainSizeBytes() + r.lastGrainSizeBytes
}

// NextData advances (pos, end) to describe the next allocated (non-hole)
// run at or after end, scanning the grain table in grain-number order.
// Returns ErrNoMoreData if no allocated grain remains.
func (r *Reader) NextData(pos, end uint64) (uint64, uint64, error) {
	grainBytes := r.layout.GrainSizeBytes()
	i := end / grainBytes
	subOffset := end % grainBytes

	var newPos uint64
	found := false
	first := true
	for ; i < r.layout.GTEs; i++ {
		if r.layout.GT[i] != 0 {
			if first {
				newPos = i*grainBytes + subOffset
			} else {
				newPos = i * grainBytes
			}
			found = true
			break
		}
		first = false
	}
	if !found {
		return pos, end, fmt.Errorf("no allocated grain at or after %d: %w", end, ErrNoMoreData)
	}

	newEnd := r.lastValidByte()
	for j := i; j < r.layout.GTEs; j++ {
		if r.layout.GT[j] == 0 {
			newEnd = j * grainBytes
			break
		}
	}

	return newPos, newEnd, nil
}

// Pread reads len(buf) bytes starting at byte offset pos, decompressing
// and zero-filling holes as needed.
func (r *Reader) Pread(buf []byte, pos uint64) (int, error) {
	grainBytes := r.layout.GrainSizeBytes()
	total := len(buf)
	off := pos
	consumed := 0

	for consumed < total {
		grainNr := off / grainBytes
		inGrainOff := int(off % grainBytes)
		effLen := r.grainEffectiveLen(grainNr)
		if effLen == 0 || inGrainOff >= effLen {
			return consumed, fmt.Errorf("read at %d exceeds capacity: %w", off, ErrOutOfRange)
		}

		readLen := total - consumed
		if room := effLen - inGrainOff; readLen > room {
			readLen = room
		}
		dst := buf[consumed : consumed+readLen]

		sect := r.layout.GT[grainNr]
		switch sect {
		case 0, 1:
			zero(dst)
		default:
			if err := r.readGrainInto(dst, grainNr, sect, inGrainOff, effLen); err != nil {
				return consumed, err
			}
		}

		consumed += readLen
		off += uint64(readLen)
	}

	return consumed, nil
}

func (r *Reader) readGrainInto(dst []byte, grainNr uint64, sect uint32, inGrainOff, effLen int) error {
	if r.header.Flags&FlagCompressed == 0 {
		if _, err := r.f.ReadAt(dst, int64(sect)*SectorSize+int64(inGrainOff)); err != nil {
			return fmt.Errorf("reading uncompressed grain %d: %w", grainNr, ErrIoRead)
		}
		return nil
	}

	hdrLen := 4
	if r.header.Flags&FlagEmbeddedLBA != 0 {
		hdrLen = frameHeaderSize
	}

	var first [SectorSize]byte
	if _, err := r.f.ReadAt(first[:], int64(sect)*SectorSize); err != nil {
		return fmt.Errorf("reading grain %d frame header: %w", grainNr, ErrIoRead)
	}

	var cmpSize uint32
	if hdrLen == frameHeaderSize {
		lba, sz := decodeFrameHeader(first[:])
		if lba != grainNr*r.layout.GrainSectors {
			return fmt.Errorf("grain %d frame lba %d != expected %d: %w", grainNr, lba, grainNr*r.layout.GrainSectors, ErrFrameCorrupt)
		}
		cmpSize = sz
	} else {
		cmpSize = getUint32LE(first[0:4])
	}

	readBufCap := len(r.frameBuf) - hdrLen
	if int(cmpSize) > readBufCap {
		return fmt.Errorf("grain %d cmpSize %d exceeds scratch capacity %d: %w", grainNr, cmpSize, readBufCap, ErrFrameCorrupt)
	}

	frameTotal := hdrLen + int(cmpSize)
	paddedLen := int(sectorsFor(frameTotal)) * SectorSize
	frame := r.frameBuf[:paddedLen]
	copy(frame[:SectorSize], first[:])
	if paddedLen > SectorSize {
		if _, err := r.f.ReadAt(frame[SectorSize:], int64(sect)*SectorSize+SectorSize); err != nil {
			return fmt.Errorf("reading grain %d frame tail: %w", grainNr, ErrIoRead)
		}
	}

	payload := frame[hdrLen : hdrLen+int(cmpSize)]
	if _, err := r.codec.decompress(payload, r.grainScratch[:effLen], effLen); err != nil {
		return err
	}
	copy(dst, r.grainScratch[inGrainOff:inGrainOff+len(dst)])
	return nil
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("closing reader: %w", ErrIoRead)
	}
	return nil
}
