package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pianomanx/open-vmdk/pkg/elog"
)

const descriptorReservedSectors = 20

// noBuffer is the bufferNr sentinel meaning "no grain currently
// buffered".
const noBuffer = ^uint64(0)

// CreateOptions configures Create. Modeled as a constructor-argument
// struct rather than functional options, matching this codebase's other
// entry points.
type CreateOptions struct {
	// CompressionLevel is passed to the deflate writer (1-9, or
	// flate.DefaultCompression/flate.BestSpeed/flate.BestCompression).
	CompressionLevel int

	Logger   elog.Logger
	Progress elog.ProgressReporter
}

// Writer produces a stream-optimized sparse VMDK. The sequential API
// (Pwrite, Copy, Close, Abort) is not safe for concurrent use; callers
// serialize their own calls, though Copy internally parallelizes across
// the source disk.
type Writer struct {
	f    *os.File
	path string

	logger   elog.Logger
	progress elog.ProgressReporter

	header Header
	layout *Layout
	codec  *grainCodec

	grainBuf []byte
	cmpBuf   []byte

	bufferNr   uint64
	validStart int
	validEnd   int

	curSP uint64

	lastGrainNr        uint64
	lastGrainSizeBytes uint64

	closed bool
}

// Create creates (truncating any existing file) a sparse VMDK of the
// given capacity in bytes, which must be a multiple of SectorSize.
func Create(path string, capacityBytes uint64, opts CreateOptions) (*Writer, error) {
	if capacityBytes == 0 || capacityBytes%SectorSize != 0 {
		return nil, fmt.Errorf("capacity %d is not a nonzero multiple of %d: %w", capacityBytes, SectorSize, ErrInvalidGeometry)
	}
	capacitySectors := capacityBytes / SectorSize

	layout, err := NewLayout(capacitySectors, DefaultGrainSectors, DefaultNumGTEsPerGT)
	if err != nil {
		return nil, err
	}

	codec, err := newGrainCodec(opts.CompressionLevel)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = elog.Nop
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, ErrIoWrite)
	}

	w := &Writer{
		f:        f,
		path:     path,
		logger:   logger,
		progress: opts.Progress,
		layout:   layout,
		codec:    codec,
		grainBuf: make([]byte, layout.GrainSizeBytes()),
		cmpBuf:   make([]byte, compressBound(int(layout.GrainSizeBytes()))),
		bufferNr: noBuffer,
	}

	w.lastGrainNr = capacitySectors / layout.GrainSectors
	w.lastGrainSizeBytes = (capacitySectors % layout.GrainSectors) * SectorSize

	gdStart := uint64(1 + descriptorReservedSectors)
	overHead := layout.PrefillGD(gdStart)

	w.header = Header{
		Version:           1,
		Flags:             FlagValidNewlineDetector | FlagCompressed | FlagEmbeddedLBA,
		Capacity:          capacitySectors,
		GrainSize:         layout.GrainSectors,
		DescriptorOffset:  1,
		DescriptorSize:    descriptorReservedSectors,
		NumGTEsPerGT:      layout.NumGTEsPerGT,
		RGDOffset:         0,
		GDOffset:          gdStart,
		OverHead:          overHead,
		UncleanShutdown:   0,
		CompressAlgorithm: CompressAlgorithmDeflate,
	}
	w.curSP = overHead

	if err := f.Truncate(int64(overHead * SectorSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing %s: %w", path, ErrIoWrite)
	}
	if _, err := f.WriteAt(w.header.Encode(true), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing provisional header: %w", ErrIoWrite)
	}

	logger.Debugf("created %s: capacity=%d sectors, %d grain tables, overhead=%d sectors", path, capacitySectors, layout.NumGTs, overHead)

	return w, nil
}

// grainEffectiveLen is the natural (unpadded) length, in bytes, of grain
// nr: a full grain below the last grain, the trailing partial length at
// the last grain, or zero past the end of the disk.
func (w *Writer) grainEffectiveLen(nr uint64) int {
	switch {
	case nr < w.lastGrainNr:
		return int(w.layout.GrainSizeBytes())
	case nr == w.lastGrainNr:
		return int(w.lastGrainSizeBytes)
	default:
		return 0
	}
}

// Pwrite writes buf at byte offset pos, buffering and flushing whole
// grains as described by the grain writer's state machine. Grains must
// be written in non-overlapping fashion; writing any byte of an
// already-flushed grain is reported as ErrOverwriteForbidden when that
// grain is next filled or flushed (by a later Pwrite or by Close), not by
// the Pwrite call that buffers the byte.
func (w *Writer) Pwrite(buf []byte, pos uint64) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("writer closed: %w", ErrIoWrite)
	}

	grainBytes := w.layout.GrainSizeBytes()
	total := len(buf)
	off := pos
	consumed := 0

	for consumed < total {
		grainNr := off / grainBytes
		if grainNr >= w.layout.GTEs || off >= w.header.Capacity*SectorSize {
			return consumed, fmt.Errorf("write at %d exceeds capacity: %w", off, ErrOutOfRange)
		}

		updateStart := int(off % grainBytes)
		if grainNr != w.bufferNr {
			if err := w.flush(); err != nil {
				return consumed, err
			}
			w.bufferNr = grainNr
			w.validStart = 0
			w.validEnd = 0
		}

		updateLen := total - consumed
		// Bound by the grain's effective (unpadded) length, not its
		// full buffer capacity, so a write that runs past the disk's
		// true capacity inside the last grain is caught below rather
		// than silently buffered.
		if room := w.grainEffectiveLen(grainNr) - updateStart; updateLen > room {
			updateLen = room
		}
		updateEnd := updateStart + updateLen

		if w.validEnd > 0 && (updateEnd < w.validStart || updateStart > w.validEnd) {
			if err := w.fill(); err != nil {
				return consumed, err
			}
		}

		copy(w.grainBuf[updateStart:updateEnd], buf[consumed:consumed+updateLen])
		if w.validEnd == 0 && w.validStart == 0 {
			w.validStart = updateStart
		} else if updateStart < w.validStart {
			w.validStart = updateStart
		}
		if updateEnd > w.validEnd {
			w.validEnd = updateEnd
		}

		consumed += updateLen
		off += uint64(updateLen)
	}

	return consumed, nil
}

// fill zero-fills the buffered grain's unwritten gaps so [0, length) is
// entirely valid, where length is the grain's effective (unpadded)
// length. Fails if the grain's table entry is already set, since that
// would require an unsupported read-modify-write.
func (w *Writer) fill() error {
	tIdx, eIdx := w.layout.TableForGrain(w.bufferNr)
	if w.layout.GT[uint64(tIdx)*uint64(w.layout.NumGTEsPerGT)+uint64(eIdx)] != 0 {
		return fmt.Errorf("grain %d already written: %w", w.bufferNr, ErrOverwriteForbidden)
	}

	length := w.grainEffectiveLen(w.bufferNr)
	if length == 0 {
		return fmt.Errorf("grain %d is past the end of the disk: %w", w.bufferNr, ErrOutOfRange)
	}

	if w.validEnd == 0 && w.validStart == 0 {
		zero(w.grainBuf[0:length])
	} else {
		zero(w.grainBuf[0:w.validStart])
		zero(w.grainBuf[w.validEnd:length])
	}
	w.validStart = 0
	w.validEnd = length
	return nil
}

// flush compresses and appends the buffered grain, if any, eliding it
// entirely when it is all-zero.
func (w *Writer) flush() error {
	if w.bufferNr == noBuffer || w.validEnd == 0 {
		w.bufferNr = noBuffer
		return nil
	}
	if err := w.fill(); err != nil {
		return err
	}

	length := w.grainEffectiveLen(w.bufferNr)
	if !isAllZero(w.grainBuf[:length]) {
		if err := w.writeGrain(w.bufferNr, w.grainBuf[:length]); err != nil {
			return err
		}
	}

	w.bufferNr = noBuffer
	w.validStart = 0
	w.validEnd = 0
	return nil
}

// writeGrain compresses data and appends its framed, sector-padded
// form at the writer's current sector cursor, recording the grain
// table entry.
func (w *Writer) writeGrain(grainNr uint64, data []byte) error {
	compressed, err := w.codec.compress(data)
	if err != nil {
		return err
	}

	frameLen := paddedFrameSize(len(compressed))
	if int(frameLen) > len(w.cmpBuf) {
		return fmt.Errorf("compressed grain %d too large for scratch buffer: %w", grainNr, ErrResourceExhausted)
	}
	frame := w.cmpBuf[:frameLen]
	zero(frame)
	encodeFrameHeader(frame, grainNr*w.layout.GrainSectors, uint32(len(compressed)))
	copy(frame[frameHeaderSize:], compressed)

	sp := w.curSP
	if _, err := w.f.WriteAt(frame, int64(sp*SectorSize)); err != nil {
		return fmt.Errorf("writing grain %d frame: %w", grainNr, ErrIoWrite)
	}

	tIdx, eIdx := w.layout.TableForGrain(grainNr)
	w.layout.GT[uint64(tIdx)*uint64(w.layout.NumGTEsPerGT)+uint64(eIdx)] = uint32(sp)
	w.curSP += frameLen / SectorSize

	return nil
}

// Close finalizes the file: flush the pending grain, write the
// end-of-stream marker, the grain directory and tables, the descriptor,
// then commit the header in two phases (provisional, then final) with
// an fsync after each. On any failure the file is left with lowercase
// or missing magic and Close internally aborts.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	if err := w.closeSequence(); err != nil {
		w.Abort()
		return err
	}

	w.closed = true
	return w.f.Close()
}

func (w *Writer) closeSequence() error {
	if err := w.flush(); err != nil {
		return err
	}

	if _, err := w.f.WriteAt(encodeEOSMarker(), int64(w.curSP*SectorSize)); err != nil {
		return fmt.Errorf("writing EOS marker: %w", ErrIoWrite)
	}
	w.curSP++

	dirBlock := w.layout.EncodeGD()
	for i := uint32(0); i < w.layout.NumGTs; i++ {
		dirBlock = append(dirBlock, w.layout.EncodeGT(i)...)
	}
	if _, err := w.f.WriteAt(dirBlock, int64(w.header.GDOffset*SectorSize)); err != nil {
		return fmt.Errorf("writing grain directory/tables: %w", ErrIoWrite)
	}

	id := w.randomIdentity()

	extentName := filepath.Base(w.path)
	desc := BuildDescriptor(id, w.header.Capacity, extentName)
	if uint64(len(desc)) > w.header.DescriptorSize*SectorSize {
		return fmt.Errorf("descriptor of %d bytes exceeds reserved %d bytes: %w", len(desc), w.header.DescriptorSize*SectorSize, ErrResourceExhausted)
	}
	if _, err := w.f.WriteAt([]byte(desc), int64(w.header.DescriptorOffset*SectorSize)); err != nil {
		return fmt.Errorf("writing descriptor: %w", ErrIoWrite)
	}

	if _, err := w.f.WriteAt(w.header.Encode(true), 0); err != nil {
		return fmt.Errorf("writing provisional header: %w", ErrIoWrite)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing provisional header: %w", ErrIoWrite)
	}

	if _, err := w.f.WriteAt(w.header.Encode(false), 0); err != nil {
		return fmt.Errorf("writing final header: %w", ErrIoWrite)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing final header: %w", ErrIoWrite)
	}

	w.logger.Debugf("%s: closed, %d sectors used", w.path, w.curSP)
	return nil
}

// randomIdentity picks a CID (excluding the two reserved all-ones
// values) and the three extra random words the descriptor's
// longContentID field carries. Process-scoped randomness is isolated
// here so tests can substitute a seeded source by constructing a Writer
// directly and calling BuildDescriptor themselves.
func (w *Writer) randomIdentity() DescriptorIdentity {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	cid := rng.Uint32()
	for cid == 0xFFFFFFFF || cid == 0xFFFFFFFE {
		cid = rng.Uint32()
	}
	return DescriptorIdentity{
		CID:     cid,
		Random1: rng.Uint32(),
		Random2: rng.Uint32(),
		Random3: rng.Uint32(),
	}
}

// Abort releases the writer's resources without finalizing the header,
// leaving the file on disk in a state the reader recognizes as invalid.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.f.Close()
}

func isAllZero(b []byte) bool {
	n := len(b)
	i := 0
	for ; i+8 <= n; i += 8 {
		if getUint64LE(b[i:i+8]) != 0 {
			return false
		}
	}
	for ; i < n; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
