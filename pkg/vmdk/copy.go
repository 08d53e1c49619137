package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pianomanx/open-vmdk/pkg/elog"
)

// SourceDisk is the collaborator contract the parallel copy engine
// consumes: a byte-addressed, concurrently-readable disk of known
// capacity. io.ReaderAt's existing contract — a short read is always an
// error, never a silent partial result — is exactly what §4.4 requires,
// so it's reused directly rather than wrapped in a new interface.
type SourceDisk interface {
	io.ReaderAt
	Capacity() uint64 // bytes
}

// CopyOptions configures Copy.
type CopyOptions struct {
	// Threads is the worker count. Values <= 0 are treated as 1.
	Threads int

	Logger   elog.Logger
	Progress elog.ProgressReporter
}

type copyState int32

const (
	copyRunning copyState = iota
	copyDone
	copyFailed
)

// copyContext is shared among copy workers. Three independent locks
// guard, respectively, the read cursor, the write cursor, and the
// failure state; each critical section does nothing beyond an integer
// update or a flag read. Grain-table entries are updated with a plain
// atomic store: distinct workers touch distinct indices, so no lock is
// needed there.
type copyContext struct {
	src        SourceDisk
	w          *Writer
	capacity   uint64
	grainBytes uint64

	readMu  sync.Mutex
	readPos uint64

	writeMu sync.Mutex
	writeSP uint64

	stateMu  sync.Mutex
	state    copyState
	firstErr error
}

func (c *copyContext) fail(err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != copyFailed {
		c.state = copyFailed
		c.firstErr = err
	}
}

func (c *copyContext) failed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == copyFailed
}

func (c *copyContext) markDone() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == copyRunning {
		c.state = copyDone
	}
}

// Copy drains src grain-by-grain across a pool of worker goroutines and
// appends compressed frames to w, running concurrently with itself but
// not with any other Writer method. Copy assumes w has no grains
// written yet.
func (w *Writer) Copy(src SourceDisk, opts CopyOptions) (uint64, error) {
	if w.closed {
		return 0, fmt.Errorf("writer closed: %w", ErrIoWrite)
	}
	if err := w.flush(); err != nil {
		return 0, err
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}

	capacity := w.header.Capacity * SectorSize
	if src.Capacity() < capacity {
		return 0, fmt.Errorf("source disk of %d bytes is smaller than destination capacity %d: %w", src.Capacity(), capacity, ErrInvalidGeometry)
	}

	ctx := &copyContext{
		src:        src,
		w:          w,
		capacity:   capacity,
		grainBytes: w.layout.GrainSizeBytes(),
		writeSP:    w.curSP,
	}

	logger := opts.Logger
	if logger == nil {
		logger = elog.Nop
	}

	var progress elog.Progress
	if opts.Progress != nil {
		progress = opts.Progress.NewProgress("copying", "bytes", int64(capacity))
	}

	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			copyWorker(ctx, progress)
		}()
	}
	wg.Wait()

	if ctx.failed() {
		if progress != nil {
			progress.Finish(false)
		}
		return 0, ctx.firstErr
	}

	w.curSP = ctx.writeSP
	if progress != nil {
		progress.Finish(true)
	}
	logger.Debugf("copied %d bytes across %d workers", capacity, threads)
	return capacity, nil
}

func copyWorker(ctx *copyContext, progress elog.Progress) {
	codec, err := newGrainCodec(ctx.w.codec.level)
	if err != nil {
		ctx.fail(err)
		return
	}
	buf := make([]byte, ctx.grainBytes)
	cmpBuf := make([]byte, compressBound(int(ctx.grainBytes)))

	for {
		ctx.readMu.Lock()
		if ctx.failed() {
			ctx.readMu.Unlock()
			return
		}
		if ctx.readPos >= ctx.capacity {
			ctx.markDone()
			ctx.readMu.Unlock()
			return
		}

		readLen := ctx.grainBytes
		if remaining := ctx.capacity - ctx.readPos; remaining < readLen {
			readLen = remaining
		}
		grainNr := ctx.readPos / ctx.grainBytes
		localPos := ctx.readPos
		ctx.readPos += readLen
		ctx.readMu.Unlock()

		n, err := ctx.src.ReadAt(buf[:readLen], int64(localPos))
		if err != nil || uint64(n) != readLen {
			ctx.fail(fmt.Errorf("reading source at %d: %w", localPos, ErrShortTransfer))
			return
		}

		if progress != nil {
			progress.Increment(int64(readLen))
		}

		if isAllZero(buf[:readLen]) {
			continue
		}

		compressed, err := codec.compress(buf[:readLen])
		if err != nil {
			ctx.fail(err)
			return
		}

		frameLen := paddedFrameSize(len(compressed))
		if int(frameLen) > len(cmpBuf) {
			ctx.fail(fmt.Errorf("compressed grain %d too large for scratch buffer: %w", grainNr, ErrResourceExhausted))
			return
		}
		frame := cmpBuf[:frameLen]
		zero(frame)
		encodeFrameHeader(frame, grainNr*ctx.w.layout.GrainSectors, uint32(len(compressed)))
		copy(frame[frameHeaderSize:], compressed)

		ctx.writeMu.Lock()
		sp := ctx.writeSP
		ctx.writeSP += frameLen / SectorSize
		ctx.writeMu.Unlock()

		if _, err := ctx.w.f.WriteAt(frame, int64(sp*SectorSize)); err != nil {
			ctx.fail(fmt.Errorf("writing grain %d frame: %w", grainNr, ErrIoWrite))
			return
		}

		tIdx, eIdx := ctx.w.layout.TableForGrain(grainNr)
		idx := uint64(tIdx)*uint64(ctx.w.layout.NumGTEsPerGT) + uint64(eIdx)
		atomic.StoreUint32(&ctx.w.layout.GT[idx], uint32(sp))
	}
}
