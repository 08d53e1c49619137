package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"io"
)

// coalescedPreader batches physically-adjacent pread requests against
// one io.ReaderAt into a single syscall. Used by Reader.Open to load the
// grain directory's tables without issuing one pread per table.
//
// append assumes callers hand it requests in increasing file-offset
// order (Open walks the grain directory in order), so it only ever needs
// to track a single pending run. Callers identify each request's
// destination by its offset within a shared backing buffer (destOff)
// rather than by slice identity, so no pointer comparison is needed.
type coalescedPreader struct {
	src io.ReaderAt
	dst []byte

	pending    bool
	pendingOff int64 // file offset
	pendingLen int64
	destOff    int64 // offset into dst
}

func newCoalescedPreader(src io.ReaderAt, dst []byte) *coalescedPreader {
	return &coalescedPreader{src: src, dst: dst}
}

// append schedules a read of n bytes at file offset fileOff into
// dst[destOff:destOff+n]. If contiguous with the pending run it merely
// extends it; otherwise the pending run is flushed first.
func (p *coalescedPreader) append(fileOff, destOff, n int64) error {
	if p.pending && fileOff == p.pendingOff+p.pendingLen && destOff == p.destOff+p.pendingLen {
		p.pendingLen += n
		return nil
	}
	if err := p.Flush(); err != nil {
		return err
	}
	p.pending = true
	p.pendingOff = fileOff
	p.pendingLen = n
	p.destOff = destOff
	return nil
}

// Flush issues the pending pread, if any.
func (p *coalescedPreader) Flush() error {
	if !p.pending {
		return nil
	}
	n, err := p.src.ReadAt(p.dst[p.destOff:p.destOff+p.pendingLen], p.pendingOff)
	p.pending = false
	if err != nil || int64(n) != p.pendingLen {
		return fmt.Errorf("coalesced read at %d (%d bytes): %w", p.pendingOff, p.pendingLen, ErrIoRead)
	}
	return nil
}
