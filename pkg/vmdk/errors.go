package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import "errors"

// Error kinds returned by this package. Wrapped errors carry context via
// fmt.Errorf("...: %w", ErrXxx); callers should match with errors.Is.
var (
	// ErrInvalidHeader covers bad magic, version, flag combinations, or
	// newline-detector bytes.
	ErrInvalidHeader = errors.New("vmdk: invalid header")

	// ErrInvalidGeometry covers grainSize/numGTEsPerGT outside their
	// constraints or not a power of two.
	ErrInvalidGeometry = errors.New("vmdk: invalid geometry")

	// ErrIoRead wraps a read syscall failure.
	ErrIoRead = errors.New("vmdk: read failed")

	// ErrIoWrite wraps a write syscall failure.
	ErrIoWrite = errors.New("vmdk: write failed")

	// ErrShortTransfer is reported distinctly from ErrIoRead/ErrIoWrite so
	// callers can tell "disk full" / truncated-source apart from outright
	// syscall errors.
	ErrShortTransfer = errors.New("vmdk: short transfer")

	// ErrCodecFailure covers deflate/inflate setup, reset, or finish
	// failures, or inflated output shorter than the expected grain size.
	ErrCodecFailure = errors.New("vmdk: codec failure")

	// ErrFrameCorrupt covers an embedded-LBA mismatch or a cmpSize that
	// exceeds the reader's scratch buffer.
	ErrFrameCorrupt = errors.New("vmdk: corrupt frame")

	// ErrOverwriteForbidden covers an attempt to rewrite a grain that
	// already has a nonzero grain-table entry.
	ErrOverwriteForbidden = errors.New("vmdk: overwrite forbidden")

	// ErrResourceExhausted covers allocation failure or an inability to
	// start a worker.
	ErrResourceExhausted = errors.New("vmdk: resource exhausted")

	// ErrOutOfRange covers a writer offset at or beyond the disk capacity.
	ErrOutOfRange = errors.New("vmdk: offset out of range")

	// ErrNoMoreData is returned by Reader.NextData once scanning has
	// passed the last allocated grain.
	ErrNoMoreData = errors.New("vmdk: no more data")
)
