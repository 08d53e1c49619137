package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDisk is a fixed in-memory SourceDisk for exercising the parallel
// copy engine without a real block device.
type memDisk struct {
	data []byte
}

func (m *memDisk) Capacity() uint64 { return uint64(len(m.data)) }

func (m *memDisk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at %d", off)
	}
	return n, nil
}

func pseudoRandomDisk(size int, seed int64) *memDisk {
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, size)
	grain := 64 * 1024
	// Leave some grains all-zero so the elision/nonzero-set assertions
	// below are meaningful, instead of every grain being allocated.
	for g := 0; g*grain < size; g++ {
		if g%3 == 0 {
			continue
		}
		end := (g + 1) * grain
		if end > size {
			end = size
		}
		rng.Read(data[g*grain : end])
	}
	return &memDisk{data: data}
}

func TestParallelCopyEquivalence(t *testing.T) {
	const size = 16 << 20
	src := pseudoRandomDisk(size, 42)

	path := filepath.Join(t.TempDir(), "copy.vmdk")
	w, err := Create(path, uint64(size), CreateOptions{})
	require.NoError(t, err)

	n, err := w.Copy(src, CopyOptions{Threads: 4})
	require.NoError(t, err)
	assert.EqualValues(t, size, n)
	require.NoError(t, w.Close())

	r, err := Open(path, ReaderOptions{})
	require.NoError(t, err)
	defer r.Close()

	out := make([]byte, size)
	_, err = r.Pread(out, 0)
	require.NoError(t, err)
	assert.Equal(t, src.data, out)

	grain := 64 * 1024
	for g := 0; g*grain < size; g++ {
		end := (g + 1) * grain
		if end > size {
			end = size
		}
		wantPresent := !isAllZero(src.data[g*grain : end])
		gotPresent := r.layout.GT[g] != 0
		assert.Equal(t, wantPresent, gotPresent, "grain %d presence mismatch", g)
	}
}

func TestParallelCopyRejectsUndersizedSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.vmdk")
	w, err := Create(path, 1<<20, CreateOptions{})
	require.NoError(t, err)
	defer w.Abort()

	src := &memDisk{data: make([]byte, 1024)}
	_, err = w.Copy(src, CopyOptions{Threads: 2})
	assert.Error(t, err)
}
