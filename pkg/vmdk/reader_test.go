package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWellFormedDisk(t *testing.T, path string) {
	t.Helper()
	w, err := Create(path, 1<<20, CreateOptions{})
	require.NoError(t, err)
	_, err = w.Pwrite([]byte("corruption probe payload"), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestOpenRejectsLowercaseMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.vmdk")
	writeWellFormedDisk(t, path)

	raw, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	putUint32LE(raw[0:4], MagicNumber^magicMask)
	require.NoError(t, ioutil.WriteFile(path, raw, 0644))

	_, err = Open(path, ReaderOptions{})
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestPreadDetectsFrameLBAMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flipped.vmdk")
	writeWellFormedDisk(t, path)

	r, err := Open(path, ReaderOptions{})
	require.NoError(t, err)
	sect := r.layout.GT[0]
	require.NotZero(t, sect)
	require.NoError(t, r.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	var lba [8]byte
	_, err = f.ReadAt(lba[:], int64(sect)*SectorSize)
	require.NoError(t, err)
	putUint64LE(lba[:], getUint64LE(lba[:])+1)
	_, err = f.WriteAt(lba[:], int64(sect)*SectorSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r2, err := Open(path, ReaderOptions{})
	require.NoError(t, err)
	defer r2.Close()

	out := make([]byte, 16)
	_, err = r2.Pread(out, 0)
	assert.True(t, errors.Is(err, ErrFrameCorrupt))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.vmdk"), ReaderOptions{})
	assert.True(t, errors.Is(err, ErrIoRead))
}
