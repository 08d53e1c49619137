package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayoutBasic(t *testing.T) {
	// 1 MiB capacity = 2048 sectors, grain = 128 sectors -> 16 grains,
	// one grain table (512 entries) covers them all.
	l, err := NewLayout(2048, DefaultGrainSectors, DefaultNumGTEsPerGT)
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.NumGTs)
	assert.EqualValues(t, 512, l.GTEs)
	assert.Len(t, l.GD, 1)
	assert.Len(t, l.GT, 512)
}

func TestNewLayoutRejectsNonPow2GrainSize(t *testing.T) {
	_, err := NewLayout(2048, 100, DefaultNumGTEsPerGT)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
}

func TestNewLayoutRejectsZeroCapacity(t *testing.T) {
	_, err := NewLayout(0, DefaultGrainSectors, DefaultNumGTEsPerGT)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
}

func TestPrefillGDLaysOutContiguousTables(t *testing.T) {
	l, err := NewLayout(2048*3, DefaultGrainSectors, DefaultNumGTEsPerGT)
	require.NoError(t, err)
	next := l.PrefillGD(21)
	gtSectors := l.GrainTableSectors()
	for i, sector := range l.GD {
		assert.EqualValues(t, 21+l.GDSectors+uint64(i)*gtSectors, sector)
	}
	assert.EqualValues(t, 21+l.GDSectors+uint64(len(l.GD))*gtSectors, next)
}

func TestGrainDirectoryTableRoundTrip(t *testing.T) {
	l, err := NewLayout(2048*3, DefaultGrainSectors, DefaultNumGTEsPerGT)
	require.NoError(t, err)
	l.PrefillGD(21)
	for i := range l.GT {
		l.GT[i] = uint32(i * 7)
	}

	gdBytes := l.EncodeGD()
	gtBytes := make([][]byte, l.NumGTs)
	for i := uint32(0); i < l.NumGTs; i++ {
		gtBytes[i] = l.EncodeGT(i)
	}

	other, err := NewLayout(2048*3, DefaultGrainSectors, DefaultNumGTEsPerGT)
	require.NoError(t, err)
	other.DecodeGD(gdBytes)
	for i := uint32(0); i < l.NumGTs; i++ {
		other.DecodeGT(i, gtBytes[i])
	}

	assert.Equal(t, l.GD, other.GD)
	assert.Equal(t, l.GT, other.GT)
}

func TestTableForGrain(t *testing.T) {
	// 600 grains needs two 512-entry tables.
	l, err := NewLayout(DefaultGrainSectors*600, DefaultGrainSectors, DefaultNumGTEsPerGT)
	require.NoError(t, err)
	require.EqualValues(t, 2, l.NumGTs)
	tIdx, eIdx := l.TableForGrain(513)
	assert.EqualValues(t, 1, tIdx)
	assert.EqualValues(t, 1, eIdx)
}
