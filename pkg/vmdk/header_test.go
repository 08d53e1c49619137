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

func sampleHeader() *Header {
	return &Header{
		Version:           1,
		Flags:             FlagValidNewlineDetector | FlagCompressed | FlagEmbeddedLBA,
		Capacity:          2048,
		GrainSize:         128,
		DescriptorOffset:  1,
		DescriptorSize:    20,
		NumGTEsPerGT:      512,
		RGDOffset:         0,
		GDOffset:          21,
		OverHead:          22,
		UncleanShutdown:   0,
		CompressAlgorithm: CompressAlgorithmDeflate,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	buf := h.Encode(false)
	require.Len(t, buf, SectorSize)

	got, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h.Version, got.Version)
	assert.Equal(t, h.Flags, got.Flags)
	assert.Equal(t, h.Capacity, got.Capacity)
	assert.Equal(t, h.GrainSize, got.GrainSize)
	assert.Equal(t, h.DescriptorOffset, got.DescriptorOffset)
	assert.Equal(t, h.DescriptorSize, got.DescriptorSize)
	assert.Equal(t, h.NumGTEsPerGT, got.NumGTEsPerGT)
	assert.Equal(t, h.GDOffset, got.GDOffset)
	assert.Equal(t, h.OverHead, got.OverHead)
	assert.Equal(t, h.CompressAlgorithm, got.CompressAlgorithm)
	assert.Equal(t, MagicNumber, got.MagicNumber)
}

func TestHeaderProvisionalMagicIsLowercase(t *testing.T) {
	h := sampleHeader()
	buf := h.Encode(true)
	assert.Equal(t, MagicNumber^magicMask, getUint32LE(buf[0:4]))

	_, err := ParseHeader(buf)
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestHeaderWrongLength(t *testing.T) {
	_, err := ParseHeader(make([]byte, 100))
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestHeaderVersionTooHigh(t *testing.T) {
	h := sampleHeader()
	h.Version = maxVersion + 1
	_, err := ParseHeader(h.Encode(false))
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestHeaderUnrecognizedIncompatFlag(t *testing.T) {
	h := sampleHeader()
	h.Flags |= 0x40000000
	_, err := ParseHeader(h.Encode(false))
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestHeaderEmbeddedLBARequiresCompressed(t *testing.T) {
	h := sampleHeader()
	h.Flags = FlagValidNewlineDetector | FlagEmbeddedLBA
	_, err := ParseHeader(h.Encode(false))
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestHeaderBadNewlineBytes(t *testing.T) {
	h := sampleHeader()
	buf := h.Encode(false)
	buf[73] = 'x'
	_, err := ParseHeader(buf)
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestHeaderNewlineNotValidatedWhenFlagUnset(t *testing.T) {
	h := sampleHeader()
	h.Flags = FlagCompressed | FlagEmbeddedLBA
	buf := h.Encode(false)
	buf[73] = 'x'
	_, err := ParseHeader(buf)
	assert.NoError(t, err)
}
