package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// compressBound approximates deflate's worst-case expansion. klauspost's
// flate package has no equivalent of zlib's deflateBound, so this is a
// documented safety margin rather than an exact bound: stored blocks
// expand uncompressible input by roughly 0.4%, plus block framing
// overhead, plus room for the frame header.
func compressBound(grainBytes int) int {
	return grainBytes + grainBytes/100 + 4096 + frameHeaderSize
}

// grainCodec holds the persistent compressor/decompressor state a
// sequential Writer or Reader reuses across grains, avoiding an
// allocation per grain.
type grainCodec struct {
	level     int
	deflate   *flate.Writer
	deflateOf *bytes.Buffer
	inflate   io.ReadCloser
	inflateOf *bytes.Reader
}

func newGrainCodec(level int) (*grainCodec, error) {
	buf := new(bytes.Buffer)
	fw, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, fmt.Errorf("initializing deflate writer: %w", ErrCodecFailure)
	}
	return &grainCodec{level: level, deflate: fw, deflateOf: buf}, nil
}

// compress deflates src, returning a slice valid until the next call.
func (c *grainCodec) compress(src []byte) ([]byte, error) {
	c.deflateOf.Reset()
	c.deflate.Reset(c.deflateOf)
	if _, err := c.deflate.Write(src); err != nil {
		return nil, fmt.Errorf("deflating grain: %w", ErrCodecFailure)
	}
	if err := c.deflate.Close(); err != nil {
		return nil, fmt.Errorf("finishing deflate stream: %w", ErrCodecFailure)
	}
	return c.deflateOf.Bytes(), nil
}

// decompress inflates src into dst, failing if fewer than minLen bytes
// result.
func (c *grainCodec) decompress(src []byte, dst []byte, minLen int) (int, error) {
	if c.inflateOf == nil {
		c.inflateOf = bytes.NewReader(src)
		c.inflate = flate.NewReader(c.inflateOf)
	} else {
		c.inflateOf.Reset(src)
		if err := c.inflate.(flate.Resetter).Reset(c.inflateOf, nil); err != nil {
			return 0, fmt.Errorf("resetting inflate stream: %w", ErrCodecFailure)
		}
	}
	n, err := io.ReadFull(c.inflate, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, fmt.Errorf("inflating grain: %w", ErrCodecFailure)
	}
	if n < minLen {
		return n, fmt.Errorf("inflated %d bytes, want at least %d: %w", n, minLen, ErrCodecFailure)
	}
	return n, nil
}
