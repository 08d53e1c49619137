// Package vmdk reads and writes VMware's stream-optimized sparse virtual
// disk container format: a two-level grain-directory/grain-table index
// followed by deflate-compressed, sector-aligned grain data.
//
// Writer consumes a linear, sector-addressed byte stream (or an entire
// source disk, via the parallel copy engine) and produces a compressed,
// directory-indexed sparse file. Reader answers random-offset reads
// against such a file and enumerates its allocated regions.
//
// Parent-disk chains, redo logs, and uncompressed/non-embedded-LBA
// *writing* are out of scope; the writer always emits parentCID=ffffffff
// and compressed, embedded-LBA grains. The reader accepts uncompressed and
// non-embedded-LBA extents since those are legal to encounter in the wild.
package vmdk
