// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bgzf writes block-gzipped (.bgz) files.  A bgzf file is a
// sequence of complete gzip members, each holding at most 64KB of
// uncompressed payload and carrying the compressed block size in a gzip
// Extra subfield, followed by a fixed 28-byte empty-payload terminator
// block.  Because every block is an ordinary gzip member, the output is
// also readable by any plain gzip reader; the block structure exists so
// downstream tools can index and seek the file.
//
// Result tables written as .tsv.bgz use this writer so they stay
// greppable through zcat while remaining tabix-indexable.
package bgzf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// BlockSize is the uncompressed payload capacity of one bgzf block.
// The value leaves headroom below the 64KB format limit so that
// incompressible payloads still fit their block; it matches the size
// chosen by samtools and htslib.
const BlockSize = 0x0ff00

// maxCompressedSize bounds the compressed size of a single block, per
// the bgzf format.
const maxCompressedSize = 0x10000

var (
	// extra is the BC Extra subfield template; bytes 4 and 5 are
	// patched with the compressed block size minus one.
	extra       = [...]byte{66, 67, 2, 0, 0, 0}
	extraPrefix = [...]byte{66, 67, 2, 0}

	// terminator is the empty block every complete bgzf file ends with.
	terminator = []byte{
		0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
		0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// extraOffset is the file offset of the Extra subfield within a block
// written by this package (fixed-size gzip header, no name or comment).
const extraOffset = 12

// Writer compresses its input into bgzf blocks.  Close flushes the
// final partial block and appends the terminator; a Writer is not safe
// for concurrent use.
type Writer struct {
	w       io.Writer
	gz      *gzip.Writer // reset per block
	level   int
	pending bytes.Buffer // uncompressed bytes not yet forming a full block
	block   bytes.Buffer // compressed form of the block being emitted
}

// NewWriter returns a bgzf writer at the given gzip compression level.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("bgzf: unsupported compression level %d", level)
	}
	return &Writer{w: w, level: level}, nil
}

// Write buffers p into bgzf blocks, emitting each block as it fills.
func (w *Writer) Write(p []byte) (int, error) {
	for i := 0; i < len(p); {
		end := i + BlockSize - w.pending.Len()
		if end > len(p) {
			end = len(p)
		}
		n, _ := w.pending.Write(p[i:end])
		i += n
		if w.pending.Len() >= BlockSize {
			if err := w.emit(); err != nil {
				return i, err
			}
		}
	}
	return len(p), nil
}

// Close flushes any partial block and writes the bgzf terminator.  It
// does not close the underlying writer.
func (w *Writer) Close() error {
	if w.pending.Len() > 0 {
		if err := w.emit(); err != nil {
			return err
		}
	}
	_, err := w.w.Write(terminator)
	return err
}

// emit compresses the pending payload as one gzip member, patches the
// BC subfield with the compressed size, and writes the block out.
func (w *Writer) emit() error {
	w.block.Reset()
	if w.gz == nil {
		var err error
		if w.gz, err = gzip.NewWriterLevel(&w.block, w.level); err != nil {
			return err
		}
	} else {
		w.gz.Reset(&w.block)
	}
	w.gz.Header.Extra = append([]byte(nil), extra[:]...)
	w.gz.Header.OS = 0xff // unknown OS, per the format

	if _, err := w.gz.Write(w.pending.Next(BlockSize)); err != nil {
		return err
	}
	if err := w.gz.Close(); err != nil {
		return err
	}

	b := w.block.Bytes()
	bsize := w.block.Len() - 1
	if bsize >= maxCompressedSize {
		return fmt.Errorf("bgzf: compressed block size %d exceeds the %d-byte format limit", bsize, maxCompressedSize)
	}
	if len(b) < extraOffset+len(extra) || !bytes.Equal(b[extraOffset:extraOffset+len(extraPrefix)], extraPrefix[:]) {
		return fmt.Errorf("bgzf: gzip header is missing the BC subfield")
	}
	b[extraOffset+4] = byte(bsize)
	b[extraOffset+5] = byte(bsize >> 8)

	_, err := w.block.WriteTo(w.w)
	return err
}
