package bgzf

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTrip(t *testing.T) {
	// Lengths straddling the block boundary.
	for _, length := range []int{0, 1, 100, BlockSize - 1, BlockSize, BlockSize + 1, 500000} {
		rng := rand.New(rand.NewSource(int64(length)))
		input := make([]byte, length)
		_, err := rng.Read(input)
		require.NoError(t, err)

		var buf bytes.Buffer
		w, err := NewWriter(&buf, gzip.DefaultCompression)
		require.NoError(t, err)
		n, err := w.Write(input)
		require.NoError(t, err)
		assert.Equal(t, length, n)
		require.NoError(t, w.Close())

		// The concatenated gzip members decompress to the original
		// payload through a plain gzip reader.
		r, err := gzip.NewReader(&buf)
		require.NoError(t, err)
		actual, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, input, actual, "length %d", length)
	}
}

func TestWriterTerminator(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, gzip.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	out := buf.Bytes()
	require.True(t, len(out) >= len(terminator))
	assert.Equal(t, terminator, out[len(out)-len(terminator):])
}

func TestWriterBlockSizes(t *testing.T) {
	input := make([]byte, 3*BlockSize+17)
	rng := rand.New(rand.NewSource(1))
	_, err := rng.Read(input)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, gzip.BestSpeed)
	require.NoError(t, err)
	// Scattered writes must not change the block layout.
	for i := 0; i < len(input); i += 1000 {
		end := i + 1000
		if end > len(input) {
			end = len(input)
		}
		_, err = w.Write(input[i:end])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	// Walk the blocks: every member's BC subfield must match its actual
	// compressed size, and payload sizes must not exceed BlockSize.
	b := buf.Bytes()
	numBlocks := 0
	for len(b) > 0 {
		require.True(t, len(b) > extraOffset+len(extra))
		assert.Equal(t, extraPrefix[:], b[extraOffset:extraOffset+len(extraPrefix)])
		bsize := int(b[extraOffset+4]) | int(b[extraOffset+5])<<8
		blockLen := bsize + 1
		require.True(t, blockLen <= len(b))

		r, err := gzip.NewReader(bytes.NewReader(b[:blockLen]))
		require.NoError(t, err)
		r.Multistream(false)
		payload, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.True(t, len(payload) <= BlockSize)
		b = b[blockLen:]
		numBlocks++
	}
	// Three full blocks, the straggler and the terminator.
	assert.Equal(t, 5, numBlocks)
}

func TestWriterLevelValidation(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(&buf, gzip.BestCompression+1)
	assert.Error(t, err)
	_, err = NewWriter(&buf, gzip.HuffmanOnly-1)
	assert.Error(t, err)
}
