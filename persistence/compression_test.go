package persistence

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressibleData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 16)
	}

	return data
}

func incompressibleData(n int) []byte {
	rng := rand.New(rand.NewSource(1))

	data := make([]byte, n)
	rng.Read(data)

	return data
}

func TestCompressedBlockRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		compression CompressionType
		data        []byte
	}{
		{name: "lz4 compressible", compression: CompressionLZ4, data: compressibleData(600 * 1024)},
		{name: "lz4 incompressible", compression: CompressionLZ4, data: incompressibleData(600 * 1024)},
		{name: "zstd compressible", compression: CompressionZSTD, data: compressibleData(600 * 1024)},
		{name: "zstd incompressible", compression: CompressionZSTD, data: incompressibleData(600 * 1024)},
		{name: "lz4 tiny", compression: CompressionLZ4, data: []byte("x")},
		{name: "zstd empty", compression: CompressionZSTD, data: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			cw := NewCompressedBlockWriter(&buf, tt.compression, 0)
			n, err := cw.Write(tt.data)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), n)
			require.NoError(t, cw.Flush())

			got, err := DecompressAll(buf.Bytes(), 0, tt.compression)
			require.NoError(t, err)

			if len(tt.data) == 0 {
				assert.Empty(t, got)
				assert.Zero(t, cw.BytesWritten())
			} else {
				assert.Equal(t, tt.data, got)
				assert.Equal(t, int64(buf.Len()), cw.BytesWritten())
			}
		})
	}
}

func TestCompressedBlockWriterShrinksCompressibleData(t *testing.T) {
	data := compressibleData(600 * 1024)

	var buf bytes.Buffer
	cw := NewCompressedBlockWriter(&buf, CompressionZSTD, 0)
	_, err := cw.Write(data)
	require.NoError(t, err)
	require.NoError(t, cw.Flush())

	assert.Less(t, buf.Len(), len(data)/2)
}

func TestIncompressibleBlocksStoredRaw(t *testing.T) {
	// Random data cannot shrink, so each block must be stored raw with
	// a zero compressed size marker.
	data := incompressibleData(1024)

	compressed, err := compressBlock(data, CompressionLZ4)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(compressed), blockHeaderSize)
	assert.Equal(t, len(data)+blockHeaderSize, len(compressed))

	got, err := DecompressAll(compressed, 0, CompressionLZ4)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecompressAllRejectsTruncatedBlock(t *testing.T) {
	data := compressibleData(64 * 1024)

	var buf bytes.Buffer
	cw := NewCompressedBlockWriter(&buf, CompressionLZ4, 0)
	_, err := cw.Write(data)
	require.NoError(t, err)
	require.NoError(t, cw.Flush())

	truncated := buf.Bytes()[:buf.Len()-10]
	_, err = DecompressAll(truncated, 0, CompressionLZ4)
	assert.Error(t, err)
}

func TestCompressionTypeValid(t *testing.T) {
	assert.True(t, CompressionNone.Valid())
	assert.True(t, CompressionLZ4.Valid())
	assert.True(t, CompressionZSTD.Valid())
	assert.False(t, CompressionType(3).Valid())
}
