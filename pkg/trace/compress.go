package trace

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the frame header of a zstd stream.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressZstd compresses a trace for storage.
func CompressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// newZstdReader wraps an io.Reader with zstd decompression.
func newZstdReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{dec: dec}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return nil
}

// maybeDecompress returns a reader over the plain trace text. Input is
// treated as zstd when the name ends in .zst or the stream starts with the
// zstd magic.
func maybeDecompress(name string, r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(zstdMagic))
	if strings.HasSuffix(name, ".zst") || bytes.Equal(head, zstdMagic) {
		return newZstdReader(br)
	}
	return io.NopCloser(br), nil
}
