package transport

import (
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// CompressOptions configures the "compress" transport plugin.
type CompressOptions struct {
	Level string `default:"3"`
}

type compressTransport struct {
	level zstd.EncoderLevel
}

// NewCompressTransport builds a zstd-backed transport at opts.Level (a
// zstd compression level number; invalid values fall back to the default).
func NewCompressTransport(opts CompressOptions) (Transport, error) {
	n, err := strconv.Atoi(opts.Level)
	if err != nil || n < 1 {
		n = 3
	}
	return &compressTransport{level: zstd.EncoderLevelFromZstd(n)}, nil
}

func (t *compressTransport) Wrap(r io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()
	enc, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(t.level))
	if err != nil {
		return nil, fmt.Errorf("transport: compress: %w", err)
	}
	go func() {
		_, err := io.Copy(enc, r)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := enc.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr, nil
}

func (t *compressTransport) Unwrap(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("transport: decompress: %w", err)
	}
	return dec.IOReadCloser(), nil
}
