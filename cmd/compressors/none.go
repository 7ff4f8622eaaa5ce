package compressors

import "io"

// NoneCompressor passes data through unchanged
type NoneCompressor struct{}

// NewNoneCompressor creates a new no-op compressor
func NewNoneCompressor() *NoneCompressor {
	return &NoneCompressor{}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns w with a no-op Close
func (c *NoneCompressor) NewWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (c *NoneCompressor) Extension() string { return "" }

func (c *NoneCompressor) DefaultLevel() int { return 0 }

func (c *NoneCompressor) ContentEncoding() string { return "" }
