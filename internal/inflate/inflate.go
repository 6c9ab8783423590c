// Package inflate decompresses zlib-compressed blocks.
package inflate

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// initialRatio sizes the first output allocation as a multiple of the input.
// The buffer grows past it when a block expands further.
const initialRatio = 4

// DecompressionError is returned when a zlib stream cannot be fully inflated.
type DecompressionError struct {
	Size int // Compressed size in bytes
	Err  error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("inflating %d-byte block: %v", e.Size, e.Err)
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}

// Inflater decompresses zlib blocks, reusing readers across calls.
// It is safe for concurrent use.
type Inflater struct {
	readers sync.Pool
}

// New creates an Inflater.
func New() *Inflater {
	return &Inflater{}
}

// Inflate decompresses one complete zlib stream. An empty input yields an
// empty output and no error.
func (f *Inflater) Inflate(compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, nil
	}

	src := bytes.NewReader(compressed)
	zr, err := f.reader(src)
	if err != nil {
		return nil, &DecompressionError{Size: len(compressed), Err: err}
	}
	defer f.readers.Put(zr)

	var out bytes.Buffer
	out.Grow(initialRatio * len(compressed))
	if _, err := io.Copy(&out, zr); err != nil {
		return nil, &DecompressionError{Size: len(compressed), Err: err}
	}
	return out.Bytes(), nil
}

func (f *Inflater) reader(src io.Reader) (io.ReadCloser, error) {
	pooled, ok := f.readers.Get().(io.ReadCloser)
	if !ok {
		return zlib.NewReader(src)
	}
	if err := pooled.(zlib.Resetter).Reset(src, nil); err != nil { //nolint:forcetypeassert // pool only holds zlib readers
		return nil, err
	}
	return pooled, nil
}
