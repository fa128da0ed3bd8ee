package trace

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("trace: writer closed")

// Writer appends records to a stream. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	c       io.Closer
	encoder *cbor.Encoder
	closed  bool
}

// NewWriter writes records to w. Close closes w if it is an io.Closer.
func NewWriter(w io.Writer) *Writer {
	tw := &Writer{w: w, encoder: NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		tw.c = c
	}
	return tw
}

// Create opens path for appending, creating it with mode 0644 if needed.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// Record appends one record.
func (w *Writer) Record(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.encoder.Encode(r)
}

// Close stops recording. It is safe to call Close more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}
