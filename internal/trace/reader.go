package trace

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	Port      string
	Param     string
	Op        *Op
	Addr      *int
	OnlyError bool
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func (f *Filter) matches(r Record) bool {
	if f.Port != "" && r.Port != f.Port {
		return false
	}
	if f.Param != "" && r.Param != f.Param {
		return false
	}
	if f.Op != nil && r.Op != *f.Op {
		return false
	}
	if f.Addr != nil && r.Addr != *f.Addr {
		return false
	}
	if f.OnlyError && r.Status == 0 && r.Vendor == 0 {
		return false
	}
	if f.TimeStart != nil && r.Time.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !r.Time.Before(*f.TimeEnd) {
		return false
	}
	return true
}

// Reader iterates over the records of a capture.
type Reader struct {
	c       io.Closer
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader reads records matching filter from r.
func NewReader(r io.Reader, filter Filter) *Reader {
	tr := &Reader{decoder: NewDecoder(r), filter: filter}
	if c, ok := r.(io.Closer); ok {
		tr.c = c
	}
	return tr
}

// Open reads records matching filter from the file at path.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReader(f, filter), nil
}

// Next returns the next matching record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// ReadAll returns all remaining matching records.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close closes the underlying reader if it is an io.Closer.
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}
