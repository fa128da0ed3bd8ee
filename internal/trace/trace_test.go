package trace

import (
	"bytes"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	t0 := time.Date(2024, 5, 2, 8, 30, 0, 123456789, time.UTC)
	return []Record{
		{Time: t0, Port: "FPS1", Op: OpReadInt32, Reason: 0, Param: "adjust", Addr: 0, Int: 1},
		{Time: t0.Add(time.Second), Port: "FPS1", Op: OpWriteInt32, Reason: 5, Param: "reset", Addr: 2, Int: 0, Vendor: 7},
		{Time: t0.Add(2 * time.Second), Port: "FPS2", Op: OpReadFloat64, Reason: 4, Param: "getPosition", Addr: 3, Status: 3, Vendor: 10, Error: "bad address"},
		{Time: t0.Add(3 * time.Second), Port: "FPS1", Op: OpReadFloat64, Reason: 4, Param: "getPosition", Addr: 1, Float: 1523.25},
	}
}

func TestEncodeDecode(t *testing.T) {
	rec := sampleRecords()[2]
	data, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, rec.Time.Equal(got.Time))
	got.Time = rec.Time
	assert.Equal(t, rec, got)
}

func TestWriterReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "io.cbor")

	w, err := Create(path)
	require.NoError(t, err)
	for _, r := range sampleRecords() {
		require.NoError(t, w.Record(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Record(Record{}), ErrClosed)

	r, err := Open(path, Filter{})
	require.NoError(t, err)
	defer r.Close()

	all, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "reset", all[1].Param)
	assert.Equal(t, 7, all[1].Vendor)
	assert.Equal(t, 1523.25, all[3].Float)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFilter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range sampleRecords() {
		require.NoError(t, w.Record(r))
	}

	readFloat := OpReadFloat64
	addr := 1
	start := sampleRecords()[1].Time

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"port", Filter{Port: "FPS1"}, 3},
		{"param", Filter{Param: "getPosition"}, 2},
		{"op", Filter{Op: &readFloat}, 2},
		{"addr", Filter{Addr: &addr}, 1},
		{"errors", Filter{OnlyError: true}, 2},
		{"time", Filter{TimeStart: &start}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(buf.Bytes()), tt.filter)
			got, err := r.ReadAll()
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
			assert.NoError(t, r.Close())
		})
	}
}

func TestWriterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = w.Record(Record{Port: "FPS1", Op: OpReadInt32, Addr: i % 3, Int: int32(j)})
			}
		}(i)
	}
	wg.Wait()

	got, err := NewReader(&buf, Filter{}).ReadAll()
	require.NoError(t, err)
	assert.Len(t, got, 200)
}

func TestRecordValue(t *testing.T) {
	assert.Equal(t, "12", Record{Op: OpWriteInt32, Int: 12}.Value())
	assert.Equal(t, "0.500000", Record{Op: OpReadFloat64, Float: 0.5}.Value())
	assert.Equal(t, "readFloat64", OpReadFloat64.String())
}

func TestParseOp(t *testing.T) {
	for _, op := range []Op{OpReadInt32, OpWriteInt32, OpReadFloat64} {
		got, err := ParseOp(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
	_, err := ParseOp("readOctet")
	assert.Error(t, err)
}
