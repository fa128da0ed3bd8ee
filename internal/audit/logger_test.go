package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

func TestNewLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")

	l, err := NewLogger(Options{File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, path, l.GetFilePath())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestNewLoggerErrors(t *testing.T) {
	_, err := NewLogger(Options{}, nil)
	assert.Error(t, err)

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	_, err = NewLogger(Options{File: filepath.Join(blocker, "audit.jsonl")}, nil)
	assert.Error(t, err)
}

func TestLogAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewLogger(Options{File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	ctx := WithUser(context.Background(), "operator")
	l.LogAction(ctx, "write", "FPS1", map[string]interface{}{"param": "reset", "addr": 2, "value": 1}, "SUCCESS", 1500*time.Microsecond)
	l.LogAction(context.Background(), "configure", "FPS2", nil, "CONFLICT", 0)
	require.NoError(t, l.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)

	e := entries[0]
	assert.Equal(t, "operator", e.User)
	assert.Equal(t, "FPS1", e.Port)
	assert.Equal(t, "write", e.Action)
	assert.Equal(t, "reset", e.Params["param"])
	assert.Equal(t, float64(2), e.Params["addr"])
	assert.Equal(t, "SUCCESS", e.Outcome)
	assert.Equal(t, 1.5, e.LatencyMs)
	assert.True(t, e.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	assert.Equal(t, "unknown", entries[1].User)
	assert.NotNil(t, entries[1].Params)
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, nil)
	l.LogAction(context.Background(), "write", "FPS1", nil, "SUCCESS", 0)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	n := buf.Len()
	l.LogAction(context.Background(), "write", "FPS1", nil, "SUCCESS", 0)
	assert.Equal(t, n, buf.Len())
	assert.Empty(t, l.GetFilePath())
	assert.NoError(t, l.Rotate())
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	l, err := NewLogger(Options{File: path, MaxSizeMB: 1, MaxBackups: 2}, nil)
	require.NoError(t, err)
	defer l.Close()

	l.LogAction(context.Background(), "write", "FPS1", nil, "SUCCESS", 0)
	require.NoError(t, l.Rotate())
	l.LogAction(context.Background(), "write", "FPS1", nil, "SUCCESS", 0)

	files, err := filepath.Glob(filepath.Join(dir, "audit*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Len(t, readEntries(t, path), 1)
}

func TestUserFromContext(t *testing.T) {
	assert.Equal(t, "unknown", UserFromContext(context.Background()))
	assert.Equal(t, "unknown", UserFromContext(WithUser(context.Background(), "")))
	assert.Equal(t, "shell", UserFromContext(WithUser(context.Background(), "shell")))
}
