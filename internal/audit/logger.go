package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	Port      string                 `json:"port"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params"`
	Outcome   string                 `json:"outcome"`
	LatencyMs float64                `json:"latencyMs"`
}

// Options configures the audit file.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger appends entries to a size-rotated file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	rotator  *lumberjack.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// NewLogger opens the audit file, creating its directory if needed.
func NewLogger(opts Options, logger *slog.Logger) (*Logger, error) {
	if opts.File == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	// open once so a bad path fails here instead of on the first entry
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	_ = f.Close()

	rot := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	l := newLogger(rot, logger)
	l.filePath = opts.File
	l.rotator = rot
	return l, nil
}

// NewWriterLogger writes entries to w.
func NewWriterLogger(w io.Writer, logger *slog.Logger) *Logger {
	wc, ok := w.(io.WriteCloser)
	if !ok {
		wc = nopCloser{w}
	}
	return newLogger(wc, logger)
}

func newLogger(out io.WriteCloser, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{out: out, logger: logger.With("component", "audit"), now: time.Now}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// LogAction records one action. The user is taken from ctx.
func (l *Logger) LogAction(ctx context.Context, action, port string, params map[string]interface{}, outcome string, latency time.Duration) {
	if params == nil {
		params = map[string]interface{}{}
	}
	l.writeEntry(Entry{
		Timestamp: l.now().UTC(),
		User:      UserFromContext(ctx),
		Port:      port,
		Action:    action,
		Params:    params,
		Outcome:   outcome,
		LatencyMs: float64(latency) / float64(time.Millisecond),
	})
}

func (l *Logger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", "action", entry.Action, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		l.logger.Warn("audit entry after close", "action", entry.Action, "port", entry.Port)
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", "action", entry.Action, "error", err)
	}
}

// Rotate starts a new file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Rotate()
}

// GetFilePath returns the audit file path, or "" for a writer logger.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

// Close closes the underlying file. Later entries are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

type userKey struct{}

// WithUser returns a context carrying the acting user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the acting user, or "unknown".
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(userKey{}).(string); ok && u != "" {
		return u
	}
	return "unknown"
}
