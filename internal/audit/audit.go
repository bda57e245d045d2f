// Package audit provides the append-only, best-effort event log kept for each
// site deployment. Each line has the form
//
//	2006-01-02T15:04:05Z07:00: message
//
// and the first line of a new file is a "created file" sentinel. Recording
// never fails the caller: when the file cannot be created or written the
// record is dropped from the file and only reaches the process logger.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is the severity of an audit record.
type Level int

const (
	LevelInfo Level = iota
	LevelError
	LevelSuccess
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelSuccess:
		return "success"
	default:
		return "info"
	}
}

// Recorder is the narrow interface the rest of the receiver depends on.
type Recorder interface {
	Record(ctx context.Context, level Level, format string, args ...any)
}

// Log appends records to a single file.
type Log struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log writing to path and mirroring every record to logger.
// A nil logger disables the mirror. An empty path keeps only the mirror.
func New(path string, logger *slog.Logger, opts ...Option) *Log {
	l := &Log{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// Record appends a formatted message at the given level.
func (l *Log) Record(ctx context.Context, level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mirror(ctx, level, msg)

	if l.path == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ensure() {
		return
	}
	_ = l.append(msg)
}

// ensure creates the log file with its sentinel line when absent and reports
// whether the file exists and is writable.
func (l *Log) ensure() bool {
	if _, err := os.Stat(l.path); err == nil {
		return true
	}
	_ = os.MkdirAll(filepath.Dir(l.path), 0o755)
	if err := l.append("created file"); err != nil {
		return false
	}
	return writable(l.path)
}

func (l *Log) append(msg string) error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	line := l.now().Format(time.RFC3339) + ": " + msg + "\n"
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (l *Log) mirror(ctx context.Context, level Level, msg string) {
	if l.logger == nil {
		return
	}
	switch level {
	case LevelError:
		l.logger.ErrorContext(ctx, msg, slog.String("audit", level.String()))
	default:
		l.logger.InfoContext(ctx, msg, slog.String("audit", level.String()))
	}
}

func writable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Discard is a Recorder that drops every record.
type Discard struct{}

func (Discard) Record(context.Context, Level, string, ...any) {}

var (
	_ Recorder = (*Log)(nil)
	_ Recorder = Discard{}
)
