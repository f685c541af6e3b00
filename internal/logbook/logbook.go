// Package logbook keeps the plain text operation journal shown under the
// console. Recent lines are held in memory so the console can redraw the
// tail without reading the file back.
package logbook

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultKeep     = 200
	defaultMaxBytes = 1 << 20
)

// Level represents the severity of a journal entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Option customizes a Logbook.
type Option func(*Logbook)

// WithClock sets the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithKeep sets how many recent lines stay in memory for Tail.
func WithKeep(n int) Option {
	return func(l *Logbook) {
		if n > 0 {
			l.keep = n
		}
	}
}

// WithMaxBytes rotates the journal to <path>.1 once it grows past n bytes.
// Zero disables rotation.
func WithMaxBytes(n int64) Option {
	return func(l *Logbook) {
		if n >= 0 {
			l.maxBytes = n
		}
	}
}

// Logbook appends timestamped lines to a journal file.
type Logbook struct {
	path     string
	clock    func() time.Time
	keep     int
	maxBytes int64

	mu      sync.Mutex
	file    *os.File
	size    int64
	recent  []string
	total   int
	lastErr error
}

// New opens (or creates) the journal at path and loads its tail.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l := &Logbook{path: path, clock: time.Now, keep: defaultKeep, maxBytes: defaultMaxBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logbook) load() error {
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		l.remember(scanner.Text())
	}
	return scanner.Err()
}

func (l *Logbook) open() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("logbook: stat %s: %w", l.path, err)
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry. Write failures are kept for Err and never
// returned; the journal is informational.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	line := fmt.Sprintf("%s %-5s %s",
		l.clock().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remember(line)
	if l.file == nil {
		return
	}
	if l.maxBytes > 0 && l.size+int64(len(line)+1) > l.maxBytes && l.size > 0 {
		if err := l.rotate(); err != nil {
			l.lastErr = err
			return
		}
	}
	n, err := l.file.WriteString(line + "\n")
	l.size += int64(n)
	if err != nil {
		l.lastErr = fmt.Errorf("logbook: write: %w", err)
	}
}

// rotate moves the current file to <path>.1. Caller holds mu.
func (l *Logbook) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("logbook: close for rotation: %w", err)
	}
	l.file = nil
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("logbook: rotate: %w", err)
	}
	return l.open()
}

func (l *Logbook) remember(line string) {
	l.total++
	l.recent = append(l.recent, line)
	if overflow := len(l.recent) - l.keep; overflow > 0 {
		l.recent = append([]string(nil), l.recent[overflow:]...)
	}
}

// Tail returns up to maxLines of the most recent entries plus the number of
// entries written since the journal was started or last rotated away from
// memory.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recent) == 0 {
		return nil, l.total
	}
	start := len(l.recent) - maxLines
	if start < 0 {
		start = 0
	}
	out := make([]string, len(l.recent)-start)
	copy(out, l.recent[start:])
	return out, l.total
}

// Err returns the last write failure, if any.
func (l *Logbook) Err() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Close closes the journal file. Later entries are kept in memory only.
func (l *Logbook) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}
