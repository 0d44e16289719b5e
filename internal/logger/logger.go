// Package logger provides the leveled log handle passed through an ingestion
// run. Debug output is only written when verbose mode is enabled.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Logger writes "[LEVEL] [tag] message" lines through a stdlib log.Logger.
type Logger struct {
	out     *log.Logger
	verbose bool
	tag     string
}

// New returns a logger writing to w.
func New(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{out: log.New(w, "", log.LstdFlags), verbose: verbose}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return New(io.Discard, false)
}

// OpenFile opens (creating directories as needed) an append-only log file.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// With returns a child logger whose lines carry tag.
func (l *Logger) With(tag string) *Logger {
	c := *l
	if c.tag != "" {
		tag = c.tag + ":" + tag
	}
	c.tag = tag
	return &c
}

// Verbose reports whether debug lines are written.
func (l *Logger) Verbose() bool { return l.verbose }

func (l *Logger) Debug(format string, args ...any) {
	if l.verbose {
		l.write("DEBUG", format, args...)
	}
}

func (l *Logger) Info(format string, args ...any) { l.write("INFO", format, args...) }

func (l *Logger) Warn(format string, args ...any) { l.write("WARN", format, args...) }

func (l *Logger) Error(format string, args ...any) { l.write("ERROR", format, args...) }

func (l *Logger) write(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if l.tag != "" {
		l.out.Printf("[%s] [%s] %s", level, l.tag, msg)
		return
	}
	l.out.Printf("[%s] %s", level, msg)
}
