// Package logger provides the logging interface used by every edupoll
// component. Backends write either prefixed text lines or JSON records.
package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// Level orders log severities. Messages below a logger's level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps a configuration string to a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger defines the printf-style logging surface shared by the sync
// pipeline, the daemon and the RPC server.
type Logger interface {
	// Debug logs request-level detail (e.g., "warm-up GET /user/ -> 200").
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "sync finished: 6 lessons").
	Info(format string, args ...interface{})

	// Warning logs a recoverable problem (e.g., "optional warm-up page failed").
	Warning(format string, args ...interface{})

	// Error logs a failure (e.g., "login failed: wrong password").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger.
	// Safe to call multiple times.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	level  Level
}

// NewStandardLogger creates a logger that wraps the given *log.Logger and
// logs everything from LevelInfo upwards.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l, level: LevelInfo}
}

// WithLevel sets the minimum level and returns the logger.
func (s *StandardLogger) WithLevel(level Level) *StandardLogger {
	s.level = level
	return s
}

// Debug logs a message with [DEBUG] prefix.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	s.printf(LevelDebug, "[DEBUG] ", format, args...)
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.printf(LevelInfo, "[INFO] ", format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.printf(LevelWarning, "[WARNING] ", format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.printf(LevelError, "[ERROR] ", format, args...)
}

func (s *StandardLogger) printf(level Level, prefix, format string, args ...interface{}) {
	if level < s.level {
		return
	}
	s.logger.Printf(prefix+format, args...)
}

// Close is a no-op for StandardLogger.
func (s *StandardLogger) Close() error {
	return nil
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}

// Close is a no-op.
func (n *NopLogger) Close() error {
	return nil
}

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)

// MockLogger implements Logger for testing purposes.
// It records all log calls for verification in tests.
type MockLogger struct {
	DebugCalls   []string
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool

	mu sync.Mutex
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Debug records the formatted message.
func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DebugCalls = append(m.DebugCalls, fmt.Sprintf(format, args...))
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = append(m.InfoCalls, fmt.Sprintf(format, args...))
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarningCalls = append(m.WarningCalls, fmt.Sprintf(format, args...))
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalls = append(m.ErrorCalls, fmt.Sprintf(format, args...))
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.CloseCalled = true
	return nil
}

// Contains reports whether any recorded message at any level contains sub.
func (m *MockLogger) Contains(sub string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, calls := range [][]string{m.DebugCalls, m.InfoCalls, m.WarningCalls, m.ErrorCalls} {
		for _, c := range calls {
			if strings.Contains(c, sub) {
				return true
			}
		}
	}
	return false
}

var _ Logger = (*MockLogger)(nil)

// stdWriter forwards lines written by a *log.Logger to a Logger at Info level.
type stdWriter struct {
	l Logger
}

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// ToStdLogger adapts a Logger for libraries that want a *log.Logger.
func ToStdLogger(l Logger) *log.Logger {
	return log.New(stdWriter{l: l}, "", 0)
}

// New builds the logger selected by configuration: "json" yields a
// ZerologLogger, anything else a StandardLogger.
func New(w io.Writer, format string, level Level) Logger {
	if strings.EqualFold(format, "json") {
		return NewZerologLogger(w, level)
	}
	return NewStandardLogger(log.New(w, "edupoll ", log.LstdFlags)).WithLevel(level)
}
