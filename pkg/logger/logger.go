// Package logger provides the leveled logging interface shared by the
// scheduler, the fetch transports, the RPC server and the CLI.
package logger

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
)

// DebugEnv is the environment variable that enables debug output for
// loggers created with NewStandardLoggerFromEnv.
const DebugEnv = "WARPLOAD_DEBUG"

// Logger defines the interface for leveled logging across warpload components.
type Logger interface {
	// Debug logs a diagnostic message (e.g., "admitted core (high 1/3)").
	// Implementations may drop it unless debugging is enabled.
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "run started").
	Info(format string, args ...interface{})

	// Warning logs a warning message (e.g., "retrying in 500ms").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "failed core after 2 attempt(s)").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger.
	// Safe to call multiple times. Returns nil for loggers without resources.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
// Debug messages are discarded until SetDebug(true) is called.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// NewStandardLoggerFromEnv creates a StandardLogger whose debug output is
// controlled by the WARPLOAD_DEBUG environment variable.
func NewStandardLoggerFromEnv(l *log.Logger) *StandardLogger {
	s := NewStandardLogger(l)
	s.SetDebug(debugEnabled(os.Getenv(DebugEnv)))
	return s
}

func debugEnabled(v string) bool {
	if v == "" {
		return false
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		// any other non-empty value counts as enabled
		return true
	}
	return on
}

// SetDebug toggles debug output.
func (s *StandardLogger) SetDebug(on bool) {
	s.debug = on
}

// Debug logs a diagnostic message with [DEBUG] prefix when enabled.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.logger.Printf("[DEBUG] "+format, args...)
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close is a no-op for StandardLogger (no resources to release).
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
func (n *NopLogger) Close() error                               { return nil }

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)

// MockLogger implements Logger for testing purposes.
// It records all log calls for verification in tests and may be shared
// between goroutines; read the recorded calls through the accessor methods
// while other goroutines may still be logging.
type MockLogger struct {
	mu           sync.Mutex
	DebugCalls   []string
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		DebugCalls:   make([]string, 0),
		InfoCalls:    make([]string, 0),
		WarningCalls: make([]string, 0),
		ErrorCalls:   make([]string, 0),
	}
}

func (m *MockLogger) record(dst *[]string, format string, args []interface{}) {
	m.mu.Lock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

// Debug records the formatted message.
func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.DebugCalls, format, args)
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.InfoCalls, format, args)
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.WarningCalls, format, args)
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.ErrorCalls, format, args)
}

// Errors returns a copy of the recorded error messages.
func (m *MockLogger) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ErrorCalls...)
}

// Warnings returns a copy of the recorded warning messages.
func (m *MockLogger) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.WarningCalls...)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	m.CloseCalled = true
	m.mu.Unlock()
	return nil
}

var _ Logger = (*MockLogger)(nil)
