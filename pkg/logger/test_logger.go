package logger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// TestLogger captures log messages for assertions in tests.
// Derived loggers (WithField etc.) share the root capture buffer.
type TestLogger struct {
	capture *logCapture
	fields  map[string]interface{}
	err     error
}

type logCapture struct {
	mu       sync.Mutex
	messages []LogMessage
}

// LogMessage is a captured log record
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// NewTestLogger creates a test logger with an empty capture buffer
func NewTestLogger() *TestLogger {
	return &TestLogger{capture: &logCapture{}}
}

func (l *TestLogger) log(level, msg string, extra map[string]interface{}) {
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}

	l.capture.mu.Lock()
	defer l.capture.mu.Unlock()
	l.capture.messages = append(l.capture.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  fields,
		Error:   l.err,
	})
}

func (l *TestLogger) Debug(msg string) { l.log("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.log("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.log("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.log("ERROR", msg, nil) }
func (l *TestLogger) Fatal(msg string) { l.log("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}
func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}
func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}
func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}
func (l *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.log("FATAL", msg, fields)
}

func (l *TestLogger) derive(extra map[string]interface{}, err error) *TestLogger {
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &TestLogger{capture: l.capture, fields: fields, err: err}
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.derive(map[string]interface{}{key: value}, l.err)
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(fields, l.err)
}

func (l *TestLogger) WithError(err error) Logger {
	return l.derive(nil, err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger { return l }

func (l *TestLogger) GetZerolog() *zerolog.Logger { return nil }

// Messages returns a copy of all captured messages
func (l *TestLogger) Messages() []LogMessage {
	l.capture.mu.Lock()
	defer l.capture.mu.Unlock()
	out := make([]LogMessage, len(l.capture.messages))
	copy(out, l.capture.messages)
	return out
}

// MessagesByLevel returns captured messages of one level
func (l *TestLogger) MessagesByLevel(level string) []LogMessage {
	var filtered []LogMessage
	for _, msg := range l.Messages() {
		if msg.Level == level {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// HasMessage reports whether a message with the given text was logged
func (l *TestLogger) HasMessage(text string) bool {
	for _, msg := range l.Messages() {
		if msg.Message == text {
			return true
		}
	}
	return false
}

// Clear drops all captured messages
func (l *TestLogger) Clear() {
	l.capture.mu.Lock()
	defer l.capture.mu.Unlock()
	l.capture.messages = l.capture.messages[:0]
}
