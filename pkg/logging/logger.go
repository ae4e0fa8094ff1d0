// Package logging provides the structured logger shared by every component.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) toLogrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	case FATAL:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func levelFromLogrus(level logrus.Level) LogLevel {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return DEBUG
	case logrus.WarnLevel:
		return WARN
	case logrus.ErrorLevel:
		return ERROR
	case logrus.FatalLevel, logrus.PanicLevel:
		return FATAL
	default:
		return INFO
	}
}

// ParseLevel converts a config string into a LogLevel, defaulting to INFO
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Service   string         `json:"service,omitempty"`
	Component string         `json:"component,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
}

// entryKey carries the prepared LogEntry through logrus to the formatter
const entryKey = "_entry"

// Logger provides structured logging on top of a logrus logger
type Logger struct {
	base    *logrus.Logger
	mu      sync.Mutex
	format  string // "json" or "text"
	service string
}

// NewLogger creates a new logger instance
func NewLogger() *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(logrus.InfoLevel)

	l := &Logger{base: base, format: "text", service: "mimir-insight"}
	l.applyFormatter()
	return l
}

// applyFormatter installs a formatter for the current format and service.
// Callers hold l.mu or own l exclusively.
func (l *Logger) applyFormatter() {
	l.base.SetFormatter(&entryFormatter{json: l.format == "json", service: l.service})
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.toLogrus())
}

// Level returns the current logging level
func (l *Logger) Level() LogLevel {
	return levelFromLogrus(l.base.GetLevel())
}

// SetFormat sets the logging format ("json" or "text")
func (l *Logger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = strings.ToLower(format)
	l.applyFormatter()
}

// SetOutput sets the logging output destination
func (l *Logger) SetOutput(output io.Writer) {
	l.base.SetOutput(output)
}

// SetService sets the service name for logging
func (l *Logger) SetService(service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.service = service
	l.applyFormatter()
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(DEBUG, msg, fields...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(INFO, msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(WARN, msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Error(err))
	}
	l.log(ERROR, msg, fields...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Error(err))
	}
	l.log(FATAL, msg, fields...)
	l.base.Exit(1)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...Field) *FieldLogger {
	return &FieldLogger{
		logger: l,
		fields: fields,
	}
}

func (l *Logger) log(level LogLevel, msg string, fields ...Field) {
	lv := level.toLogrus()
	if !l.base.IsLevelEnabled(lv) {
		return
	}
	l.base.WithField(entryKey, newLogEntry(fields...)).Log(lv, msg)
}

func newLogEntry(fields ...Field) *LogEntry {
	entry := &LogEntry{Fields: make(map[string]any)}

	// Caller of Debug/Info/Warn/Error
	if _, file, line, ok := runtime.Caller(3); ok {
		entry.File = filepath.Base(file)
		entry.Line = line
	}

	for _, field := range fields {
		field.Apply(entry)
	}
	return entry
}

// entryFormatter renders logrus entries in the LogEntry layout
type entryFormatter struct {
	json    bool
	service string
}

// Format implements logrus.Formatter
func (f *entryFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var out LogEntry
	if entry, ok := e.Data[entryKey].(*LogEntry); ok {
		out = *entry
	}
	out.Timestamp = e.Time.UTC().Format(time.RFC3339)
	out.Level = levelFromLogrus(e.Level).String()
	out.Message = e.Message
	out.Service = f.service

	if f.json {
		b, err := json.Marshal(&out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log entry: %w", err)
		}
		return append(b, '\n'), nil
	}
	return []byte(formatTextEntry(&out) + "\n"), nil
}

func formatTextEntry(entry *LogEntry) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("%s [%s] %s", entry.Timestamp, entry.Level, entry.Message))

	if entry.Component != "" {
		builder.WriteString(fmt.Sprintf(" component=%s", entry.Component))
	}
	if entry.RequestID != "" {
		builder.WriteString(fmt.Sprintf(" request_id=%s", entry.RequestID))
	}
	if entry.Error != "" {
		builder.WriteString(fmt.Sprintf(" error=%q", entry.Error))
	}

	keys := make([]string, 0, len(entry.Fields))
	for key := range entry.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf(" %s=%v", key, entry.Fields[key]))
	}

	if entry.File != "" && entry.Line != 0 {
		builder.WriteString(fmt.Sprintf(" (%s:%d)", entry.File, entry.Line))
	}

	return builder.String()
}

// FieldLogger carries a fixed set of fields into every entry
type FieldLogger struct {
	logger *Logger
	fields []Field
}

func (fl *FieldLogger) merge(fields []Field) []Field {
	all := make([]Field, 0, len(fl.fields)+len(fields))
	all = append(all, fl.fields...)
	return append(all, fields...)
}

// Debug logs a debug message with fields
func (fl *FieldLogger) Debug(msg string, fields ...Field) {
	fl.logger.log(DEBUG, msg, fl.merge(fields)...)
}

// Info logs an info message with fields
func (fl *FieldLogger) Info(msg string, fields ...Field) {
	fl.logger.log(INFO, msg, fl.merge(fields)...)
}

// Warn logs a warning message with fields
func (fl *FieldLogger) Warn(msg string, fields ...Field) {
	fl.logger.log(WARN, msg, fl.merge(fields)...)
}

// Error logs an error message with fields
func (fl *FieldLogger) Error(msg string, err error, fields ...Field) {
	all := fl.merge(fields)
	if err != nil {
		all = append(all, Error(err))
	}
	fl.logger.log(ERROR, msg, all...)
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = NewLogger()
	})
	return globalLogger
}

// InitLogger configures the global logger from level and format settings
func InitLogger(level, format string) *Logger {
	logger := GetLogger()
	logger.SetLevel(ParseLevel(level))
	if format != "" {
		logger.SetFormat(format)
	}
	return logger
}

// OrDefault returns l, or the global logger when l is nil
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return GetLogger()
	}
	return l
}
