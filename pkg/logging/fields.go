package logging

import "time"

// Field represents a log field
type Field interface {
	Apply(entry *LogEntry)
}

type valueField struct {
	key   string
	value any
}

func (f valueField) Apply(entry *LogEntry) {
	entry.Fields[f.key] = f.value
}

type errorField struct {
	err error
}

func (f errorField) Apply(entry *LogEntry) {
	entry.Error = f.err.Error()
}

type componentField string

func (f componentField) Apply(entry *LogEntry) {
	entry.Component = string(f)
}

type requestIDField string

func (f requestIDField) Apply(entry *LogEntry) {
	entry.RequestID = string(f)
}

// String creates a string field
func String(key, value string) Field {
	return valueField{key: key, value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return valueField{key: key, value: value}
}

// Int64 creates a 64-bit integer field
func Int64(key string, value int64) Field {
	return valueField{key: key, value: value}
}

// Float creates a float field
func Float(key string, value float64) Field {
	return valueField{key: key, value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return valueField{key: key, value: value}
}

// Duration records a duration in milliseconds
func Duration(key string, value time.Duration) Field {
	return valueField{key: key, value: float64(value.Microseconds()) / 1000}
}

// Error creates an error field
func Error(err error) Field {
	return errorField{err: err}
}

// Component creates a component field
func Component(component string) Field {
	return componentField(component)
}

// RequestID creates a request ID field
func RequestID(requestID string) Field {
	return requestIDField(requestID)
}
