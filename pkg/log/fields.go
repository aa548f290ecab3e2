package log

import "time"

// Field is a single structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Str creates a string field.
func Str(key, val string) Field { return Field{Key: key, Value: val} }

// Int creates an int field.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 creates an int64 field.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Uint64 creates a uint64 field.
func Uint64(key string, val uint64) Field { return Field{Key: key, Value: val} }

// Bool creates a bool field.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Dur creates a duration field.
func Dur(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// Err creates an error field under the conventional "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Any creates a field holding an arbitrary value.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }

// Component tags entries with the subsystem that emitted them.
func Component(name string) Field { return Field{Key: "component", Value: name} }
