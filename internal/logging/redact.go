// internal/logging/redact.go
package logging

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Placeholders substituted for scrubbed values.
const (
	EmailPlaceholder    = "[EMAIL_REDACTED]"
	IPPlaceholder       = "[IP_REDACTED]"
	RedactedPlaceholder = "[REDACTED]"
)

const maxPatternLen = 200

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	ipv4Pattern  = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
)

// ScrubPII replaces email addresses and IPv4 addresses in s.
func ScrubPII(s string) string {
	if s == "" {
		return s
	}
	s = emailPattern.ReplaceAllString(s, EmailPlaceholder)
	return ipv4Pattern.ReplaceAllString(s, IPPlaceholder)
}

// Redactor applies key rules, pattern rules and PII scrubbing.
type Redactor struct {
	fields   map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactor compiles cfg. PII scrubbing is applied even when cfg is
// disabled. Returns error if any pattern fails to compile.
func NewRedactor(cfg RedactionConfig) (*Redactor, error) {
	r := &Redactor{fields: make(map[string]bool)}
	if !cfg.Enabled {
		return r, nil
	}

	for _, f := range cfg.Fields {
		r.fields[strings.ToLower(f)] = true
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// SensitiveKey reports whether values under key are always replaced.
func (r *Redactor) SensitiveKey(key string) bool {
	return r.fields[strings.ToLower(key)]
}

// String redacts a value logged under key.
func (r *Redactor) String(key, val string) string {
	if r.SensitiveKey(key) {
		return RedactedPlaceholder
	}
	for _, re := range r.patterns {
		val = re.ReplaceAllString(val, RedactedPlaceholder)
	}
	return ScrubPII(val)
}

// Value redacts strings nested in maps, slices and structs. Structs and
// collections of other types are redacted in their JSON form. Scalars are
// returned unchanged.
func (r *Redactor) Value(key string, v interface{}) interface{} {
	if r.SensitiveKey(key) {
		return RedactedPlaceholder
	}
	switch val := v.(type) {
	case string:
		return r.String(key, val)
	case []byte:
		return r.String(key, string(val))
	case error:
		return r.String(key, val.Error())
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = r.Value(k, item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = r.String(k, item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = r.Value(key, item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = r.String(key, item)
		}
		return out
	}
	return r.generic(key, v)
}

func (r *Redactor) generic(key string, v interface{}) interface{} {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Ptr, reflect.Interface:
	default:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var decoded interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return v
	}
	return r.Value(key, decoded)
}

// Field returns f with its value redacted.
func (r *Redactor) Field(f zapcore.Field) zapcore.Field {
	if r.SensitiveKey(f.Key) {
		switch f.Type {
		case zapcore.NamespaceType, zapcore.SkipType:
			return f
		}
		return zap.String(f.Key, RedactedPlaceholder)
	}

	switch f.Type {
	case zapcore.StringType:
		f.String = r.String(f.Key, f.String)
	case zapcore.ByteStringType:
		if b, ok := f.Interface.([]byte); ok {
			return zap.ByteString(f.Key, []byte(r.String(f.Key, string(b))))
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			return zap.String(f.Key, r.String(f.Key, err.Error()))
		}
	case zapcore.StringerType:
		return zap.String(f.Key, r.String(f.Key, fmt.Sprint(f.Interface)))
	case zapcore.ReflectType:
		f.Interface = r.Value(f.Key, f.Interface)
	case zapcore.ArrayMarshalerType:
		if arr, ok := f.Interface.(zapcore.ArrayMarshaler); ok {
			return zap.Array(f.Key, redactedArray{key: f.Key, arr: arr, r: r})
		}
	case zapcore.ObjectMarshalerType:
		if obj, ok := f.Interface.(zapcore.ObjectMarshaler); ok {
			return zap.Object(f.Key, redactedObject{obj: obj, r: r})
		}
	case zapcore.InlineMarshalerType:
		if obj, ok := f.Interface.(zapcore.ObjectMarshaler); ok {
			return zap.Inline(redactedObject{obj: obj, r: r})
		}
	}
	return f
}

// redactedArray scrubs every element its marshaler appends.
type redactedArray struct {
	key string
	arr zapcore.ArrayMarshaler
	r   *Redactor
}

func (a redactedArray) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	return a.arr.MarshalLogArray(&redactingArrayEncoder{ArrayEncoder: enc, key: a.key, r: a.r})
}

type redactingArrayEncoder struct {
	zapcore.ArrayEncoder
	key string
	r   *Redactor
}

func (e *redactingArrayEncoder) AppendString(v string) {
	e.ArrayEncoder.AppendString(e.r.String(e.key, v))
}

func (e *redactingArrayEncoder) AppendByteString(v []byte) {
	e.ArrayEncoder.AppendByteString([]byte(e.r.String(e.key, string(v))))
}

func (e *redactingArrayEncoder) AppendReflected(v interface{}) error {
	return e.ArrayEncoder.AppendReflected(e.r.Value(e.key, v))
}

func (e *redactingArrayEncoder) AppendArray(v zapcore.ArrayMarshaler) error {
	return e.ArrayEncoder.AppendArray(redactedArray{key: e.key, arr: v, r: e.r})
}

func (e *redactingArrayEncoder) AppendObject(v zapcore.ObjectMarshaler) error {
	return e.ArrayEncoder.AppendObject(redactedObject{obj: v, r: e.r})
}

// redactedObject scrubs every field its marshaler adds.
type redactedObject struct {
	obj zapcore.ObjectMarshaler
	r   *Redactor
}

func (o redactedObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return o.obj.MarshalLogObject(&redactingObjectEncoder{ObjectEncoder: enc, r: o.r})
}

type redactingObjectEncoder struct {
	zapcore.ObjectEncoder
	r *Redactor
}

func (e *redactingObjectEncoder) AddString(key, val string) {
	e.ObjectEncoder.AddString(key, e.r.String(key, val))
}

func (e *redactingObjectEncoder) AddByteString(key string, val []byte) {
	e.ObjectEncoder.AddByteString(key, []byte(e.r.String(key, string(val))))
}

func (e *redactingObjectEncoder) AddBinary(key string, val []byte) {
	if e.r.SensitiveKey(key) {
		e.ObjectEncoder.AddString(key, RedactedPlaceholder)
		return
	}
	e.ObjectEncoder.AddBinary(key, val)
}

func (e *redactingObjectEncoder) AddReflected(key string, val interface{}) error {
	return e.ObjectEncoder.AddReflected(key, e.r.Value(key, val))
}

func (e *redactingObjectEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r.SensitiveKey(key) {
		e.ObjectEncoder.AddString(key, RedactedPlaceholder)
		return nil
	}
	return e.ObjectEncoder.AddArray(key, redactedArray{key: key, arr: arr, r: e.r})
}

func (e *redactingObjectEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r.SensitiveKey(key) {
		e.ObjectEncoder.AddString(key, RedactedPlaceholder)
		return nil
	}
	return e.ObjectEncoder.AddObject(key, redactedObject{obj: obj, r: e.r})
}

// RedactingEncoder wraps a zapcore.Encoder so that the message, the
// stacktrace, context fields and per-entry fields are all redacted.
type RedactingEncoder struct {
	zapcore.Encoder
	redactor *Redactor
}

// NewRedactingEncoder wraps base with r.
func NewRedactingEncoder(base zapcore.Encoder, r *Redactor) *RedactingEncoder {
	return &RedactingEncoder{Encoder: base, redactor: r}
}

// EncodeEntry redacts the entry and its fields before encoding.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = e.redactor.String("", ent.Message)
	ent.Stack = ScrubPII(ent.Stack)

	redacted := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		redacted[i] = e.redactor.Field(f)
	}
	return e.Encoder.EncodeEntry(ent, redacted)
}

// AddString redacts fields attached via With.
func (e *RedactingEncoder) AddString(key, val string) {
	e.Encoder.AddString(key, e.redactor.String(key, val))
}

// AddByteString redacts fields attached via With.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	e.Encoder.AddByteString(key, []byte(e.redactor.String(key, string(val))))
}

// AddBinary redacts sensitive field names.
func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.redactor.SensitiveKey(key) {
		e.Encoder.AddString(key, RedactedPlaceholder)
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected redacts strings inside maps and slices.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	return e.Encoder.AddReflected(key, e.redactor.Value(key, val))
}

// AddArray redacts sensitive field names and every element.
func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.redactor.SensitiveKey(key) {
		e.Encoder.AddString(key, RedactedPlaceholder)
		return nil
	}
	return e.Encoder.AddArray(key, redactedArray{key: key, arr: arr, r: e.redactor})
}

// AddObject redacts sensitive field names and every nested field.
func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.redactor.SensitiveKey(key) {
		e.Encoder.AddString(key, RedactedPlaceholder)
		return nil
	}
	return e.Encoder.AddObject(key, redactedObject{obj: obj, r: e.redactor})
}

// Clone creates a copy of the encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		redactor: e.redactor,
	}
}
