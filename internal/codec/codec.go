// Package codec encodes API response payloads as JSON.
//
// Temporal values are written as ISO-8601 text: time.Time uses RFC 3339 with
// nanoseconds and Date uses YYYY-MM-DD. Decoding is plain JSON parsing and
// never turns strings back into times.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const ContentType = "application/json; charset=utf-8"

// SerializationError is returned when a payload holds a value JSON cannot represent.
type SerializationError struct {
	Type string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("codec: cannot serialize value of type %s: %v", e.Type, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Marshal encodes v without HTML escaping and without a trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, serializationError(v, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func serializationError(v any, err error) error {
	typ := fmt.Sprintf("%T", v)

	var ute *json.UnsupportedTypeError
	var uve *json.UnsupportedValueError
	var me *json.MarshalerError
	switch {
	case errors.As(err, &ute):
		typ = ute.Type.String()
	case errors.As(err, &uve):
		typ = uve.Value.Type().String()
	case errors.As(err, &me):
		typ = me.Type.String()
	}
	return &SerializationError{Type: typ, Err: err}
}
