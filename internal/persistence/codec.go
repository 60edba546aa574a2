package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

func init() {
	// Common payload shapes that gob does not register on its own.
	gob.Register(map[string]any{})
	gob.Register(map[string]string{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// EncodeValue serializes an opaque payload with encoding/gob. A nil value
// encodes to nil so that it is stored as SQL NULL / an absent field.
//
// Concrete types carried inside an interface must be registered with
// gob.Register by the caller.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	// Encode through an interface so the payload can be decoded into any.
	iv := v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload produced by EncodeValue. It also accepts
// payloads that were gob-encoded as a concrete T.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}

	v, ok, err := decodeInterface[T](data)
	if err == nil && ok {
		return v, nil
	}
	if err != nil && !isConcretePayload(err) {
		return zero, err
	}

	if v, err := decodeConcrete[T](data); err == nil {
		return v, nil
	} else if !isInterfaceType[T]() {
		return zero, err
	}

	if v, ok := decodeKnownConcrete[T](data); ok {
		return v, nil
	}
	return zero, errors.New("gob: unable to decode payload into target type")
}

func decodeInterface[T any](data []byte) (T, bool, error) {
	var zero T
	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return zero, false, err
	}
	if v, ok := iv.(T); ok {
		return v, true, nil
	}
	if iv == nil && isInterfaceType[T]() {
		return zero, true, nil
	}
	return zero, false, fmt.Errorf("gob: payload of type %T is not assignable to target", iv)
}

func decodeConcrete[T any](data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

// decodeKnownConcrete handles concrete-encoded payloads read back into any.
func decodeKnownConcrete[T any](data []byte) (T, bool) {
	var zero T
	candidates := []any{
		new(string), new([]byte), new(int), new(int64), new(float64), new(bool),
		new(time.Time), new(map[string]any), new(map[string]string),
		new([]any), new([]string), new([]int),
	}
	for _, c := range candidates {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(c); err != nil {
			continue
		}
		val := reflect.ValueOf(c).Elem().Interface()
		if v, ok := val.(T); ok {
			return v, true
		}
	}
	return zero, false
}

func isConcretePayload(err error) bool {
	s := err.Error()
	return strings.Contains(s, "can only be decoded from remote interface") &&
		strings.Contains(s, "received concrete type")
}

func isInterfaceType[T any]() bool {
	return reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Interface
}

// encodeStrings stores string lists (pointer children, scope) as gob blobs.
func encodeStrings(ss []string) ([]byte, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	return EncodeValue(ss)
}

func decodeStrings(data []byte) ([]string, error) {
	return DecodeValue[[]string](data)
}
