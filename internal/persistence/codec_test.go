package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"testing"
	"time"
)

type codecPayload struct {
	Msg string
	N   int
}

func init() {
	gob.Register(codecPayload{})
}

func TestEncodeValue_NilIsEmpty(t *testing.T) {
	data, err := EncodeValue(nil)
	if err != nil {
		t.Fatalf("EncodeValue(nil) error: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil bytes for nil value, got %d bytes", len(data))
	}

	v, err := DecodeValue[any](nil)
	if err != nil {
		t.Fatalf("DecodeValue(nil) error: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil, got %#v", v)
	}
}

func TestEncodeDecode_RegisteredStructAsAny(t *testing.T) {
	data, err := EncodeValue(codecPayload{Msg: "hello", N: 3})
	if err != nil {
		t.Fatalf("EncodeValue error: %v", err)
	}

	v, err := DecodeValue[any](data)
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	p, ok := v.(codecPayload)
	if !ok {
		t.Fatalf("expected codecPayload, got %T", v)
	}
	if p.Msg != "hello" || p.N != 3 {
		t.Fatalf("unexpected payload: %#v", p)
	}
}

func TestDecodeValue_ConcreteEncodedPayloadIntoAny(t *testing.T) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string]any{"k": "v"}); err != nil {
		t.Fatalf("gob encode: %v", err)
	}

	v, err := DecodeValue[any](buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("unexpected value %#v", v)
	}
}

func TestEncodeDecode_Time(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 42, time.UTC)
	data, err := EncodeValue(ts)
	if err != nil {
		t.Fatalf("EncodeValue error: %v", err)
	}
	got, err := DecodeValue[time.Time](data)
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, got)
	}
}

func TestEncodeStrings_RoundTrip(t *testing.T) {
	data, err := encodeStrings([]string{"a", "b"})
	if err != nil {
		t.Fatalf("encodeStrings error: %v", err)
	}
	got, err := decodeStrings(data)
	if err != nil {
		t.Fatalf("decodeStrings error: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected strings %#v", got)
	}

	empty, err := encodeStrings(nil)
	if err != nil || empty != nil {
		t.Fatalf("expected nil encoding for empty list, got %v, %v", empty, err)
	}
}

func TestIsConcretePayload_MatchingGobMessage(t *testing.T) {
	err := errors.New("gob: value can only be decoded from remote interface type; received concrete type main.T")
	if !isConcretePayload(err) {
		t.Fatalf("expected the interface/concrete mismatch to be detected")
	}
}

func TestIsConcretePayload_NonMatchingErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "unrelated error", err: errors.New("some other failure")},
		{name: "only interface substring", err: errors.New("gob: value can only be decoded from remote interface type")},
		{name: "only concrete substring", err: errors.New("gob: received concrete type main.T")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if isConcretePayload(tc.err) {
				t.Fatalf("expected false for %q", tc.name)
			}
		})
	}
}
