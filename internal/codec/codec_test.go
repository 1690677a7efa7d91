package codec

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestCBORDeterministic(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("CBOR: %v", err)
	}
	a, err := c.Marshal(map[string]any{"b": 2, "a": 1, "c": []any{"x", 3}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := c.Marshal(map[string]any{"c": []any{"x", 3}, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("canonical encoding should not depend on map insertion order")
	}
}

func TestCBORNestedMapsDecodeWithStringKeys(t *testing.T) {
	c := MustCBOR()
	data, err := c.Marshal(map[string]any{"outer": map[string]any{"n": 42}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("top level decoded as %T", out)
	}
	inner, ok := m["outer"].(map[string]any)
	if !ok {
		t.Fatalf("nested map decoded as %T", m["outer"])
	}
	if n, ok := inner["n"].(uint64); !ok || n != 42 {
		t.Fatalf("n = %#v", inner["n"])
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Get("application/json") == nil {
		t.Fatal("json codec should be preloaded")
	}
	if r.Get(ContentTypeCBOR) != nil {
		t.Fatal("cbor should not be preloaded")
	}
	r.Register(MustCBOR())
	if r.Get(ContentTypeCBOR) == nil {
		t.Fatal("cbor codec not registered")
	}
}

func TestProtoCodec(t *testing.T) {
	c := Proto()
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	b, err := c.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out structpb.Struct
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Fields["k"].GetStringValue() != "v" {
		t.Fatalf("roundtrip mismatch: %v", out.Fields)
	}
	if _, err := c.Marshal("not a message"); err == nil {
		t.Fatal("expected error for non-proto value")
	}
}
