package protocol

import (
	"reflect"
	"testing"
)

func TestPeek_ValidKind(t *testing.T) {
	kind, err := Peek([]byte(`{"kind":"node.register","nodeId":"n1"}`))
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if kind != KindNodeRegister {
		t.Errorf("kind = %q, want %q", kind, KindNodeRegister)
	}
}

func TestPeek_InvalidJSON(t *testing.T) {
	if _, err := Peek([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for invalid json")
	}
}

func TestPeek_MissingKind(t *testing.T) {
	if _, err := Peek([]byte(`{}`)); err == nil {
		t.Fatal("expected an error for missing kind")
	}
}

func TestPeek_UnknownKind(t *testing.T) {
	if _, err := Peek([]byte(`{"kind":"bogus.frame"}`)); err == nil {
		t.Fatal("expected an error for an unrecognized kind")
	}
}

func TestEncodeDecode_Roundtrip(t *testing.T) {
	original := NodeRegister{
		Kind:         KindNodeRegister,
		NodeID:       "n1",
		Capabilities: Capabilities{AgentTypes: []string{"research"}},
		Token:        "secret",
	}

	raw, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	kind, err := Peek(raw)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if kind != KindNodeRegister {
		t.Fatalf("kind = %q", kind)
	}

	var decoded NodeRegister
	if err := Decode(raw, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestDecode_MalformedBody(t *testing.T) {
	var dst NodeRegister
	if err := Decode([]byte(`{"nodeId": 123}`), &dst); err == nil {
		t.Fatal("expected an error for a type-mismatched field")
	}
}
