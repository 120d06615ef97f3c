package wire

import (
	"testing"

	"backuppeer/internal/errs"
)

func TestDecode_PingRoundTrip(t *testing.T) {
	msg := &PingMsg{Type: TypePing}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ping, ok := decoded.(*PingMsg)
	if !ok {
		t.Fatalf("expected *PingMsg, got %T", decoded)
	}
	if ping.Type != TypePing {
		t.Fatalf("unexpected type: %s", ping.Type)
	}
}

func TestDecode_UnknownTypeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"type":"not-a-real-type"}`))
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
	var protoErr *errs.ProtocolError
	if perr, ok := err.(*errs.ProtocolError); !ok {
		t.Fatalf("expected *errs.ProtocolError, got %T", err)
	} else {
		protoErr = perr
	}
	if protoErr.Reason != errs.ProtocolUnknownType {
		t.Fatalf("expected unknown-type reason, got %s", protoErr.Reason)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}
