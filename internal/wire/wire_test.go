package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	in := Handshake{FirstSeq: 42, HeartbeatInterval: 5}
	out, err := DecodeHandshake(EncodeHandshake(in))
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestEventRoundTrip(t *testing.T) {
	in := Event{Seq: 7, Payload: []byte("hello")}
	out, err := DecodeEvent(EncodeEvent(in))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out.Seq != in.Seq || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestEventRoundTripEmptyPayload(t *testing.T) {
	in := Event{Seq: 1, Payload: nil}
	out, err := DecodeEvent(EncodeEvent(in))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out.Seq != in.Seq {
		t.Fatalf("Seq = %d, want %d", out.Seq, in.Seq)
	}
}

func TestSeqOnlyRoundTrip(t *testing.T) {
	out, err := DecodeSeqOnly(EncodeSeqOnly(123))
	if err != nil {
		t.Fatalf("DecodeSeqOnly: %v", err)
	}
	if out != 123 {
		t.Fatalf("got %d, want 123", out)
	}
}

func TestNackRoundTrip(t *testing.T) {
	in := []uint64{3, 5, 9}
	out, err := DecodeNack(EncodeNack(in))
	if err != nil {
		t.Fatalf("DecodeNack: %v", err)
	}
	if !reflect.DeepEqual(out.Seqs, in) {
		t.Fatalf("got %v, want %v", out.Seqs, in)
	}
}

func TestNackRoundTripEmpty(t *testing.T) {
	out, err := DecodeNack(EncodeNack(nil))
	if err != nil {
		t.Fatalf("DecodeNack: %v", err)
	}
	if len(out.Seqs) != 0 {
		t.Fatalf("expected no seqs, got %v", out.Seqs)
	}
}

func TestFramePrependsKindAndLength(t *testing.T) {
	body := []byte("abc")
	framed := Frame(KindEvent, body)

	if framed[0] != byte(KindEvent) {
		t.Fatalf("kind byte = %d, want %d", framed[0], KindEvent)
	}
	length := int(framed[1])<<24 | int(framed[2])<<16 | int(framed[3])<<8 | int(framed[4])
	if length != len(body) {
		t.Fatalf("length prefix = %d, want %d", length, len(body))
	}
	if !bytes.Equal(framed[5:], body) {
		t.Fatalf("body = %v, want %v", framed[5:], body)
	}
}
