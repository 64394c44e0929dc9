package wire

import (
	"bytes"
	"testing"

	"github.com/shardnode/shardnode/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	body := make([]byte, 255)
	for i := range body {
		body[i] = byte(i)
	}

	framed := Frame(body, types.StartByteNormal, nil)
	if len(framed) != headerSize+len(body) {
		t.Fatalf("unexpected framed length: got %d want %d", len(framed), headerSize+len(body))
	}

	frame, consumed, result, err := TryRead(framed, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != Success {
		t.Fatalf("expected Success, got %v", result)
	}
	if consumed != len(framed) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(framed), consumed)
	}
	if frame.StartByte != types.StartByteNormal {
		t.Fatalf("unexpected start byte: %v", frame.StartByte)
	}
	if !bytes.Equal(frame.Message, body) {
		t.Fatalf("round-tripped body mismatch")
	}
}

func TestTryReadMalformedVersion(t *testing.T) {
	framed := Frame([]byte("hello"), types.StartByteNormal, nil)
	corrupt := append([]byte{0xFF}, framed...)

	_, _, result, err := TryRead(corrupt, 1<<20)
	if result != Malformed {
		t.Fatalf("expected Malformed, got %v", result)
	}
	if err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestTryReadNeedsMore(t *testing.T) {
	framed := Frame([]byte("hello world"), types.StartByteNormal, nil)
	_, _, result, err := TryRead(framed[:headerSize+3], 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != NeedMore {
		t.Fatalf("expected NeedMore, got %v", result)
	}
}

func TestTryReadBodyTooLarge(t *testing.T) {
	framed := Frame(make([]byte, 100), types.StartByteNormal, nil)
	_, _, result, err := TryRead(framed, 10)
	if result != Malformed || err == nil {
		t.Fatalf("expected Malformed with error, got result=%v err=%v", result, err)
	}
}

func TestBroadcastHashVerification(t *testing.T) {
	body := []byte("hello")
	framed := Frame(body, types.StartByteBroadcast, nil)

	frame, _, result, err := TryRead(framed, 1<<20)
	if err != nil || result != Success {
		t.Fatalf("expected successful broadcast parse, got result=%v err=%v", result, err)
	}
	if frame.BroadcastHash != HashBody(body) {
		t.Fatalf("hash mismatch in parsed frame")
	}

	// Corrupt the hash byte following the header.
	corrupted := append([]byte(nil), framed...)
	corrupted[headerSize] ^= 0xFF
	_, _, result, err = TryRead(corrupted, 1<<20)
	if result != Malformed || err == nil {
		t.Fatalf("expected Malformed for hash mismatch, got result=%v err=%v", result, err)
	}
}

func TestUnknownStartByte(t *testing.T) {
	framed := Frame([]byte("x"), types.StartByteNormal, nil)
	corrupt := append([]byte(nil), framed...)
	corrupt[1] = 0x99
	_, _, result, err := TryRead(corrupt, 1<<20)
	if result != Malformed || err == nil {
		t.Fatalf("expected Malformed for unknown start byte, got result=%v err=%v", result, err)
	}
}
