package hash

import (
	"bytes"
	"strings"
	"testing"
)

func TestReaderMatchesBytes(t *testing.T) {
	payload := []byte("fake-image-bytes")
	fromReader, err := Reader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if fromReader != Bytes(payload) {
		t.Errorf("Reader and Bytes disagree: %s vs %s", fromReader, Bytes(payload))
	}
}

func TestIdenticalBytesIdenticalDigest(t *testing.T) {
	a := Bytes([]byte("same content"))
	b := Bytes([]byte("same content"))
	if a != b {
		t.Errorf("identical bytes produced different digests")
	}
	if a == Bytes([]byte("other content")) {
		t.Errorf("different bytes produced identical digests")
	}
}

func TestDigestShape(t *testing.T) {
	d := Bytes(nil)
	if len(d) != HexLen {
		t.Fatalf("digest length %d, want %d", len(d), HexLen)
	}
	if !Valid(d) {
		t.Errorf("Valid rejected a real digest")
	}
	if Valid(strings.Repeat("z", HexLen)) {
		t.Errorf("Valid accepted non-hex input")
	}
	if Valid("abc123") {
		t.Errorf("Valid accepted short input")
	}
}
