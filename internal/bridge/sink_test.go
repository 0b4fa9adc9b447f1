package bridge

import (
	"errors"
	"testing"

	"tcp-upload-bridge/internal/model"
)

func TestResponseBuffer_Appends(t *testing.T) {
	r := &responseBuffer{failure: &failureSlot{}}

	for _, chunk := range []string{"HTTP ", "", "body", " bytes"} {
		n, err := r.Write([]byte(chunk))
		if err != nil {
			t.Fatalf("Write(%q) error = %v", chunk, err)
		}
		if n != len(chunk) {
			t.Errorf("Write(%q) = %d, want %d", chunk, n, len(chunk))
		}
	}

	if r.String() != "HTTP body bytes" {
		t.Errorf("String() = %q, want %q", r.String(), "HTTP body bytes")
	}
	if r.Len() != len("HTTP body bytes") {
		t.Errorf("Len() = %d", r.Len())
	}

	r.release()
	if r.Len() != 0 || r.Bytes() != nil {
		t.Error("release() did not drop the buffer")
	}
}

func TestResponseBuffer_Empty(t *testing.T) {
	r := &responseBuffer{failure: &failureSlot{}}
	if r.Len() != 0 || len(r.Bytes()) != 0 {
		t.Errorf("new buffer has %d bytes", r.Len())
	}
}

func TestResponseBuffer_Limit(t *testing.T) {
	failure := &failureSlot{}
	r := &responseBuffer{limit: 8, failure: failure}

	if _, err := r.Write([]byte("12345678")); err != nil {
		t.Fatalf("Write() at the limit error = %v", err)
	}
	n, err := r.Write([]byte("9"))
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Write() past the limit error = %v, want ErrResponseTooLarge", err)
	}
	if n != 0 {
		t.Errorf("Write() past the limit = %d, want 0", n)
	}
	if r.String() != "12345678" {
		t.Errorf("buffer = %q, want unchanged", r.String())
	}
	if reason, _ := failure.load(); reason != model.ReasonResourceExhausted {
		t.Errorf("failure reason = %v, want %v", reason, model.ReasonResourceExhausted)
	}
}
