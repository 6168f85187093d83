//go:build !whispercpp

package whisper

import (
	"errors"
	"testing"
)

func TestStubReportsUnavailable(t *testing.T) {
	if Available() {
		t.Fatal("stub build must report bindings unavailable")
	}
}

func TestStubNewFails(t *testing.T) {
	model, err := New("ggml-base.bin")
	if model != nil {
		t.Fatalf("expected nil model, got %v", model)
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestStubSampleFormat(t *testing.T) {
	// The stub must advertise the same input format as the native bindings
	// so audio conversion code behaves identically in both builds.
	if SampleRate != 16000 {
		t.Fatalf("unexpected sample rate %d", SampleRate)
	}
	// Bits per sample, typed uint16, exactly as the bindings declare it.
	var bits uint16 = SampleBits
	if bits != 32 {
		t.Fatalf("unexpected sample width %d", bits)
	}
}
