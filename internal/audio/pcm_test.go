package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func pcmFromInt16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestDecodePCMMono(t *testing.T) {
	pcm := pcmFromInt16(0, 16384, -16384, 32767)
	samples, err := DecodePCM(pcm, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if math.Abs(float64(samples[i]-want[i])) > 1e-6 {
			t.Fatalf("sample %d: expected %f, got %f", i, want[i], samples[i])
		}
	}
}

func TestDecodePCMDownmix(t *testing.T) {
	// Two stereo frames: (0.5, -0.5) averages to 0, (0.5, 0.5) to 0.5.
	pcm := pcmFromInt16(16384, -16384, 16384, 16384)
	samples, err := DecodePCM(pcm, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(samples))
	}
	if math.Abs(float64(samples[0])) > 1e-6 {
		t.Fatalf("expected silence after downmix, got %f", samples[0])
	}
	if math.Abs(float64(samples[1]-0.5)) > 1e-6 {
		t.Fatalf("expected 0.5 after downmix, got %f", samples[1])
	}
}

func TestDecodePCMRejectsMisaligned(t *testing.T) {
	if _, err := DecodePCM([]byte{0x01}, 1); err == nil {
		t.Fatal("expected error for odd byte count")
	}
	if _, err := DecodePCM(pcmFromInt16(1, 2, 3), 2); err == nil {
		t.Fatal("expected error for frame misalignment")
	}
}

func TestResampleHalvesLength(t *testing.T) {
	in := make([]float32, 320)
	out := Resample(in, 32000, 16000)
	if len(out) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(out))
	}
}

func TestResampleNoopSameRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	out := Resample(in, 16000, 16000)
	if len(out) != 2 || out[0] != 0.1 {
		t.Fatalf("expected passthrough, got %v", out)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.99}
	pcm := EncodePCM(in)
	out, err := DecodePCM(pcm, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d: expected %f, got %f", i, in[i], out[i])
		}
	}
}

func TestDuration(t *testing.T) {
	// One second of 16 kHz mono is 32000 bytes.
	if d := Duration(32000, 16000, 1); d != time.Second {
		t.Fatalf("expected 1s, got %v", d)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmFromInt16(0, 1000, -1000, 32767, -32768)
	path := filepath.Join(t.TempDir(), "test.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := WriteWAV(file, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	file.Close()

	got, rate, channels, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Fatalf("unexpected format %d/%d", rate, channels)
	}
	if len(got) != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), len(got))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}
