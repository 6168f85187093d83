// Package audio converts between the wire format used on the bus
// (little-endian 16-bit PCM) and the formats consumed by recognizer
// backends: float32 mono for the native bindings, WAV files for exec
// backends.
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DecodePCM converts little-endian int16 PCM into mono float32 samples in
// [-1, 1]. Multi-channel input is downmixed by averaging.
func DecodePCM(pcm []byte, channels int) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not 16-bit aligned: %d bytes", len(pcm))
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	total := len(pcm) / 2
	if total%channels != 0 {
		return nil, fmt.Errorf("pcm payload not frame aligned: %d samples, %d channels", total, channels)
	}

	frames := total / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sample := int16(binary.LittleEndian.Uint16(pcm[(i*channels+c)*2:]))
			sum += float32(sample) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// EncodePCM converts mono float32 samples back into little-endian int16 PCM.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// Resample converts samples from one rate to another by linear
// interpolation. Adequate for speech rates in the 8-48 kHz range.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// Duration reports the play time of a PCM payload.
func Duration(pcmBytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := pcmBytes / 2 / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
