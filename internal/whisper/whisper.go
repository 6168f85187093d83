//go:build whispercpp

package whisper

import (
	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// The import above is the entire bridge: it makes the whisper.cpp C API
// visible to Go through cgo. The aliases below add nothing and rename
// nothing; they only let the rest of the tree compile against the same
// declarations when the stub variant is linked instead.

const (
	// SampleRate is the sample rate whisper.cpp expects, in Hz.
	SampleRate = whisper.SampleRate
	// SampleBits is the bit width of an input sample (float32 PCM).
	SampleBits = whisper.SampleBits
)

type (
	Model   = whisper.Model
	Context = whisper.Context
	Segment = whisper.Segment

	EncoderBeginCallback = whisper.EncoderBeginCallback
	SegmentCallback      = whisper.SegmentCallback
	ProgressCallback     = whisper.ProgressCallback
)

// New loads a ggml model from path.
func New(path string) (Model, error) {
	return whisper.New(path)
}

// Available reports that the native bindings are compiled in.
func Available() bool { return true }
