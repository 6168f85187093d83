//go:build !whispercpp

package whisper

import "time"

const (
	SampleRate = 16000
	// SampleBits carries the bindings' value and type: bits per input
	// sample, and whisper.cpp consumes float32 PCM.
	SampleBits = uint16(32)
)

// Model mirrors the subset of the bindings' model interface the daemon uses.
type Model interface {
	NewContext() (Context, error)
	IsMultilingual() bool
	Close() error
}

// Context mirrors the subset of the bindings' context interface the daemon uses.
type Context interface {
	SetLanguage(lang string) error
	SetTranslate(v bool)
	SetThreads(n uint)
	Process(samples []float32, encoderBegin EncoderBeginCallback, segment SegmentCallback, progress ProgressCallback) error
	NextSegment() (Segment, error)
}

// Segment mirrors the fields of the bindings' segment struct the daemon reads.
type Segment struct {
	Num   int
	Text  string
	Start time.Duration
	End   time.Duration
}

type (
	EncoderBeginCallback = func() bool
	SegmentCallback      = func(Segment)
	ProgressCallback     = func(int)
)

// New always fails in the stub variant.
func New(path string) (Model, error) {
	return nil, ErrUnavailable
}

// Available reports that the native bindings are not compiled in.
func Available() bool { return false }
