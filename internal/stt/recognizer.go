package stt

import (
	"context"

	"github.com/whispertype/whisperd/internal/protocol"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
	Segments   []protocol.TranscriptSegment
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}
