// Package diarize labels audio spans with speakers. The heavy lifting runs
// in an external diarization command; this package owns session plumbing and
// result evaluation.
package diarize

import (
	"context"

	"github.com/whispertype/whisperd/internal/protocol"
)

// Result is a full-session diarization output.
type Result struct {
	Segments    []protocol.SpeakerSegment
	NumSpeakers int
}

// Diarizer abstracts diarization backends.
type Diarizer interface {
	Diarize(ctx context.Context, pcm []byte, sampleRate int, channels int) (Result, error)
}
