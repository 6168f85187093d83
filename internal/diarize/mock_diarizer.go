package diarize

import (
	"context"

	"github.com/whispertype/whisperd/internal/audio"
	"github.com/whispertype/whisperd/internal/protocol"
)

type mockDiarizer struct{}

// NewMockDiarizer returns a diarizer that attributes the whole session to a
// single speaker.
func NewMockDiarizer() Diarizer {
	return &mockDiarizer{}
}

func (m *mockDiarizer) Diarize(_ context.Context, pcm []byte, sampleRate int, channels int) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, nil
	}
	duration := audio.Duration(len(pcm), sampleRate, channels).Seconds()
	return Result{
		Segments: []protocol.SpeakerSegment{
			{Speaker: "SPEAKER_00", Start: 0, End: duration},
		},
		NumSpeakers: 1,
	}, nil
}
