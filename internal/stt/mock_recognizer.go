package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that reports buffer sizes instead
// of text. Used in tests and as the default backend before a model is
// configured.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, _ int, _ int, final bool) (TranscriptResult, error) {
	mode := "partial"
	if final {
		mode = "final"
	}
	return TranscriptResult{
		Text: fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm)),
	}, nil
}
