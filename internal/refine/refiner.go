package refine

import (
	"context"
	"time"
)

// Request carries a raw transcript to clean up.
type Request struct {
	SessionID   string
	Transcript  string
	MaxTokens   int
	Temperature float64
}

// Result is the refined transcript from a backend.
type Result struct {
	SessionID        string
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Refiner defines a pluggable transcript post-processing backend.
type Refiner interface {
	Refine(ctx context.Context, req Request) (Result, error)
}

// systemPrompt keeps backends on task: fix punctuation and casing without
// rewriting what was said.
const systemPrompt = "You are a transcription editor. Correct punctuation, " +
	"capitalization, and obvious speech recognition errors in the transcript. " +
	"Do not add, remove, or paraphrase content. Return only the corrected text."
