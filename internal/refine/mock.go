package refine

import (
	"context"
	"strings"
	"time"
	"unicode"
)

type mockRefiner struct{}

func NewMockRefiner() Refiner { return &mockRefiner{} }

// Refine uppercases the first letter and appends a period when missing. Good
// enough to see the refinement path light up without a model.
func (m *mockRefiner) Refine(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	text := strings.TrimSpace(req.Transcript)
	if text != "" {
		runes := []rune(text)
		runes[0] = unicode.ToUpper(runes[0])
		text = string(runes)
		if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "?") && !strings.HasSuffix(text, "!") {
			text += "."
		}
	}
	return Result{
		SessionID: req.SessionID,
		Text:      text,
		Latency:   10 * time.Millisecond,
	}, nil
}
