package refine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMockRefinerPunctuates(t *testing.T) {
	r := NewMockRefiner()
	result, err := r.Refine(context.Background(), Request{
		SessionID:  "s1",
		Transcript: "hello world",
	})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if result.Text != "Hello world." {
		t.Errorf("text = %q, want %q", result.Text, "Hello world.")
	}
}

func TestMockRefinerKeepsTerminalPunctuation(t *testing.T) {
	r := NewMockRefiner()
	result, err := r.Refine(context.Background(), Request{Transcript: "is it on?"})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if result.Text != "Is it on?" {
		t.Errorf("text = %q, want %q", result.Text, "Is it on?")
	}
}

func TestNewExecRefinerValidation(t *testing.T) {
	if _, err := NewExecRefiner(""); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := NewExecRefiner("'unterminated"); err == nil {
		t.Error("expected error for unparsable command")
	}
	if _, err := NewExecRefiner("cleanup --fast"); err != nil {
		t.Errorf("valid command rejected: %v", err)
	}
}

func TestOllamaRefinerAccumulatesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected streaming request")
		}
		if !strings.Contains(req.Prompt, "hello world") {
			t.Errorf("prompt missing transcript: %q", req.Prompt)
		}
		chunks := []ollamaStreamResponse{
			{Response: "Hello, "},
			{Response: "world.", Done: true, EvalCount: 4, PromptEvalCount: 12},
		}
		enc := json.NewEncoder(w)
		for _, c := range chunks {
			if err := enc.Encode(c); err != nil {
				t.Errorf("encode chunk: %v", err)
			}
		}
	}))
	defer srv.Close()

	r := NewOllamaRefiner(srv.URL, "test-model")
	result, err := r.Refine(context.Background(), Request{
		SessionID:  "s1",
		Transcript: "hello world",
	})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if result.Text != "Hello, world." {
		t.Errorf("text = %q, want %q", result.Text, "Hello, world.")
	}
	if result.CompletionTokens != 4 || result.PromptTokens != 12 {
		t.Errorf("tokens = %d/%d, want 12/4", result.PromptTokens, result.CompletionTokens)
	}
}

func TestOllamaRefinerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewOllamaRefiner(srv.URL, "missing")
	if _, err := r.Refine(context.Background(), Request{Transcript: "x"}); err == nil {
		t.Error("expected error from server failure")
	}
}
