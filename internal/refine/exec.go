package refine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

type execRefiner struct {
	cmd []string
	mu  sync.Mutex
}

type execResponse struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecRefiner(command string) (Refiner, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse refine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("refine command empty")
	}
	return &execRefiner{cmd: args}, nil
}

func (r *execRefiner) Refine(ctx context.Context, req Request) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := map[string]any{
		"transcript":  req.Transcript,
		"system":      systemPrompt,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	base := r.cmd[0]
	args := append([]string{}, r.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("refine exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Result{}, fmt.Errorf("decode refine exec response: %w", err)
	}

	return Result{
		SessionID:        req.SessionID,
		Text:             resp.Text,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}
