package refine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type ollamaRefiner struct {
	endpoint string
	model    string
}

func NewOllamaRefiner(endpoint, model string) Refiner {
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaRefiner{endpoint: endpoint, model: model}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

func (r *ollamaRefiner) Refine(ctx context.Context, req Request) (Result, error) {
	payload := ollamaRequest{
		Model:  r.model,
		Prompt: req.Transcript,
		System: systemPrompt,
		Stream: true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("ollama returned status %s", resp.Status)
	}

	start := time.Now()
	result := Result{SessionID: req.SessionID}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Result{}, err
		}
		result.Text += chunk.Response
		if chunk.EvalCount > 0 {
			result.CompletionTokens = chunk.EvalCount
		}
		if chunk.PromptEvalCount > 0 {
			result.PromptTokens = chunk.PromptEvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}
	result.Latency = time.Since(start)
	return result, nil
}
