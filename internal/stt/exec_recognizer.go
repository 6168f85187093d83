package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/whispertype/whisperd/internal/audio"
	"github.com/whispertype/whisperd/internal/config"
	"github.com/whispertype/whisperd/internal/protocol"
)

// execRecognizer shells out to an external transcription command. The
// command receives a temp WAV via --audio and prints a JSON result on
// stdout.
type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Segments   []struct {
		Text    string `json:"text"`
		StartMS int64  `json:"start_ms"`
		EndMS   int64  `json:"end_ms"`
	} `json:"segments"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wavPath, err := audio.WriteTempWAV(pcm, sampleRate, channels)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer os.Remove(wavPath)

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", wavPath)
	if r.cfg.Language != "" {
		args = append(args, "--language", r.cfg.Language)
	}
	if !final {
		args = append(args, "--partial")
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}

	result := TranscriptResult{Text: resp.Text, Confidence: resp.Confidence}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, protocol.TranscriptSegment{
			Text:    seg.Text,
			StartMS: seg.StartMS,
			EndMS:   seg.EndMS,
		})
	}
	return result, nil
}
