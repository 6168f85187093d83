package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/whispertype/whisperd/internal/audio"
	"github.com/whispertype/whisperd/internal/config"
	"github.com/whispertype/whisperd/internal/protocol"
)

// execDiarizer shells out to a diarization command (typically a pyannote
// wrapper). The command receives a temp WAV path as its last argument and
// prints JSON: {"speakers": [...], "segments": [{"speaker","start","end"}]}.
type execDiarizer struct {
	cmd []string
	cfg config.DiarizeConfig
	mu  sync.Mutex
}

type execOutput struct {
	Speakers []string `json:"speakers"`
	Segments []struct {
		Speaker string  `json:"speaker"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	} `json:"segments"`
}

func NewExecDiarizer(cfg config.DiarizeConfig) (Diarizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse diarize command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("diarize command is empty")
	}
	return &execDiarizer{cmd: args, cfg: cfg}, nil
}

func (d *execDiarizer) Diarize(ctx context.Context, pcm []byte, sampleRate int, channels int) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wavPath, err := audio.WriteTempWAV(pcm, sampleRate, channels)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(wavPath)

	args := append([]string{}, d.cmd[1:]...)
	if d.cfg.MinSpeakers > 0 {
		args = append(args, "--min-speakers", strconv.Itoa(d.cfg.MinSpeakers))
	}
	if d.cfg.MaxSpeakers > 0 {
		args = append(args, "--max-speakers", strconv.Itoa(d.cfg.MaxSpeakers))
	}
	args = append(args, wavPath)

	command := exec.CommandContext(ctx, d.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("diarize command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, fmt.Errorf("decode diarize response: %w", err)
	}

	result := Result{NumSpeakers: len(out.Speakers)}
	for _, seg := range out.Segments {
		result.Segments = append(result.Segments, protocol.SpeakerSegment{
			Speaker: seg.Speaker,
			Start:   seg.Start,
			End:     seg.End,
		})
	}
	if result.NumSpeakers == 0 {
		seen := map[string]struct{}{}
		for _, seg := range result.Segments {
			seen[seg.Speaker] = struct{}{}
		}
		result.NumSpeakers = len(seen)
	}
	return result, nil
}
