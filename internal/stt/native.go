package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/whispertype/whisperd/internal/audio"
	"github.com/whispertype/whisperd/internal/config"
	"github.com/whispertype/whisperd/internal/protocol"
	"github.com/whispertype/whisperd/internal/whisper"
)

// nativeRecognizer runs whisper.cpp in-process through the cgo bindings.
// One model is shared across sessions; a context is created per call. The
// bindings are not reentrant per context, so calls are serialized.
type nativeRecognizer struct {
	model whisper.Model
	cfg   config.STTConfig
	mu    sync.Mutex
}

// NewNativeRecognizer loads a ggml model from modelPath. Fails with
// whisper.ErrUnavailable when the daemon was built without the whispercpp tag.
func NewNativeRecognizer(cfg config.STTConfig, modelPath string) (Recognizer, error) {
	if !whisper.Available() {
		return nil, whisper.ErrUnavailable
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", modelPath, err)
	}
	return &nativeRecognizer{model: model, cfg: cfg}, nil
}

func (r *nativeRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}

	samples, err := audio.DecodePCM(pcm, channels)
	if err != nil {
		return TranscriptResult{}, err
	}
	samples = audio.Resample(samples, sampleRate, whisper.SampleRate)
	if len(samples) == 0 {
		return TranscriptResult{}, nil
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("new whisper context: %w", err)
	}

	wctx.SetTranslate(false)
	if r.cfg.Threads > 0 {
		wctx.SetThreads(uint(r.cfg.Threads))
	}
	if lang := r.cfg.Language; lang != "" && r.model.IsMultilingual() {
		if err := wctx.SetLanguage(lang); err != nil {
			return TranscriptResult{}, fmt.Errorf("set language %q: %w", lang, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper process: %w", err)
	}

	var text strings.Builder
	var segments []protocol.TranscriptSegment
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TranscriptResult{}, fmt.Errorf("read segment: %w", err)
		}
		trimmed := strings.TrimSpace(segment.Text)
		if trimmed == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString(" ")
		}
		text.WriteString(trimmed)
		segments = append(segments, protocol.TranscriptSegment{
			Text:    trimmed,
			StartMS: segment.Start.Milliseconds(),
			EndMS:   segment.End.Milliseconds(),
		})
	}

	return TranscriptResult{Text: text.String(), Segments: segments}, nil
}

// Close releases the model.
func (r *nativeRecognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model != nil {
		r.model.Close()
		r.model = nil
	}
}
