package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/whispertype/whisperd/internal/bus"
	"github.com/whispertype/whisperd/internal/config"
	"github.com/whispertype/whisperd/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Service consumes audio frames from the bus and publishes transcripts.
// Each session buffers PCM; partial transcriptions run on an interval and a
// final pass covers the whole buffer when the terminal frame arrives.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	sessions   map[string]*sessionState
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	ready      bool
	latency    metric.Float64Histogram
}

type sessionState struct {
	Buffer       []byte
	SampleRate   int
	Channels     int
	LastPartial  time.Time
	Inflight     bool
	PendingFinal bool
	Trimmed      bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		sessions:   make(map[string]*sessionState),
		ctx:        ctx,
		cancel:     cancel,
	}
	meter := otel.Meter("github.com/whispertype/whisperd/stt")
	if hist, err := meter.Float64Histogram("whisperd.stt.transcribe.seconds",
		metric.WithDescription("Wall time of a transcription pass")); err == nil {
		s.latency = hist
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// maxBufferBytes caps a session's PCM buffer. Zero means unlimited.
func (s *Service) maxBufferBytes() int {
	if s.cfg.MaxBufferSecs <= 0 {
		return 0
	}
	return s.cfg.MaxBufferSecs * s.cfg.SampleRate * s.cfg.Channels * 2
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}
	if len(frame.PCM)%2 != 0 {
		s.bus.Logger().Warn("dropping misaligned audio frame",
			slog.String("session", frame.SessionID), slog.Int("bytes", len(frame.PCM)))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		// The frame's own format wins; config only fills in senders that
		// omit it.
		state = &sessionState{SampleRate: frame.SampleRate, Channels: frame.Channels}
		if state.SampleRate <= 0 {
			state.SampleRate = s.cfg.SampleRate
		}
		if state.Channels <= 0 {
			state.Channels = s.cfg.Channels
		}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	if max := s.maxBufferBytes(); max > 0 && len(state.Buffer) > max {
		// Keep the tail; dictation sessions care about recency once the
		// cap is blown.
		trimmed := len(state.Buffer) - max
		state.Buffer = append(state.Buffer[:0:0], state.Buffer[trimmed:]...)
		if !state.Trimmed {
			state.Trimmed = true
			s.bus.Logger().Warn("session buffer capped",
				slog.String("session", frame.SessionID), slog.Int("max_bytes", max))
		}
	}
	s.mu.Unlock()

	if s.cfg.EmitPartials && !frame.Final {
		if s.shouldSchedulePartial(frame.SessionID) {
			s.scheduleTranscription(frame.SessionID, false)
		}
	}
	if frame.Final {
		s.scheduleTranscription(frame.SessionID, true)
	}
}

func (s *Service) shouldSchedulePartial(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sessions[sessionID]
	if state == nil {
		return false
	}
	if state.Inflight {
		return false
	}
	if state.LastPartial.IsZero() {
		state.LastPartial = time.Now()
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if time.Since(state.LastPartial) >= interval {
		state.LastPartial = time.Now()
		return true
	}
	return false
}

func (s *Service) scheduleTranscription(sessionID string, final bool) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		if final {
			state.PendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.Buffer...)
	sampleRate, channels := state.SampleRate, state.Channels
	if sampleRate <= 0 {
		sampleRate = s.cfg.SampleRate
	}
	if channels <= 0 {
		channels = s.cfg.Channels
	}
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		start := time.Now()
		result, err := s.recognizer.Transcribe(ctx, pcm, sampleRate, channels, final)
		if s.latency != nil {
			s.latency.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.Bool("final", final)))
		}
		if err != nil {
			s.bus.Logger().Warn("transcription failed", slogError(err))
		} else {
			s.publishTranscript(sessionID, result, final)
		}

		s.mu.Lock()
		state := s.sessions[sessionID]
		var pendingFinal bool
		if state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			if !final {
				state.LastPartial = time.Now()
			}
			if final {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if pendingFinal && !final {
			s.scheduleTranscription(sessionID, true)
		}
	}()
}

func (s *Service) publishTranscript(sessionID string, result TranscriptResult, final bool) {
	if result.Text == "" {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if final {
		subject = protocol.SubjectTranscriptFinal
	}
	msg := protocol.Transcript{
		SessionID:  sessionID,
		Text:       result.Text,
		Partial:    !final,
		Timestamp:  time.Now().UTC(),
		Confidence: result.Confidence,
		Segments:   result.Segments,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
