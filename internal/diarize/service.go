package diarize

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
)

// Service buffers a session's audio and runs diarization once the terminal
// frame arrives. Unlike transcription there is no partial pass: speaker
// clustering needs the whole recording.
type Service struct {
	cfg      config.DiarizeConfig
	bus      *bus.Client
	diarizer Diarizer
	sessions map[string]*sessionBuffer
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    bool
}

type sessionBuffer struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func NewService(parent context.Context, cfg config.DiarizeConfig, busClient *bus.Client, diarizer Diarizer) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		diarizer: diarizer,
		sessions: make(map[string]*sessionBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
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

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}
	if len(frame.PCM)%2 != 0 {
		return
	}

	s.mu.Lock()
	buffer := s.sessions[frame.SessionID]
	if buffer == nil {
		buffer = &sessionBuffer{SampleRate: frame.SampleRate, Channels: frame.Channels}
		s.sessions[frame.SessionID] = buffer
	}
	buffer.PCM = append(buffer.PCM, frame.PCM...)
	var pcm []byte
	var sampleRate, channels int
	if frame.Final {
		pcm = buffer.PCM
		sampleRate = buffer.SampleRate
		channels = buffer.Channels
		delete(s.sessions, frame.SessionID)
	}
	s.mu.Unlock()

	if !frame.Final || len(pcm) == 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 120*time.Second)
		defer cancel()

		result, err := s.diarizer.Diarize(ctx, pcm, sampleRate, channels)
		if err != nil {
			s.bus.Logger().Warn("diarization failed",
				slog.String("session", frame.SessionID), slogError(err))
			return
		}
		s.publishSegments(frame.SessionID, result)
	}()
}

func (s *Service) publishSegments(sessionID string, result Result) {
	msg := protocol.SpeakerSegments{
		SessionID:   sessionID,
		Segments:    result.Segments,
		NumSpeakers: result.NumSpeakers,
		Timestamp:   time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal speaker segments", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeakerSegments, data); err != nil {
		s.bus.Logger().Warn("failed to publish speaker segments", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
