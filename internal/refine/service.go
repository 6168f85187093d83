package refine

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

// Service listens for final session transcripts and republishes cleaned-up
// versions produced by the configured backend.
type Service struct {
	cfg     config.RefineConfig
	bus     *bus.Client
	refiner Refiner
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ready   bool
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.RefineConfig, busClient *bus.Client, refiner Refiner, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		refiner: refiner,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("component", "refine")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSessionTranscript, s.handleTranscript)
	if err != nil {
		return fmt.Errorf("subscribe session transcripts: %w", err)
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

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.SessionTranscript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode session transcript", slogError(err))
		return
	}
	if transcript.Text == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer cancel()

		result, err := s.refiner.Refine(ctx, Request{
			SessionID:   transcript.SessionID,
			Transcript:  transcript.Text,
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
		})
		if err != nil {
			s.logger.Warn("refinement failed",
				slog.String("session", transcript.SessionID), slogError(err))
			return
		}
		if result.Text == "" {
			return
		}

		refined := protocol.RefinedTranscript{
			SessionID: transcript.SessionID,
			Text:      result.Text,
			Source:    s.cfg.Mode,
			Timestamp: time.Now().UTC(),
		}
		data, err := json.Marshal(refined)
		if err != nil {
			s.logger.Warn("failed to marshal refined transcript", slogError(err))
			return
		}
		if err := s.bus.Conn().Publish(protocol.SubjectRefinedTranscript, data); err != nil {
			s.logger.Warn("failed to publish refined transcript", slogError(err))
			return
		}
		s.logger.Debug("published refined transcript",
			slog.String("session", transcript.SessionID),
			slog.Duration("latency", result.Latency))
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
