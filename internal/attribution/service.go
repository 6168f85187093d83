package attribution

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/whispertype/whisperd/internal/bus"
	"github.com/whispertype/whisperd/internal/config"
	"github.com/whispertype/whisperd/internal/eventstore"
	"github.com/whispertype/whisperd/internal/protocol"
)

// Service joins final transcripts with speaker segments and publishes the
// attributed session transcript. When diarization is disabled or late, the
// transcript goes out unattributed after the wait timeout.
type Service struct {
	cfg            config.AttributionConfig
	bus            *bus.Client
	store          *eventstore.Store
	logger         *slog.Logger
	expectSpeakers bool
	subTranscript  *nats.Subscription
	subSpeakers    *nats.Subscription
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	sessions       map[string]*sessionState
	mu             sync.Mutex
	publishFn      func(subject string, data []byte) error
}

type sessionState struct {
	Transcript *protocol.Transcript
	Speakers   *protocol.SpeakerSegments
	Deadline   *time.Timer
	Published  bool
}

func NewService(parent context.Context, cfg config.AttributionConfig, busClient *bus.Client, store *eventstore.Store, expectSpeakers bool, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:            cfg,
		bus:            busClient,
		store:          store,
		logger:         logger.With(slog.String("component", "attribution")),
		expectSpeakers: expectSpeakers,
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[string]*sessionState),
	}
	if busClient != nil {
		s.publishFn = busClient.Conn().Publish
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return err
	}
	s.subTranscript = sub

	subSpeakers, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakerSegments, s.handleSpeakers)
	if err != nil {
		s.subTranscript.Drain()
		return err
	}
	s.subSpeakers = subSpeakers
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subTranscript != nil {
		_ = s.subTranscript.Drain()
	}
	if s.subSpeakers != nil {
		_ = s.subSpeakers.Drain()
	}
	s.mu.Lock()
	for _, state := range s.sessions {
		if state.Deadline != nil {
			state.Deadline.Stop()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subTranscript != nil && s.subSpeakers != nil)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	if transcript.Partial || transcript.Text == "" {
		return
	}

	s.mu.Lock()
	state := s.ensureSession(transcript.SessionID)
	state.Transcript = &transcript
	ready := state.Speakers != nil || !s.expectSpeakers
	s.mu.Unlock()

	if ready {
		s.finalize(transcript.SessionID)
	}
}

func (s *Service) handleSpeakers(msg *nats.Msg) {
	var speakers protocol.SpeakerSegments
	if err := json.Unmarshal(msg.Data, &speakers); err != nil {
		s.logger.Warn("failed to decode speaker segments", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.ensureSession(speakers.SessionID)
	state.Speakers = &speakers
	ready := state.Transcript != nil
	s.mu.Unlock()

	if ready {
		s.finalize(speakers.SessionID)
	}
}

// ensureSession must be called with s.mu held. It arms the wait deadline on
// first sight of a session.
func (s *Service) ensureSession(sessionID string) *sessionState {
	state := s.sessions[sessionID]
	if state == nil {
		state = &sessionState{}
		s.sessions[sessionID] = state
		timeout := time.Duration(s.cfg.WaitTimeoutMS) * time.Millisecond
		state.Deadline = time.AfterFunc(timeout, func() {
			s.finalize(sessionID)
		})
	}
	return state
}

// finalize publishes the attributed transcript exactly once per session.
func (s *Service) finalize(sessionID string) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil || state.Published {
		s.mu.Unlock()
		return
	}
	if state.Transcript == nil {
		// Deadline fired before the transcript arrived; keep waiting for
		// it and let the transcript handler finalize.
		s.expireSpeakersOnly(sessionID, state)
		s.mu.Unlock()
		return
	}
	state.Published = true
	if state.Deadline != nil {
		state.Deadline.Stop()
	}
	transcript := state.Transcript
	speakers := state.Speakers
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	final := protocol.SessionTranscript{
		SessionID: sessionID,
		Text:      transcript.Text,
		Timestamp: time.Now().UTC(),
	}
	if speakers != nil && len(transcript.Segments) > 0 {
		final.Lines = AssignSpeakers(transcript.Segments, speakers.Segments)
	} else {
		for _, seg := range transcript.Segments {
			final.Lines = append(final.Lines, protocol.AttributedLine{
				Text:    seg.Text,
				StartMS: seg.StartMS,
				EndMS:   seg.EndMS,
			})
		}
	}

	s.publish(final)
	s.record(final)
}

// expireSpeakersOnly drops a session that only ever produced speaker
// segments. Must be called with s.mu held.
func (s *Service) expireSpeakersOnly(sessionID string, state *sessionState) {
	if state.Speakers == nil {
		return
	}
	state.Published = true
	delete(s.sessions, sessionID)
	s.logger.Warn("speaker segments expired without transcript",
		slog.String("session", sessionID))
}

func (s *Service) publish(final protocol.SessionTranscript) {
	data, err := json.Marshal(final)
	if err != nil {
		s.logger.Warn("failed to marshal session transcript", slogError(err))
		return
	}
	if s.publishFn == nil {
		return
	}
	if err := s.publishFn(protocol.SubjectSessionTranscript, data); err != nil {
		s.logger.Warn("failed to publish session transcript", slogError(err))
	}
}

func (s *Service) record(final protocol.SessionTranscript) {
	if s.store == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.AppendTranscript(ctx, final); err != nil {
			s.logger.Warn("failed to record session transcript", slogError(err))
		}
	}()
}

// AssignSpeakers labels each transcript segment with the speaker whose
// diarized spans overlap it the most. Segments with no overlapping speaker
// stay unattributed.
func AssignSpeakers(segments []protocol.TranscriptSegment, speakers []protocol.SpeakerSegment) []protocol.AttributedLine {
	lines := make([]protocol.AttributedLine, 0, len(segments))
	for _, seg := range segments {
		start := float64(seg.StartMS) / 1000
		end := float64(seg.EndMS) / 1000

		overlap := map[string]float64{}
		for _, sp := range speakers {
			o := minFloat(end, sp.End) - maxFloat(start, sp.Start)
			if o > 0 {
				overlap[sp.Speaker] += o
			}
		}

		var best string
		var bestOverlap float64
		for speaker, o := range overlap {
			if o > bestOverlap || (o == bestOverlap && (best == "" || strings.Compare(speaker, best) < 0)) {
				best = speaker
				bestOverlap = o
			}
		}

		lines = append(lines, protocol.AttributedLine{
			Speaker: best,
			Text:    seg.Text,
			StartMS: seg.StartMS,
			EndMS:   seg.EndMS,
		})
	}
	return lines
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
