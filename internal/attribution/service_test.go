package attribution

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/whispertype/whisperd/internal/config"
	"github.com/whispertype/whisperd/internal/protocol"
)

// capturingPublisher records every session transcript the service emits.
type capturingPublisher struct {
	mu        sync.Mutex
	published []protocol.SessionTranscript
}

func (p *capturingPublisher) publish(subject string, data []byte) error {
	var final protocol.SessionTranscript
	if err := json.Unmarshal(data, &final); err != nil {
		return err
	}
	p.mu.Lock()
	p.published = append(p.published, final)
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *capturingPublisher) last() protocol.SessionTranscript {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[len(p.published)-1]
}

func newTestService(t *testing.T, waitTimeoutMS int, expectSpeakers bool) (*Service, *capturingPublisher) {
	t.Helper()
	cfg := config.AttributionConfig{Enabled: true, WaitTimeoutMS: waitTimeoutMS}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewService(context.Background(), cfg, nil, nil, expectSpeakers, logger)
	t.Cleanup(s.Close)
	pub := &capturingPublisher{}
	s.publishFn = pub.publish
	return s, pub
}

func transcriptMsg(t *testing.T, sessionID string) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(protocol.Transcript{
		SessionID: sessionID,
		Text:      "hello there general",
		Segments: []protocol.TranscriptSegment{
			{Text: "hello there", StartMS: 0, EndMS: 2000},
			{Text: "general", StartMS: 2000, EndMS: 3000},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &nats.Msg{Data: data}
}

func speakersMsg(t *testing.T, sessionID string) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(protocol.SpeakerSegments{
		SessionID: sessionID,
		Segments: []protocol.SpeakerSegment{
			{Speaker: "SPEAKER_00", Start: 0, End: 2.0},
			{Speaker: "SPEAKER_01", Start: 2.0, End: 3.0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &nats.Msg{Data: data}
}

func TestFinalizePublishesExactlyOnce(t *testing.T) {
	s, pub := newTestService(t, 10_000, true)

	s.handleTranscript(transcriptMsg(t, "sess"))
	if pub.count() != 0 {
		t.Fatal("must wait for speaker segments before publishing")
	}

	s.handleSpeakers(speakersMsg(t, "sess"))
	if pub.count() != 1 {
		t.Fatalf("expected exactly 1 publish, got %d", pub.count())
	}
	if got := pub.last().Lines[0].Speaker; got != "SPEAKER_00" {
		t.Fatalf("line 0 speaker = %q, want SPEAKER_00", got)
	}

	// Redelivered speaker segments must not produce a second session
	// transcript.
	s.handleSpeakers(speakersMsg(t, "sess"))
	s.handleSpeakers(speakersMsg(t, "sess"))
	if pub.count() != 1 {
		t.Fatalf("redelivered speakers caused a duplicate publish, got %d", pub.count())
	}
}

func TestFinalizeWithoutSpeakersWhenNotExpected(t *testing.T) {
	s, pub := newTestService(t, 10_000, false)

	s.handleTranscript(transcriptMsg(t, "solo"))
	if pub.count() != 1 {
		t.Fatalf("expected immediate publish without diarization, got %d", pub.count())
	}
	for _, line := range pub.last().Lines {
		if line.Speaker != "" {
			t.Fatalf("expected unattributed lines, got speaker %q", line.Speaker)
		}
	}
}

func TestDeadlinePublishesUnattributedTranscript(t *testing.T) {
	s, pub := newTestService(t, 50, true)

	s.handleTranscript(transcriptMsg(t, "late"))
	if pub.count() != 0 {
		t.Fatal("publish before the wait deadline")
	}

	deadline := time.Now().Add(5 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 publish after deadline, got %d", pub.count())
	}
	final := pub.last()
	if len(final.Lines) != 2 {
		t.Fatalf("expected 2 unattributed lines, got %d", len(final.Lines))
	}
	for _, line := range final.Lines {
		if line.Speaker != "" {
			t.Fatalf("expected unattributed lines, got speaker %q", line.Speaker)
		}
	}

	// Speakers arriving after the deadline must not trigger a second
	// publish for the same session.
	s.handleSpeakers(speakersMsg(t, "late"))
	time.Sleep(20 * time.Millisecond)
	if pub.count() != 1 {
		t.Fatalf("late speakers caused a duplicate publish, got %d", pub.count())
	}
}

func TestSpeakersOnlySessionExpiresSilently(t *testing.T) {
	s, pub := newTestService(t, 50, true)

	s.handleSpeakers(speakersMsg(t, "ghost"))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		_, alive := s.sessions["ghost"]
		s.mu.Unlock()
		if !alive {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.mu.Lock()
	_, alive := s.sessions["ghost"]
	s.mu.Unlock()
	if alive {
		t.Fatal("speakers-only session must expire at the deadline")
	}
	if pub.count() != 0 {
		t.Fatalf("speakers-only session must not publish, got %d", pub.count())
	}
}

func TestAssignSpeakersByOverlap(t *testing.T) {
	segments := []protocol.TranscriptSegment{
		{Text: "hello there", StartMS: 0, EndMS: 2000},
		{Text: "hi back", StartMS: 2000, EndMS: 4000},
	}
	speakers := []protocol.SpeakerSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 2.1},
		{Speaker: "SPEAKER_01", Start: 2.1, End: 4.0},
	}

	lines := AssignSpeakers(segments, speakers)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Speaker != "SPEAKER_00" {
		t.Errorf("line 0 speaker = %q, want SPEAKER_00", lines[0].Speaker)
	}
	if lines[1].Speaker != "SPEAKER_01" {
		t.Errorf("line 1 speaker = %q, want SPEAKER_01", lines[1].Speaker)
	}
	if lines[0].Text != "hello there" {
		t.Errorf("line 0 text = %q", lines[0].Text)
	}
}

func TestAssignSpeakersSplitOverlapPicksLarger(t *testing.T) {
	segments := []protocol.TranscriptSegment{
		{Text: "interrupted", StartMS: 0, EndMS: 3000},
	}
	speakers := []protocol.SpeakerSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 1.0},
		{Speaker: "SPEAKER_01", Start: 1.0, End: 3.0},
	}

	lines := AssignSpeakers(segments, speakers)
	if lines[0].Speaker != "SPEAKER_01" {
		t.Errorf("speaker = %q, want SPEAKER_01 (2s overlap beats 1s)", lines[0].Speaker)
	}
}

func TestAssignSpeakersAccumulatesDisjointSpans(t *testing.T) {
	segments := []protocol.TranscriptSegment{
		{Text: "long turn", StartMS: 0, EndMS: 5000},
	}
	// SPEAKER_00 speaks twice for 3s total, SPEAKER_01 once for 2s.
	speakers := []protocol.SpeakerSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 1.5},
		{Speaker: "SPEAKER_01", Start: 1.5, End: 3.5},
		{Speaker: "SPEAKER_00", Start: 3.5, End: 5.0},
	}

	lines := AssignSpeakers(segments, speakers)
	if lines[0].Speaker != "SPEAKER_00" {
		t.Errorf("speaker = %q, want SPEAKER_00", lines[0].Speaker)
	}
}

func TestAssignSpeakersNoOverlapLeavesUnattributed(t *testing.T) {
	segments := []protocol.TranscriptSegment{
		{Text: "silence zone", StartMS: 10000, EndMS: 12000},
	}
	speakers := []protocol.SpeakerSegment{
		{Speaker: "SPEAKER_00", Start: 0, End: 2.0},
	}

	lines := AssignSpeakers(segments, speakers)
	if lines[0].Speaker != "" {
		t.Errorf("speaker = %q, want unattributed", lines[0].Speaker)
	}
}

func TestAssignSpeakersTieBreaksDeterministically(t *testing.T) {
	segments := []protocol.TranscriptSegment{
		{Text: "tied", StartMS: 0, EndMS: 2000},
	}
	speakers := []protocol.SpeakerSegment{
		{Speaker: "SPEAKER_01", Start: 1.0, End: 2.0},
		{Speaker: "SPEAKER_00", Start: 0, End: 1.0},
	}

	for i := 0; i < 10; i++ {
		lines := AssignSpeakers(segments, speakers)
		if lines[0].Speaker != "SPEAKER_00" {
			t.Fatalf("speaker = %q, want SPEAKER_00 on equal overlap", lines[0].Speaker)
		}
	}
}
