package protocol

import "time"

// AudioFrame represents PCM audio streamed into the daemon. Payloads are
// little-endian signed 16-bit samples; Final marks the end of a session.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TranscriptSegment is a timed slice of recognized text.
type TranscriptSegment struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Transcript represents recognizer output broadcast on the bus.
type Transcript struct {
	SessionID  string              `json:"session_id"`
	Text       string              `json:"text"`
	Partial    bool                `json:"partial"`
	Timestamp  time.Time           `json:"timestamp"`
	Confidence float64             `json:"confidence,omitempty"`
	Segments   []TranscriptSegment `json:"segments,omitempty"`
}

// SpeakerSegment labels a span of audio with a speaker. Times are seconds
// from session start.
type SpeakerSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// SpeakerSegments is the diarization result for a full session.
type SpeakerSegments struct {
	SessionID   string           `json:"session_id"`
	Segments    []SpeakerSegment `json:"segments"`
	NumSpeakers int              `json:"num_speakers"`
	Timestamp   time.Time        `json:"timestamp"`
}

// AttributedLine is a transcript segment with its assigned speaker. Speaker
// is empty when diarization was unavailable for the span.
type AttributedLine struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// SessionTranscript is the final, speaker-attributed transcript of a session.
type SessionTranscript struct {
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Lines     []AttributedLine `json:"lines,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// RefinedTranscript carries an optional cleanup pass over the final transcript.
type RefinedTranscript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectSpeakerSegments   = "diarize.segments"
	SubjectSessionTranscript = "transcript.final"
	SubjectRefinedTranscript = "transcript.refined"
)
