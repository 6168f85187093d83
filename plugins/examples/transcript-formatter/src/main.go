//go:build tinygo || wasm

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/whispertype/whisperd/plugins/examples/internal/host"
)

type sessionTranscript struct {
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Lines     []attributedLine `json:"lines,omitempty"`
}

type attributedLine struct {
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

type formattedTranscript struct {
	SessionID string `json:"session_id"`
	Markdown  string `json:"markdown"`
}

//export run
func run() {
	host.Log("transcript formatter invocation")
	subject := os.Getenv("WHISPERD_EVENT_SUBJECT")
	if subject != "transcript.final" {
		host.Log("unrecognized subject: " + subject)
		return
	}
	payload := os.Getenv("WHISPERD_EVENT_PAYLOAD")
	if payload == "" {
		host.Log("missing transcript payload")
		return
	}

	var transcript sessionTranscript
	if err := json.Unmarshal([]byte(payload), &transcript); err != nil {
		host.Log("failed to decode transcript: " + err.Error())
		return
	}

	out := formattedTranscript{
		SessionID: transcript.SessionID,
		Markdown:  formatMarkdown(transcript),
	}
	data, err := json.Marshal(out)
	if err != nil {
		host.Log("failed to encode formatted transcript: " + err.Error())
		return
	}
	if !host.Publish("transcript.formatted", data) {
		host.Log("publish rejected for transcript.formatted")
	}
}

func formatMarkdown(t sessionTranscript) string {
	if len(t.Lines) == 0 {
		return t.Text
	}
	var b strings.Builder
	for _, line := range t.Lines {
		speaker := line.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		fmt.Fprintf(&b, "**%s** [%s]: %s\n", speaker, formatTimestamp(line.StartMS), line.Text)
	}
	return b.String()
}

func formatTimestamp(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func main() {}
