package diarize

import (
	"math"
	"testing"

	"github.com/whispertype/whisperd/internal/protocol"
)

func seg(speaker string, start, end float64) protocol.SpeakerSegment {
	return protocol.SpeakerSegment{Speaker: speaker, Start: start, End: end}
}

func TestSegmentsToFrames(t *testing.T) {
	frames := SegmentsToFrames([]protocol.SpeakerSegment{
		seg("A", 0, 0.5),
		seg("B", 0.5, 1.0),
	}, 1.0, 0.1)
	if len(frames) != 10 {
		t.Fatalf("expected 10 frames, got %d", len(frames))
	}
	for i := 0; i < 5; i++ {
		if frames[i] != "A" {
			t.Fatalf("frame %d: expected A, got %q", i, frames[i])
		}
	}
	for i := 5; i < 10; i++ {
		if frames[i] != "B" {
			t.Fatalf("frame %d: expected B, got %q", i, frames[i])
		}
	}
}

func TestSegmentsToFramesSilence(t *testing.T) {
	frames := SegmentsToFrames([]protocol.SpeakerSegment{seg("A", 0.2, 0.4)}, 1.0, 0.1)
	if frames[0] != "" || frames[9] != "" {
		t.Fatal("expected silence outside segment")
	}
	if frames[2] != "A" || frames[3] != "A" {
		t.Fatal("expected speech inside segment")
	}
}

func TestBestMappingHandlesPermutedLabels(t *testing.T) {
	// Identical segmentation, opposite label names.
	ref := []protocol.SpeakerSegment{seg("SPEAKER_A", 0, 2), seg("SPEAKER_B", 2, 4)}
	pred := []protocol.SpeakerSegment{seg("SPEAKER_01", 0, 2), seg("SPEAKER_00", 2, 4)}

	mapping, accuracy := BestMapping(pred, ref, 4.0, DefaultFrameSize)
	if math.Abs(accuracy-1.0) > 1e-9 {
		t.Fatalf("expected perfect accuracy, got %f", accuracy)
	}
	if mapping["SPEAKER_01"] != "SPEAKER_A" || mapping["SPEAKER_00"] != "SPEAKER_B" {
		t.Fatalf("unexpected mapping %v", mapping)
	}
}

func TestBestMappingNoReferenceSpeech(t *testing.T) {
	_, accuracy := BestMapping(nil, nil, 2.0, DefaultFrameSize)
	if accuracy != 1.0 {
		t.Fatalf("no speech should score 1.0, got %f", accuracy)
	}
}

func TestBestMappingMorePredictedThanReference(t *testing.T) {
	ref := []protocol.SpeakerSegment{seg("GT", 0, 4)}
	pred := []protocol.SpeakerSegment{seg("P0", 0, 3), seg("P1", 3, 4)}

	_, accuracy := BestMapping(pred, ref, 4.0, DefaultFrameSize)
	// Both predictions collapse onto the single reference speaker.
	if math.Abs(accuracy-1.0) > 1e-9 {
		t.Fatalf("expected full coverage, got %f", accuracy)
	}
}

func TestEvaluateBreakdown(t *testing.T) {
	// Reference: speech over [0,2). Prediction misses [1,2) and hallucinates [3,4).
	ref := []protocol.SpeakerSegment{seg("A", 0, 2)}
	pred := []protocol.SpeakerSegment{seg("X", 0, 1), seg("X", 3, 4)}

	_, _, breakdown := Evaluate(pred, ref, 4.0)
	if breakdown.TotalSpeech != 20 {
		t.Fatalf("expected 20 speech frames, got %d", breakdown.TotalSpeech)
	}
	if breakdown.Missed != 10 {
		t.Fatalf("expected 10 missed frames, got %d", breakdown.Missed)
	}
	if breakdown.FalseAlarm != 10 {
		t.Fatalf("expected 10 false alarm frames, got %d", breakdown.FalseAlarm)
	}
	if breakdown.Confusion != 0 {
		t.Fatalf("expected no confusion, got %d", breakdown.Confusion)
	}
	if rate := breakdown.Rate(); math.Abs(rate-1.0) > 1e-9 {
		t.Fatalf("expected DER 1.0, got %f", rate)
	}
}

func TestSpeakers(t *testing.T) {
	got := Speakers([]protocol.SpeakerSegment{seg("B", 0, 1), seg("A", 1, 2), seg("B", 2, 3)})
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected speakers %v", got)
	}
}
