package diarize

import (
	"math"
	"sort"

	"github.com/whispertype/whisperd/internal/protocol"
)

// DefaultFrameSize is the quantization step, in seconds, used when scoring
// diarization output against a reference.
const DefaultFrameSize = 0.1

// quantEpsilon absorbs float artifacts at frame boundaries (0.5/0.1 is not
// exactly 5 in float64).
const quantEpsilon = 1e-9

// SegmentsToFrames quantizes segments into per-frame speaker labels. The
// empty string marks silence. Overlapping segments resolve to the later one.
func SegmentsToFrames(segments []protocol.SpeakerSegment, duration, frameSize float64) []string {
	if duration <= 0 || frameSize <= 0 {
		return nil
	}
	n := int(math.Ceil(duration/frameSize - quantEpsilon))
	frames := make([]string, n)
	for _, seg := range segments {
		start := int(seg.Start/frameSize + quantEpsilon)
		end := int(math.Ceil(seg.End/frameSize - quantEpsilon))
		if start < 0 {
			start = 0
		}
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			frames[i] = seg.Speaker
		}
	}
	return frames
}

// Speakers returns the sorted distinct speaker labels in segments.
func Speakers(segments []protocol.SpeakerSegment) []string {
	seen := map[string]struct{}{}
	for _, seg := range segments {
		seen[seg.Speaker] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BestMapping finds the relabeling of predicted speakers that maximizes
// frame agreement with the reference. Diarization labels are arbitrary
// (SPEAKER_00 vs SPEAKER_A), so all label permutations are tried; speaker
// counts are small enough that brute force is fine.
func BestMapping(pred, ref []protocol.SpeakerSegment, duration, frameSize float64) (map[string]string, float64) {
	predFrames := SegmentsToFrames(pred, duration, frameSize)
	refFrames := SegmentsToFrames(ref, duration, frameSize)

	voiced := 0
	for _, label := range refFrames {
		if label != "" {
			voiced++
		}
	}
	if voiced == 0 {
		// No reference speech: vacuously perfect.
		return map[string]string{}, 1.0
	}

	predSpeakers := Speakers(pred)
	refSpeakers := Speakers(ref)

	var bestMapping map[string]string
	bestAccuracy := 0.0

	if len(predSpeakers) <= len(refSpeakers) {
		forEachPermutation(refSpeakers, len(predSpeakers), func(perm []string) {
			mapping := make(map[string]string, len(predSpeakers))
			for i, p := range predSpeakers {
				mapping[p] = perm[i]
			}
			if acc := frameAgreement(predFrames, refFrames, mapping); acc > bestAccuracy {
				bestAccuracy = acc
				bestMapping = mapping
			}
		})
	} else {
		forEachPermutation(predSpeakers, len(refSpeakers), func(perm []string) {
			mapping := make(map[string]string, len(predSpeakers))
			for i, p := range perm {
				mapping[p] = refSpeakers[i]
			}
			for _, p := range predSpeakers {
				if _, ok := mapping[p]; !ok {
					mapping[p] = refSpeakers[0]
				}
			}
			if acc := frameAgreement(predFrames, refFrames, mapping); acc > bestAccuracy {
				bestAccuracy = acc
				bestMapping = mapping
			}
		})
	}
	if bestMapping == nil {
		bestMapping = map[string]string{}
	}
	return bestMapping, bestAccuracy
}

// frameAgreement scores mapped predicted frames against reference frames
// over voiced reference frames only.
func frameAgreement(pred, ref []string, mapping map[string]string) float64 {
	correct := 0
	total := 0
	for i, refLabel := range ref {
		if refLabel == "" {
			continue
		}
		total++
		if i >= len(pred) || pred[i] == "" {
			continue
		}
		mapped, ok := mapping[pred[i]]
		if !ok {
			mapped = pred[i]
		}
		if mapped == refLabel {
			correct++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// ErrorBreakdown holds diarization error components over quantized frames.
type ErrorBreakdown struct {
	Missed      int
	FalseAlarm  int
	Confusion   int
	TotalSpeech int
}

// Rate computes (missed + false alarm + confusion) / total speech.
func (e ErrorBreakdown) Rate() float64 {
	if e.TotalSpeech == 0 {
		return 0
	}
	return float64(e.Missed+e.FalseAlarm+e.Confusion) / float64(e.TotalSpeech)
}

// Evaluate scores predicted segments against a reference: best label
// mapping, frame agreement, and error components.
func Evaluate(pred, ref []protocol.SpeakerSegment, duration float64) (map[string]string, float64, ErrorBreakdown) {
	mapping, accuracy := BestMapping(pred, ref, duration, DefaultFrameSize)
	predFrames := SegmentsToFrames(pred, duration, DefaultFrameSize)
	refFrames := SegmentsToFrames(ref, duration, DefaultFrameSize)

	var breakdown ErrorBreakdown
	n := len(refFrames)
	if len(predFrames) > n {
		n = len(predFrames)
	}
	for i := 0; i < n; i++ {
		var refLabel, predLabel string
		if i < len(refFrames) {
			refLabel = refFrames[i]
		}
		if i < len(predFrames) {
			predLabel = predFrames[i]
		}
		if refLabel != "" {
			breakdown.TotalSpeech++
			if predLabel == "" {
				breakdown.Missed++
			} else {
				mapped, ok := mapping[predLabel]
				if !ok {
					mapped = predLabel
				}
				if mapped != refLabel {
					breakdown.Confusion++
				}
			}
		} else if predLabel != "" {
			breakdown.FalseAlarm++
		}
	}
	return mapping, accuracy, breakdown
}

// forEachPermutation visits every ordered selection of k elements from set.
func forEachPermutation(set []string, k int, visit func([]string)) {
	if k == 0 {
		visit(nil)
		return
	}
	perm := make([]string, 0, k)
	used := make([]bool, len(set))
	var recurse func()
	recurse = func() {
		if len(perm) == k {
			visit(perm)
			return
		}
		for i := range set {
			if used[i] {
				continue
			}
			used[i] = true
			perm = append(perm, set[i])
			recurse()
			perm = perm[:len(perm)-1]
			used[i] = false
		}
	}
	recurse()
}
