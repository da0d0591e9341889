package severity

import (
	"math"
	"strconv"
	"strings"
	"time"

	"driftd/internal/signal"
)

// Complaint vocabulary for the operational modality. Deliberately small:
// false negatives only soften the slack term, they never drop evidence.
var negativeMarkers = []string{
	"broken", "fail", "failing", "error", "wrong", "outdated", "stale",
	"doesn't", "does not", "not working", "regression", "mismatch",
}

var breakingMarkers = []string{
	"breaking change", "breaking:", "!:", "removed endpoint", "renamed field",
	"incompatible",
}

// NegativeMentions counts complaint markers in free text.
func NegativeMentions(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, marker := range negativeMarkers {
		count += strings.Count(lower, marker)
	}
	return count
}

// IsComplaint reports whether an operational message reads as a complaint.
func IsComplaint(text string) bool {
	return NegativeMentions(text) > 0
}

// BreakingMarkers counts breaking-change markers in a commit/PR text.
func BreakingMarkers(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, marker := range breakingMarkers {
		count += strings.Count(lower, marker)
	}
	return count
}

// recencyWeight is the exponential decay applied to complaint mentions:
// 0.5^(age/halfLife), so a complaint never fully vanishes, it just fades.
func recencyWeight(age, halfLife time.Duration) float64 {
	if halfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/halfLife.Hours())
}

// SignalsFromEvidence derives the per-modality term values for one entity
// from its evidence set. Ticket and support evidence feed the slack
// (operational complaint) modality: they are the same signal class.
// The graph modality is not derivable from evidence alone; callers add it
// via GraphSignal.
func SignalsFromEvidence(evidence []signal.Evidence, now time.Time, cfg Config) map[Modality]Signal {
	signals := make(map[Modality]Signal)

	var decayedMentions float64
	var mentionCount int
	var linesChanged, filesChanged float64
	var breaking float64
	gitSeen := false
	var newestCodeChange, oldestDocTouch time.Time
	var semanticMax float64
	semanticSeen := false

	for _, ev := range evidence {
		switch ev.Source {
		case signal.SourceSlack, signal.SourceTicket, signal.SourceSupport:
			mentions := NegativeMentions(ev.Payload["text"])
			if mentions > 0 {
				mentionCount += mentions
				decayedMentions += float64(mentions) * recencyWeight(now.Sub(ev.Timestamp), cfg.SlackHalfLife)
			}
		case signal.SourceGit:
			gitSeen = true
			linesChanged += payloadFloat(ev, "lines_changed")
			filesChanged += payloadFloat(ev, "files_changed")
			breaking += float64(BreakingMarkers(ev.Payload["text"]))
			if ev.Timestamp.After(newestCodeChange) {
				newestCodeChange = ev.Timestamp
			}
		case signal.SourceDoc:
			if oldestDocTouch.IsZero() || ev.Timestamp.Before(oldestDocTouch) {
				oldestDocTouch = ev.Timestamp
			}
		}
		if sim, ok := ev.Payload["drift_similarity"]; ok {
			if v, err := strconv.ParseFloat(sim, 64); err == nil {
				semanticSeen = true
				semanticMax = math.Max(semanticMax, v)
			}
		}
	}

	if mentionCount > 0 {
		signals[ModalitySlack] = Signal{Terms: map[string]float64{
			"mentions":         float64(mentionCount),
			"decayed_mentions": decayedMentions,
		}}
	}
	if gitSeen {
		signals[ModalityGit] = Signal{Terms: map[string]float64{
			"lines_changed":    linesChanged,
			"files_changed":    filesChanged,
			"breaking_markers": math.Min(breaking, 1),
		}}
	}
	if !oldestDocTouch.IsZero() && !newestCodeChange.IsZero() && newestCodeChange.After(oldestDocTouch) {
		signals[ModalityDoc] = Signal{Terms: map[string]float64{
			"staleness_hours": newestCodeChange.Sub(oldestDocTouch).Hours(),
		}}
	}
	if semanticSeen {
		signals[ModalitySemantic] = Signal{Terms: map[string]float64{
			"drift_similarity": semanticMax,
		}}
	}
	return signals
}

// GraphSignal builds the blast-radius modality from a reachability count.
func GraphSignal(blastRadius int) Signal {
	return Signal{Terms: map[string]float64{
		"blast_radius": float64(blastRadius),
	}}
}

func payloadFloat(ev signal.Evidence, key string) float64 {
	v, err := strconv.ParseFloat(ev.Payload[key], 64)
	if err != nil {
		return 0
	}
	return v
}
