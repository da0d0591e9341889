// Package severity turns per-modality drift signals into an explainable
// 0-1 score. Scoring is a pure function of its inputs and the passed-in
// config: no hidden state, so any caller can recompute and verify a
// reported score from its breakdown.
package severity

import (
	"math"
	"sort"
	"time"
)

// Modality is one signal class feeding the score.
type Modality string

const (
	ModalitySlack    Modality = "slack"
	ModalityGit      Modality = "git"
	ModalityDoc      Modality = "doc"
	ModalitySemantic Modality = "semantic"
	ModalityGraph    Modality = "graph"
)

// Signal carries the raw term values for one modality. Term names are part
// of the explanation contract: they surface verbatim in the breakdown.
type Signal struct {
	Terms map[string]float64 `json:"terms"`
}

// Config is the immutable scoring policy, passed in at call time. There is
// no process-wide weight table.
type Config struct {
	// Weights sum to 1.0 across all modalities; absent modalities are
	// excluded and the remainder renormalized over present ones.
	Weights map[Modality]float64

	// SlackHalfLife controls exponential recency decay of complaint
	// mentions: weight = 0.5^(age/halfLife).
	SlackHalfLife time.Duration

	// MentionSaturation is the decayed mention count at which the slack
	// sub-score reaches 1.0.
	MentionSaturation float64

	// ChurnSaturation is the changed-line count at which git churn
	// saturates.
	ChurnSaturation float64

	// BlastRadiusSaturation is the reachable-node count at which the graph
	// sub-score reaches 1.0.
	BlastRadiusSaturation float64

	// DocStaleness is the doc age (vs. last code change) at which the doc
	// sub-score reaches 1.0.
	DocStaleness time.Duration
}

func DefaultConfig() Config {
	return Config{
		Weights: map[Modality]float64{
			ModalitySlack:    0.25,
			ModalityGit:      0.25,
			ModalityDoc:      0.20,
			ModalitySemantic: 0.15,
			ModalityGraph:    0.15,
		},
		SlackHalfLife:         72 * time.Hour,
		MentionSaturation:     5,
		ChurnSaturation:       400,
		BlastRadiusSaturation: 10,
		DocStaleness:          30 * 24 * time.Hour,
	}
}

// Breakdown is the per-modality slice of an explanation.
type Breakdown struct {
	Score        float64            `json:"score"`
	Weight       float64            `json:"weight"`
	Contribution float64            `json:"contribution"`
	Terms        map[string]float64 `json:"terms"`
}

// Explanation is the full scoring artifact: every raw sub-score, the
// renormalized weight, the contribution per modality, and the final score.
type Explanation struct {
	Inputs     map[Modality]Breakdown `json:"inputs"`
	FinalScore float64                `json:"final_score"`
}

// Recompute independently re-derives the final score from the breakdown.
// It must match FinalScore within 1e-4; that is the verification contract.
func (e Explanation) Recompute() float64 {
	var sum float64
	for _, b := range e.Inputs {
		sum += b.Weight * b.Score
	}
	return clamp(sum, 0, 1)
}

// Label buckets a score into an operator-facing severity.
func Label(score float64) string {
	switch {
	case score < 0.35:
		return "low"
	case score < 0.6:
		return "medium"
	case score < 0.8:
		return "high"
	default:
		return "critical"
	}
}

// Score computes the weighted multi-modal severity for one entity. Absent
// modalities are excluded and their weight mass redistributed over the
// present ones, so a git-only entity is not artificially dampened.
func Score(signals map[Modality]Signal, cfg Config) Explanation {
	present := make([]Modality, 0, len(signals))
	for m := range signals {
		if cfg.Weights[m] > 0 {
			present = append(present, m)
		}
	}
	sort.Slice(present, func(i, j int) bool { return present[i] < present[j] })

	var weightSum float64
	for _, m := range present {
		weightSum += cfg.Weights[m]
	}

	out := Explanation{Inputs: make(map[Modality]Breakdown, len(present))}
	if weightSum == 0 {
		return out
	}

	var final float64
	for _, m := range present {
		raw := subScore(m, signals[m].Terms, cfg)
		weight := cfg.Weights[m] / weightSum
		contribution := weight * raw
		final += contribution
		out.Inputs[m] = Breakdown{
			Score:        raw,
			Weight:       weight,
			Contribution: contribution,
			Terms:        signals[m].Terms,
		}
	}
	out.FinalScore = clamp(final, 0, 1)
	return out
}

// subScore maps one modality's terms to a raw 0-1 value. Each branch reads
// only the terms its feature extractor wrote.
func subScore(m Modality, terms map[string]float64, cfg Config) float64 {
	switch m {
	case ModalitySlack:
		return saturate(terms["decayed_mentions"], cfg.MentionSaturation)
	case ModalityGit:
		churn := saturate(terms["lines_changed"], cfg.ChurnSaturation)
		breaking := clamp(terms["breaking_markers"], 0, 1)
		return clamp(0.6*churn+0.4*breaking, 0, 1)
	case ModalityDoc:
		return saturate(terms["staleness_hours"], cfg.DocStaleness.Hours())
	case ModalitySemantic:
		return clamp(terms["drift_similarity"], 0, 1)
	case ModalityGraph:
		return saturate(terms["blast_radius"], cfg.BlastRadiusSaturation)
	}
	return 0
}

func saturate(v, at float64) float64 {
	if at <= 0 {
		return 0
	}
	return clamp(v/at, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
