package severity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftd/internal/signal"
)

func TestScore_RecomputationContract(t *testing.T) {
	cfg := DefaultConfig()
	signals := map[Modality]Signal{
		ModalitySlack:    {Terms: map[string]float64{"decayed_mentions": 3}},
		ModalityGit:      {Terms: map[string]float64{"lines_changed": 200, "breaking_markers": 1}},
		ModalityGraph:    {Terms: map[string]float64{"blast_radius": 4}},
		ModalitySemantic: {Terms: map[string]float64{"drift_similarity": 0.7}},
	}

	exp := Score(signals, cfg)

	// Σ(weight_i × score_i) must reproduce the reported value.
	assert.InDelta(t, exp.FinalScore, exp.Recompute(), 1e-4)

	var contribSum float64
	for _, b := range exp.Inputs {
		assert.InDelta(t, b.Weight*b.Score, b.Contribution, 1e-9)
		contribSum += b.Contribution
	}
	assert.InDelta(t, exp.FinalScore, contribSum, 1e-4)
}

func TestScore_WeightRenormalization(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("absent modalities excluded", func(t *testing.T) {
		exp := Score(map[Modality]Signal{
			ModalityGit: {Terms: map[string]float64{"lines_changed": 400, "breaking_markers": 1}},
		}, cfg)

		require.Len(t, exp.Inputs, 1)
		// Sole present modality carries the full weight.
		assert.InDelta(t, 1.0, exp.Inputs[ModalityGit].Weight, 1e-9)
		assert.InDelta(t, 1.0, exp.FinalScore, 1e-4)
	})

	t.Run("weights sum to one over present modalities", func(t *testing.T) {
		exp := Score(map[Modality]Signal{
			ModalitySlack: {Terms: map[string]float64{"decayed_mentions": 1}},
			ModalityGraph: {Terms: map[string]float64{"blast_radius": 2}},
		}, cfg)

		var weightSum float64
		for _, b := range exp.Inputs {
			weightSum += b.Weight
		}
		assert.InDelta(t, 1.0, weightSum, 1e-9)
	})

	t.Run("no signals", func(t *testing.T) {
		exp := Score(nil, cfg)
		assert.Zero(t, exp.FinalScore)
		assert.Empty(t, exp.Inputs)
	})
}

func TestScore_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	signals := map[Modality]Signal{
		ModalitySlack: {Terms: map[string]float64{"decayed_mentions": 2.5}},
		ModalityDoc:   {Terms: map[string]float64{"staleness_hours": 400}},
	}

	first := Score(signals, cfg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(signals, cfg))
	}
}

func TestLabel_Buckets(t *testing.T) {
	assert.Equal(t, "low", Label(0))
	assert.Equal(t, "low", Label(0.34))
	assert.Equal(t, "medium", Label(0.35))
	assert.Equal(t, "medium", Label(0.59))
	assert.Equal(t, "high", Label(0.6))
	assert.Equal(t, "high", Label(0.79))
	assert.Equal(t, "critical", Label(0.8))
	assert.Equal(t, "critical", Label(1))
}

func TestRecencyWeight_Decay(t *testing.T) {
	halfLife := 72 * time.Hour

	assert.InDelta(t, 1.0, recencyWeight(0, halfLife), 1e-9)
	assert.InDelta(t, 0.5, recencyWeight(72*time.Hour, halfLife), 1e-9)
	assert.InDelta(t, 0.25, recencyWeight(144*time.Hour, halfLife), 1e-9)

	// Older mentions always weigh less.
	assert.Greater(t, recencyWeight(time.Hour, halfLife), recencyWeight(48*time.Hour, halfLife))
}

func TestSignalsFromEvidence(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	evidence := []signal.Evidence{
		{
			ID:        "slack:ops:1",
			Source:    signal.SourceSlack,
			Timestamp: now.Add(-72 * time.Hour),
			Payload:   map[string]string{"text": "payments are broken, docs outdated"},
		},
		{
			ID:        "git:acme/platform:pr-42",
			Source:    signal.SourceGit,
			Timestamp: now.Add(-2 * time.Hour),
			Payload: map[string]string{
				"text":          "BREAKING CHANGE: drop legacy token field",
				"lines_changed": "120",
				"files_changed": "3",
			},
		},
		{
			ID:        "doc:docs/payments.md",
			Source:    signal.SourceDoc,
			Timestamp: now.Add(-240 * time.Hour),
			Payload:   map[string]string{"doc_path": "docs/payments.md"},
		},
	}

	signals := SignalsFromEvidence(evidence, now, cfg)

	require.Contains(t, signals, ModalitySlack)
	// Two markers, both decayed by one half-life.
	assert.InDelta(t, 2.0, signals[ModalitySlack].Terms["mentions"], 1e-9)
	assert.InDelta(t, 1.0, signals[ModalitySlack].Terms["decayed_mentions"], 1e-9)

	require.Contains(t, signals, ModalityGit)
	assert.InDelta(t, 120, signals[ModalityGit].Terms["lines_changed"], 1e-9)
	assert.InDelta(t, 1, signals[ModalityGit].Terms["breaking_markers"], 1e-9)

	require.Contains(t, signals, ModalityDoc)
	assert.InDelta(t, 238, signals[ModalityDoc].Terms["staleness_hours"], 1e-9)

	assert.NotContains(t, signals, ModalityGraph, "graph modality comes from GraphSignal, not evidence")
}

func TestComplaintDetection(t *testing.T) {
	assert.True(t, IsComplaint("checkout is broken"))
	assert.True(t, IsComplaint("the guide is outdated"))
	assert.False(t, IsComplaint("shipped the new release notes"))
	assert.Equal(t, 2, NegativeMentions("broken build, tests fail"))
}
