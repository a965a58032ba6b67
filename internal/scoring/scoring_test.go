package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calfuse/internal/evidence"
	"calfuse/internal/registry"
	"calfuse/internal/taxonomy"
)

func f(v float64) *float64 { return &v }

func fullBundle() *evidence.Bundle {
	return &evidence.Bundle{
		Intrinsic: &evidence.IntrinsicQuality{Theory: f(0.9), Implementation: f(0.8), Deployment: f(0.6)},
		Unit:      &evidence.ContractChecks{Passed: 3, Total: 4},
		Chain:     &evidence.ContractChecks{Passed: 10, Total: 10},
		Compatibility: &evidence.CompatibilityRegistry{
			Question:   map[string]float64{"q1": 1.0},
			Dimension:  map[string]float64{"d2": 0.9},
			PolicyArea: map[string]float64{"p3": 0.8},
		},
		Structure: &evidence.DocumentStructure{
			Sections:        map[string]bool{"diagnostic": true, "strategic": true, "monitoring": false, "budget": true},
			IndicatorMatrix: true,
			BudgetMatrix:    false,
		},
		Governance: &evidence.GovernanceArtifacts{VersionTag: "v3.1", ArtifactHash: "abc", Signature: ""},
	}
}

func fullContext() evidence.Context {
	return evidence.Context{MethodID: "m1", QuestionID: "q1", DimensionID: "d2", PolicyAreaID: "p3"}
}

func TestScoreLayer_Rules(t *testing.T) {
	t.Parallel()

	comp := New(registry.DefaultSources().Rubric)
	ev := fullBundle()
	ctx := fullContext()

	cases := []struct {
		layer taxonomy.Layer
		want  float64
	}{
		// 0.40*0.9 + 0.35*0.8 + 0.25*0.6 = 0.79
		{taxonomy.LayerBase, 0.79},
		{taxonomy.LayerUnit, 0.75},
		{taxonomy.LayerChain, 1.0},
		{taxonomy.LayerQuestion, 1.0},
		{taxonomy.LayerDimension, 0.9},
		{taxonomy.LayerPolicy, 0.8},
		// 0.6*(3/4 sections) + 0.2 indicator matrix = 0.65
		{taxonomy.LayerCongruence, 0.65},
		// version tag + hash present, signature absent
		{taxonomy.LayerMeta, 2.0 / 3.0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.layer), func(t *testing.T) {
			t.Parallel()
			got, err := comp.ScoreLayer(tc.layer, ev, ctx)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestScoreLayer_StrictFailures(t *testing.T) {
	t.Parallel()

	comp := New(registry.DefaultSources().Rubric)
	ctx := fullContext()

	cases := []struct {
		name  string
		layer taxonomy.Layer
		ev    *evidence.Bundle
	}{
		{"nil_bundle", taxonomy.LayerBase, nil},
		{"missing_intrinsic", taxonomy.LayerBase, &evidence.Bundle{}},
		{"missing_sub_score", taxonomy.LayerBase, &evidence.Bundle{
			Intrinsic: &evidence.IntrinsicQuality{Theory: f(0.9), Implementation: f(0.8)},
		}},
		{"sub_score_out_of_range", taxonomy.LayerBase, &evidence.Bundle{
			Intrinsic: &evidence.IntrinsicQuality{Theory: f(1.2), Implementation: f(0.8), Deployment: f(0.5)},
		}},
		{"zero_check_total", taxonomy.LayerUnit, &evidence.Bundle{
			Unit: &evidence.ContractChecks{Passed: 0, Total: 0},
		}},
		{"passed_exceeds_total", taxonomy.LayerChain, &evidence.Bundle{
			Chain: &evidence.ContractChecks{Passed: 5, Total: 3},
		}},
		{"no_compatibility_entry", taxonomy.LayerQuestion, &evidence.Bundle{
			Compatibility: &evidence.CompatibilityRegistry{Question: map[string]float64{"other": 0.5}},
		}},
		{"no_structure", taxonomy.LayerCongruence, &evidence.Bundle{}},
		{"no_governance", taxonomy.LayerMeta, &evidence.Bundle{}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := comp.ScoreLayer(tc.layer, tc.ev, ctx)
			var evErr *EvidenceError
			require.ErrorAs(t, err, &evErr)
			assert.Equal(t, tc.layer, evErr.Layer)
		})
	}
}

func TestScoreLayer_ContextIDRequired(t *testing.T) {
	t.Parallel()

	comp := New(registry.DefaultSources().Rubric)
	// Evidence exists, but the context does not address this layer.
	_, err := comp.ScoreLayer(taxonomy.LayerDimension, fullBundle(), evidence.Context{MethodID: "m1"})
	var evErr *EvidenceError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, taxonomy.LayerDimension, evErr.Layer)
}

func TestScoreLayer_RelaxedSubstitutesNeutral(t *testing.T) {
	t.Parallel()

	comp := NewRelaxed(registry.DefaultSources().Rubric, DefaultNeutralScore)

	got, err := comp.ScoreLayer(taxonomy.LayerMeta, &evidence.Bundle{}, fullContext())
	require.NoError(t, err)
	assert.Equal(t, DefaultNeutralScore, got)

	// Usable evidence is still scored normally.
	got, err = comp.ScoreLayer(taxonomy.LayerUnit, fullBundle(), fullContext())
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-9)
}

func TestScoreLayers_CoversActiveSet(t *testing.T) {
	t.Parallel()

	comp := New(registry.DefaultSources().Rubric)
	active := taxonomy.AllLayerSet()

	scores, err := comp.ScoreLayers(active, fullBundle(), fullContext())
	require.NoError(t, err)
	assert.True(t, scores.Layers().Equal(active), "every active layer must be scored")
	for layer, v := range scores {
		assert.NoErrorf(t, taxonomy.CheckUnitScore(string(layer), v), "layer %s", layer)
	}
}

func TestScoreLayers_StrictStopsOnFirstFailure(t *testing.T) {
	t.Parallel()

	comp := New(registry.DefaultSources().Rubric)
	ev := fullBundle()
	ev.Governance = nil

	_, err := comp.ScoreLayers(taxonomy.AllLayerSet(), ev, fullContext())
	var evErr *EvidenceError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, taxonomy.LayerMeta, evErr.Layer)
}

func TestEvidenceError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := &taxonomy.BoundsError{What: "compatibility score", Value: 1.5, Lower: 0, Upper: 1}
	err := &EvidenceError{Layer: taxonomy.LayerQuestion, Reason: "compatibility score out of range", Err: inner}

	var bounds *taxonomy.BoundsError
	assert.True(t, errors.As(err, &bounds))
}
