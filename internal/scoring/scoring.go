// Package scoring turns raw evidence into per-layer scores in [0,1]. Each
// layer has its own scoring rule; the rules never look at each other's
// evidence and never see the weights.
package scoring

import (
	"fmt"

	"calfuse/internal/evidence"
	"calfuse/internal/logging"
	"calfuse/internal/registry"
	"calfuse/internal/taxonomy"
)

// DefaultNeutralScore is the substitute used by the relaxed profile when a
// layer's evidence is missing or malformed.
const DefaultNeutralScore = 0.5

// EvidenceError reports missing or malformed evidence for a single layer.
// Under the strict profile it fails that layer's computation; the relaxed
// profile substitutes the neutral score and logs it as a warning instead.
type EvidenceError struct {
	Layer  taxonomy.Layer
	Reason string
	Err    error
}

func (e *EvidenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evidence error on layer %s: %s: %v", e.Layer, e.Reason, e.Err)
	}
	return fmt.Sprintf("evidence error on layer %s: %s", e.Layer, e.Reason)
}

func (e *EvidenceError) Unwrap() error { return e.Err }

// Computer scores individual layers from an evidence bundle. The zero value
// is unusable; construct through New or NewRelaxed.
type Computer struct {
	rubric  registry.Rubric
	relaxed bool
	neutral float64
}

// New returns a strict computer: evidence failures surface as *EvidenceError.
func New(rubric registry.Rubric) *Computer {
	return &Computer{rubric: rubric}
}

// NewRelaxed returns a computer that substitutes neutral for failed layers
// and logs a warning instead of returning the error.
func NewRelaxed(rubric registry.Rubric, neutral float64) *Computer {
	return &Computer{rubric: rubric, relaxed: true, neutral: neutral}
}

// ScoreLayer computes one layer's score from the bundle. The returned score
// is always in [0,1] on success.
func (c *Computer) ScoreLayer(layer taxonomy.Layer, ev *evidence.Bundle, ctx evidence.Context) (float64, error) {
	score, err := c.scoreStrict(layer, ev, ctx)
	if err != nil {
		if !c.relaxed {
			return 0, err
		}
		logging.Get(logging.CategoryScoring).Warnw("substituting neutral score",
			"layer", string(layer), "method_id", ctx.MethodID, "cause", err.Error())
		return c.neutral, nil
	}
	return score, nil
}

// ScoreLayers computes every layer in the active set, in canonical order so
// relaxed-profile warnings are reproducible. Strict profile fails on the
// first layer whose evidence is unusable.
func (c *Computer) ScoreLayers(active taxonomy.LayerSet, ev *evidence.Bundle, ctx evidence.Context) (taxonomy.LayerScores, error) {
	scores := make(taxonomy.LayerScores, active.Len())
	for _, layer := range active.Sorted() {
		s, err := c.ScoreLayer(layer, ev, ctx)
		if err != nil {
			return nil, err
		}
		scores[layer] = s
	}
	return scores, nil
}

func (c *Computer) scoreStrict(layer taxonomy.Layer, ev *evidence.Bundle, ctx evidence.Context) (float64, error) {
	if ev == nil {
		return 0, &EvidenceError{Layer: layer, Reason: "no evidence bundle"}
	}
	switch layer {
	case taxonomy.LayerBase:
		return c.scoreBase(ev.Intrinsic)
	case taxonomy.LayerUnit:
		return scoreChecks(taxonomy.LayerUnit, ev.Unit)
	case taxonomy.LayerChain:
		return scoreChecks(taxonomy.LayerChain, ev.Chain)
	case taxonomy.LayerQuestion:
		return scoreLookup(taxonomy.LayerQuestion, ctx.QuestionID, ev.Compatibility.LookupQuestion)
	case taxonomy.LayerDimension:
		return scoreLookup(taxonomy.LayerDimension, ctx.DimensionID, ev.Compatibility.LookupDimension)
	case taxonomy.LayerPolicy:
		return scoreLookup(taxonomy.LayerPolicy, ctx.PolicyAreaID, ev.Compatibility.LookupPolicyArea)
	case taxonomy.LayerCongruence:
		return scoreStructure(ev.Structure)
	case taxonomy.LayerMeta:
		return scoreGovernance(ev.Governance)
	default:
		return 0, &EvidenceError{Layer: layer, Reason: "no scoring rule for layer"}
	}
}

// scoreBase combines the intrinsic theory/implementation/deployment
// sub-scores under the rubric's section weights.
func (c *Computer) scoreBase(iq *evidence.IntrinsicQuality) (float64, error) {
	if iq == nil {
		return 0, &EvidenceError{Layer: taxonomy.LayerBase, Reason: "no intrinsic quality evidence"}
	}
	subs := []struct {
		section string
		value   *float64
	}{
		{registry.RubricTheory, iq.Theory},
		{registry.RubricImplementation, iq.Implementation},
		{registry.RubricDeployment, iq.Deployment},
	}
	var weighted, mass float64
	for _, sub := range subs {
		if sub.value == nil {
			return 0, &EvidenceError{Layer: taxonomy.LayerBase, Reason: "missing sub-score " + sub.section}
		}
		if err := taxonomy.CheckUnitScore(sub.section+" sub-score", *sub.value); err != nil {
			return 0, &EvidenceError{Layer: taxonomy.LayerBase, Reason: "sub-score out of range", Err: err}
		}
		w, ok := c.rubric.Section(sub.section)
		if !ok {
			return 0, &EvidenceError{Layer: taxonomy.LayerBase, Reason: "rubric has no section " + sub.section}
		}
		weighted += w * *sub.value
		mass += w
	}
	if mass <= 0 {
		return 0, &EvidenceError{Layer: taxonomy.LayerBase, Reason: "rubric sections carry no weight"}
	}
	return weighted / mass, nil
}

// scoreChecks converts a pass/fail check suite to a passed fraction.
func scoreChecks(layer taxonomy.Layer, checks *evidence.ContractChecks) (float64, error) {
	if checks == nil {
		return 0, &EvidenceError{Layer: layer, Reason: "no contract check evidence"}
	}
	if checks.Total <= 0 {
		return 0, &EvidenceError{Layer: layer, Reason: fmt.Sprintf("non-positive check total %d", checks.Total)}
	}
	if checks.Passed < 0 || checks.Passed > checks.Total {
		return 0, &EvidenceError{Layer: layer, Reason: fmt.Sprintf("passed count %d outside [0, %d]", checks.Passed, checks.Total)}
	}
	return float64(checks.Passed) / float64(checks.Total), nil
}

// scoreLookup reads a pre-computed compatibility score keyed by the context.
func scoreLookup(layer taxonomy.Layer, id string, lookup func(string) (float64, bool)) (float64, error) {
	if id == "" {
		return 0, &EvidenceError{Layer: layer, Reason: "context carries no id for this layer"}
	}
	v, ok := lookup(id)
	if !ok {
		return 0, &EvidenceError{Layer: layer, Reason: fmt.Sprintf("no compatibility entry for %q", id)}
	}
	if err := taxonomy.CheckUnitScore("compatibility score", v); err != nil {
		return 0, &EvidenceError{Layer: layer, Reason: "compatibility score out of range", Err: err}
	}
	return v, nil
}

// Weighting of the congruence evidence components: section skeleton versus
// the two structural matrices.
const (
	congruenceSectionShare = 0.6
	congruenceMatrixShare  = 0.2
)

// scoreStructure scores document congruence from section presence and the
// indicator/budget matrices.
func scoreStructure(s *evidence.DocumentStructure) (float64, error) {
	if s == nil {
		return 0, &EvidenceError{Layer: taxonomy.LayerCongruence, Reason: "no document structure evidence"}
	}
	if len(s.Sections) == 0 {
		return 0, &EvidenceError{Layer: taxonomy.LayerCongruence, Reason: "no section presence facts"}
	}
	present := 0
	for _, ok := range s.Sections {
		if ok {
			present++
		}
	}
	score := congruenceSectionShare * float64(present) / float64(len(s.Sections))
	if s.IndicatorMatrix {
		score += congruenceMatrixShare
	}
	if s.BudgetMatrix {
		score += congruenceMatrixShare
	}
	return score, nil
}

// scoreGovernance scores META from the presence of governance artifacts.
// Each of the three artifacts contributes an equal share.
func scoreGovernance(g *evidence.GovernanceArtifacts) (float64, error) {
	if g == nil {
		return 0, &EvidenceError{Layer: taxonomy.LayerMeta, Reason: "no governance evidence"}
	}
	present := 0
	for _, artifact := range []string{g.VersionTag, g.ArtifactHash, g.Signature} {
		if artifact != "" {
			present++
		}
	}
	return float64(present) / 3.0, nil
}
