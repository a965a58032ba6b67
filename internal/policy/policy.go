// Package policy turns calibration scores into execution and weighting
// decisions, and tracks score history for drift detection. It is the only
// component in the engine with mutable shared state: the append-only metrics
// history behind a mutex.
package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"calfuse/internal/logging"
)

// Band names a quality band. Bands partition [0,1] exhaustively; every score
// maps to exactly one band.
type Band string

const (
	BandExcellent  Band = "EXCELLENT"
	BandGood       Band = "GOOD"
	BandAcceptable Band = "ACCEPTABLE"
	BandPoor       Band = "POOR"
)

// BandSpec is one band's minimum score (inclusive) and the factor applied to
// base weights inside that band. Bands are ordered by descending threshold;
// the lowest band is the catch-all and its threshold is effectively zero.
type BandSpec struct {
	Band      Band    `json:"band" yaml:"band"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Factor    float64 `json:"factor" yaml:"factor"`
}

// DefaultBands returns the standard four-band partition.
func DefaultBands() []BandSpec {
	return []BandSpec{
		{Band: BandExcellent, Threshold: 0.85, Factor: 1.2},
		{Band: BandGood, Threshold: 0.70, Factor: 1.0},
		{Band: BandAcceptable, Threshold: 0.55, Factor: 0.8},
		{Band: BandPoor, Threshold: 0, Factor: 0.5},
	}
}

// DefaultMinExecutionScore is the strict-mode execution gate.
const DefaultMinExecutionScore = 0.55

// CalibrationWeight is the ephemeral result of adjusting a base weight by a
// calibration score. It is recomputed on demand and never stored.
type CalibrationWeight struct {
	MethodID         string  `json:"method_id"`
	BaseWeight       float64 `json:"base_weight"`
	CalibrationScore float64 `json:"calibration_score"`
	AdjustedWeight   float64 `json:"adjusted_weight"`
	AdjustmentFactor float64 `json:"adjustment_factor"`
	QualityBand      Band    `json:"quality_band"`
	Reason           string  `json:"reason"`
}

// Selection is the winner of a best-candidate pick.
type Selection struct {
	MethodID string  `json:"method_id"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// EmptyCandidateSetError reports a selection over zero candidates. It is
// never resolved silently; the caller decides what an empty field means.
type EmptyCandidateSetError struct{}

func (e *EmptyCandidateSetError) Error() string {
	return "cannot select best method from an empty candidate set"
}

// Metrics is one append-only drift-tracking record.
type Metrics struct {
	RecordID         string    `json:"record_id"`
	Timestamp        time.Time `json:"timestamp"`
	PhaseID          string    `json:"phase_id,omitempty"`
	MethodID         string    `json:"method_id"`
	CalibrationScore float64   `json:"calibration_score"`
	QualityBand      Band      `json:"quality_band"`
	WeightAdjustment float64   `json:"weight_adjustment"`
	InfluencedOutput bool      `json:"influenced_output"`
}

// Policy holds the band configuration and the metrics history.
type Policy struct {
	bands      []BandSpec
	minExecute float64

	mu      sync.Mutex
	history []Metrics
}

// New builds a policy from a band partition. Bands must be non-empty, have
// non-negative factors, and carry strictly descending thresholds in [0,1].
func New(bands []BandSpec, minExecute float64) (*Policy, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("policy needs at least one quality band")
	}
	prev := 1.0 + 1e-9
	for i, b := range bands {
		if b.Band == "" {
			return nil, fmt.Errorf("band %d has no name", i)
		}
		if b.Threshold < 0 || b.Threshold > 1 {
			return nil, fmt.Errorf("band %s: threshold %v outside [0,1]", b.Band, b.Threshold)
		}
		if b.Threshold >= prev {
			return nil, fmt.Errorf("band %s: threshold %v does not descend below %v", b.Band, b.Threshold, prev)
		}
		if b.Factor < 0 {
			return nil, fmt.Errorf("band %s: negative adjustment factor %v", b.Band, b.Factor)
		}
		prev = b.Threshold
	}
	if minExecute < 0 || minExecute > 1 {
		return nil, fmt.Errorf("minimum execution score %v outside [0,1]", minExecute)
	}
	return &Policy{bands: append([]BandSpec(nil), bands...), minExecute: minExecute}, nil
}

// Default returns a policy with the standard bands and execution gate.
func Default() *Policy {
	p, err := New(DefaultBands(), DefaultMinExecutionScore)
	if err != nil {
		panic(err)
	}
	return p
}

// QualityBand maps a score to its band by ordered threshold lookup. The
// lowest band catches everything below the other thresholds.
func (p *Policy) QualityBand(score float64) Band {
	spec := p.bandSpec(score)
	return spec.Band
}

func (p *Policy) bandSpec(score float64) BandSpec {
	for _, b := range p.bands[:len(p.bands)-1] {
		if score >= b.Threshold {
			return b
		}
	}
	return p.bands[len(p.bands)-1]
}

// AdjustedWeight multiplies a base weight by the band factor for the score.
func (p *Policy) AdjustedWeight(methodID string, baseWeight, score float64) CalibrationWeight {
	spec := p.bandSpec(score)
	return CalibrationWeight{
		MethodID:         methodID,
		BaseWeight:       baseWeight,
		CalibrationScore: score,
		AdjustedWeight:   baseWeight * spec.Factor,
		AdjustmentFactor: spec.Factor,
		QualityBand:      spec.Band,
		Reason: fmt.Sprintf("score %.4f falls in band %s, factor %.2f applied to base weight %.4f",
			score, spec.Band, spec.Factor, baseWeight),
	}
}

// SelectBest picks the highest-scoring candidate. Ties break on method id so
// selection stays deterministic across map iteration orders.
func (p *Policy) SelectBest(candidates map[string]float64) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, &EmptyCandidateSetError{}
	}
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := Selection{MethodID: ids[0], Score: candidates[ids[0]]}
	for _, id := range ids[1:] {
		if candidates[id] > best.Score {
			best = Selection{MethodID: id, Score: candidates[id]}
		}
	}
	best.Reason = fmt.Sprintf("highest calibration score %.4f among %d candidates, band %s",
		best.Score, len(candidates), p.QualityBand(best.Score))
	return best, nil
}

// ShouldExecute gates execution on the calibration score. Strict mode
// refuses below the minimum threshold; non-strict mode always allows but
// logs a degraded-quality warning when the score is low.
func (p *Policy) ShouldExecute(methodID string, score float64, strict bool) (bool, string) {
	if score >= p.minExecute {
		return true, fmt.Sprintf("score %.4f meets execution threshold %.4f", score, p.minExecute)
	}
	if strict {
		return false, fmt.Sprintf("score %.4f below execution threshold %.4f", score, p.minExecute)
	}
	reason := fmt.Sprintf("score %.4f below execution threshold %.4f, allowed in non-strict mode", score, p.minExecute)
	logging.Get(logging.CategoryPolicy).Warnw("executing method with degraded quality",
		"method_id", methodID, "score", score, "threshold", p.minExecute)
	return true, reason
}

// RecordInfluence appends one metrics record to the history. A missing
// record id or timestamp is filled in here.
func (p *Policy) RecordInfluence(m Metrics) {
	if m.RecordID == "" {
		m.RecordID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.QualityBand == "" {
		m.QualityBand = p.QualityBand(m.CalibrationScore)
	}
	p.mu.Lock()
	p.history = append(p.history, m)
	p.mu.Unlock()
}

// History returns a snapshot copy of the full metrics history in recorded
// order.
func (p *Policy) History() []Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Metrics(nil), p.history...)
}

// Seed replaces the history with previously persisted records, oldest first.
func (p *Policy) Seed(records []Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append([]Metrics(nil), records...)
}
