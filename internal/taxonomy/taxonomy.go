// Package taxonomy defines the canonical value types of the calibration
// engine: the eight evidence layers, epistemic levels, method roles, contract
// types, and the closed-interval primitive used for every bounded parameter.
// Everything here is a pure value type; the only behavior is construction-time
// bounds checking.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"sort"
)

// =============================================================================
// LAYERS
// =============================================================================

// Layer identifies one of the eight canonical evidence layers. Each layer
// produces an independent score in [0,1].
type Layer string

const (
	LayerBase       Layer = "BASE"
	LayerUnit       Layer = "UNIT"
	LayerQuestion   Layer = "QUESTION"
	LayerDimension  Layer = "DIMENSION"
	LayerPolicy     Layer = "POLICY"
	LayerCongruence Layer = "CONGRUENCE"
	LayerChain      Layer = "CHAIN"
	LayerMeta       Layer = "META"
)

// AllLayers lists the canonical layers in their fixed iteration order.
var AllLayers = []Layer{
	LayerBase, LayerUnit, LayerQuestion, LayerDimension,
	LayerPolicy, LayerCongruence, LayerChain, LayerMeta,
}

// Valid reports whether l is one of the eight canonical layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerBase, LayerUnit, LayerQuestion, LayerDimension,
		LayerPolicy, LayerCongruence, LayerChain, LayerMeta:
		return true
	}
	return false
}

// ParseLayer converts a string to a Layer, rejecting unknown identifiers.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown layer: %q", s)
	}
	return l, nil
}

// LayerSet is an unordered set of layers.
type LayerSet map[Layer]struct{}

// NewLayerSet builds a set from the given layers.
func NewLayerSet(layers ...Layer) LayerSet {
	s := make(LayerSet, len(layers))
	for _, l := range layers {
		s[l] = struct{}{}
	}
	return s
}

// AllLayerSet returns a set containing all eight canonical layers.
func AllLayerSet() LayerSet {
	return NewLayerSet(AllLayers...)
}

// Contains reports whether l is in the set.
func (s LayerSet) Contains(l Layer) bool {
	_, ok := s[l]
	return ok
}

// Len returns the cardinality of the set.
func (s LayerSet) Len() int { return len(s) }

// Equal reports whether two sets contain exactly the same layers.
func (s LayerSet) Equal(other LayerSet) bool {
	if len(s) != len(other) {
		return false
	}
	for l := range s {
		if !other.Contains(l) {
			return false
		}
	}
	return true
}

// Sorted returns the members in canonical order (AllLayers order first,
// any non-canonical stragglers alphabetically after).
func (s LayerSet) Sorted() []Layer {
	out := make([]Layer, 0, len(s))
	for _, l := range AllLayers {
		if s.Contains(l) {
			out = append(out, l)
		}
	}
	if len(out) == len(s) {
		return out
	}
	var extra []Layer
	for l := range s {
		if !l.Valid() {
			extra = append(extra, l)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Clone returns an independent copy of the set.
func (s LayerSet) Clone() LayerSet {
	out := make(LayerSet, len(s))
	for l := range s {
		out[l] = struct{}{}
	}
	return out
}

// =============================================================================
// EPISTEMIC LEVELS
// =============================================================================

// EpistemicLevel classifies how evidentiary vs. inferential vs. auditing a
// method's role is. Assigned at design time and never changed afterward.
type EpistemicLevel string

const (
	N0Infra       EpistemicLevel = "N0_INFRA"
	N1Empirical   EpistemicLevel = "N1_EMPIRICAL"
	N2Inferential EpistemicLevel = "N2_INFERENTIAL"
	N3Audit       EpistemicLevel = "N3_AUDIT"
	N4Meta        EpistemicLevel = "N4_META"
)

// AllEpistemicLevels lists the levels in ascending order.
var AllEpistemicLevels = []EpistemicLevel{N0Infra, N1Empirical, N2Inferential, N3Audit, N4Meta}

// Valid reports whether e is a known epistemic level.
func (e EpistemicLevel) Valid() bool {
	switch e {
	case N0Infra, N1Empirical, N2Inferential, N3Audit, N4Meta:
		return true
	}
	return false
}

// CanVeto reports whether a method at level e may veto outputs produced at
// level target. Audit-level methods may veto empirical and inferential
// outputs; the reverse direction is never permitted.
func (e EpistemicLevel) CanVeto(target EpistemicLevel) bool {
	if e != N3Audit {
		return false
	}
	return target == N1Empirical || target == N2Inferential
}

// =============================================================================
// METHOD ROLES
// =============================================================================

// MethodRole is a method's declared functional role. It determines which
// layer subset is active for that method.
type MethodRole string

const (
	RoleAnalyzer     MethodRole = "analyzer"
	RoleExecutor     MethodRole = "executor"
	RoleProcessor    MethodRole = "processor"
	RoleIngestion    MethodRole = "ingestion"
	RoleUtility      MethodRole = "utility"
	RoleOrchestrator MethodRole = "orchestrator"
	RoleUnknown      MethodRole = "unknown"
)

// Valid reports whether r is a known role (RoleUnknown counts as known;
// it is a reachable, deliberate state, not a parse failure).
func (r MethodRole) Valid() bool {
	switch r {
	case RoleAnalyzer, RoleExecutor, RoleProcessor, RoleIngestion,
		RoleUtility, RoleOrchestrator, RoleUnknown:
		return true
	}
	return false
}

// =============================================================================
// CONTRACT TYPES
// =============================================================================

// ContractType classifies a method's contract. Each type carries a
// characteristic layer emphasis in the configuration cascade (tier 2).
type ContractType string

const (
	ContractExtraction     ContractType = "extraction"
	ContractTransformation ContractType = "transformation"
	ContractScoring        ContractType = "scoring"
	ContractAggregation    ContractType = "aggregation"
	ContractValidation     ContractType = "validation"
	ContractReporting      ContractType = "reporting"
)

// AllContractTypes lists the six contract types.
var AllContractTypes = []ContractType{
	ContractExtraction, ContractTransformation, ContractScoring,
	ContractAggregation, ContractValidation, ContractReporting,
}

// Valid reports whether c is a known contract type.
func (c ContractType) Valid() bool {
	for _, t := range AllContractTypes {
		if c == t {
			return true
		}
	}
	return false
}

// =============================================================================
// CLOSED INTERVAL
// =============================================================================

// BoundsError reports a value outside its permitted interval, or an
// interval whose bounds are inverted. It is fatal: the computation that
// raised it aborts and nothing partial is returned.
type BoundsError struct {
	What  string
	Value float64
	Lower float64
	Upper float64
}

func (e *BoundsError) Error() string {
	if e.Lower > e.Upper {
		return fmt.Sprintf("bounds error: %s: lower %v > upper %v", e.What, e.Lower, e.Upper)
	}
	return fmt.Sprintf("bounds error: %s: value %v outside [%v, %v]", e.What, e.Value, e.Lower, e.Upper)
}

// ClosedInterval is an immutable [lower, upper] interval with lower <= upper.
// The zero value is the degenerate interval [0, 0].
type ClosedInterval struct {
	lower float64
	upper float64
}

// NewClosedInterval constructs an interval, failing with *BoundsError when
// lower > upper.
func NewClosedInterval(lower, upper float64) (ClosedInterval, error) {
	if lower > upper {
		return ClosedInterval{}, &BoundsError{What: "interval", Lower: lower, Upper: upper}
	}
	return ClosedInterval{lower: lower, upper: upper}, nil
}

// UnitInterval is the [0, 1] interval every layer score and final score
// must lie in.
var UnitInterval = ClosedInterval{lower: 0, upper: 1}

// Lower returns the interval's lower bound.
func (i ClosedInterval) Lower() float64 { return i.lower }

// Upper returns the interval's upper bound.
func (i ClosedInterval) Upper() float64 { return i.upper }

// Contains reports whether v lies within the interval (inclusive).
func (i ClosedInterval) Contains(v float64) bool {
	return v >= i.lower && v <= i.upper
}

// Check returns a *BoundsError naming what when v lies outside the interval.
func (i ClosedInterval) Check(what string, v float64) error {
	if !i.Contains(v) {
		return &BoundsError{What: what, Value: v, Lower: i.lower, Upper: i.upper}
	}
	return nil
}

type intervalJSON struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// MarshalJSON serializes the interval as {"lower": …, "upper": …}.
func (i ClosedInterval) MarshalJSON() ([]byte, error) {
	return json.Marshal(intervalJSON{Lower: i.lower, Upper: i.upper})
}

// UnmarshalJSON deserializes and re-validates the interval invariant.
func (i *ClosedInterval) UnmarshalJSON(data []byte) error {
	var raw intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	iv, err := NewClosedInterval(raw.Lower, raw.Upper)
	if err != nil {
		return err
	}
	*i = iv
	return nil
}

// CheckUnitScore validates that a score lies in [0,1], returning a
// *BoundsError naming what otherwise.
func CheckUnitScore(what string, v float64) error {
	return UnitInterval.Check(what, v)
}
