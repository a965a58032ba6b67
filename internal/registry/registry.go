// Package registry resolves calibration weights through an eight-tier
// override cascade: (0) global defaults, (1) epistemic-level defaults,
// (2) contract-type overrides, (3) method-specific overrides, (4) numeric
// adjustments derived from document-structure evidence, and (5–7) reserved
// extension points that resolve to no-ops. Later tiers override earlier
// tiers field-by-field, never wholesale.
//
// A registry is built once at startup from validated sources and is then
// read-only; concurrent callers share it without locking.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"calfuse/internal/evidence"
	"calfuse/internal/logging"
	"calfuse/internal/roles"
	"calfuse/internal/taxonomy"
)

// normTolerance is the permitted deviation of a resolved weight mass from 1.0.
const normTolerance = 0.01

// UnknownContractTypeError reports a method override naming a contract type
// outside the known table. Informative, not fatal: tier 2 is skipped for the
// method and a warning is logged.
type UnknownContractTypeError struct {
	MethodID     string
	ContractType taxonomy.ContractType
}

func (e *UnknownContractTypeError) Error() string {
	return fmt.Sprintf("unknown contract type %q for method %q: skipping contract-type overrides", e.ContractType, e.MethodID)
}

// Registry is the immutable, resolved configuration shared by all calibration
// workers.
type Registry struct {
	src        Sources
	resolver   *roles.Resolver
	configHash string
}

// New builds and validates a registry from parsed sources. Validation
// failures return *ConfigurationError and no registry.
func New(src Sources) (*Registry, error) {
	if err := validate(src); err != nil {
		return nil, err
	}

	canonical, err := json.Marshal(src)
	if err != nil {
		return nil, &ConfigurationError{Source: "sources", Reason: "unserializable source set", Err: err}
	}
	sum := sha256.Sum256(canonical)

	r := &Registry{
		src:        src,
		resolver:   roles.NewResolver(),
		configHash: hex.EncodeToString(sum[:]),
	}
	logging.Get(logging.CategoryRegistry).Infow("registry built",
		"config_hash", r.configHash,
		"methods", len(src.Methods),
		"contract_types", len(src.Contracts),
	)
	return r, nil
}

// Open loads sources from a directory and builds the registry.
func Open(dir string) (*Registry, error) {
	src, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return New(src)
}

// ConfigHash returns the SHA-256 of the canonical serialized source set.
// Certificates embed it so a stored certificate pins the exact configuration
// it was computed under.
func (r *Registry) ConfigHash() string { return r.configHash }

// Resolver returns the role resolver the registry resolves layer sets with.
// The engine shares it so the active-layer view is consistent everywhere.
func (r *Registry) Resolver() *roles.Resolver { return r.resolver }

// Rubric returns the validated weight rubric.
func (r *Registry) Rubric() Rubric { return r.src.Rubric }

// MethodMetadata returns a method's declared epistemic level and contract
// type, when an override record exists for it.
func (r *Registry) MethodMetadata(methodID string) (taxonomy.EpistemicLevel, taxonomy.ContractType, bool) {
	ov, ok := r.src.Methods[methodID]
	if !ok {
		return "", "", false
	}
	return ov.EpistemicLevel, ov.ContractType, true
}

// ResolveWeights resolves the weight cascade for a method without
// document-structure adjustments (tier 4 becomes a no-op).
func (r *Registry) ResolveWeights(ctx evidence.Context, role taxonomy.MethodRole) (taxonomy.LinearWeights, taxonomy.InteractionWeights, error) {
	return r.ResolveWeightsWithStructure(ctx, role, nil)
}

// ResolveWeightsWithStructure resolves the full cascade, restricted to the
// method's active layer set and renormalized so the total mass is exactly 1.
func (r *Registry) ResolveWeightsWithStructure(ctx evidence.Context, role taxonomy.MethodRole, structure *evidence.DocumentStructure) (taxonomy.LinearWeights, taxonomy.InteractionWeights, error) {
	// Tier 0: global defaults.
	linear := r.src.Global.Linear.Clone()
	interaction := r.src.Global.Interaction.Clone()

	ov, hasOverride := r.src.Methods[ctx.MethodID]

	// Tier 1: epistemic-level defaults.
	if hasOverride && ov.EpistemicLevel != "" {
		if spec, ok := r.src.Epistemic[ov.EpistemicLevel]; ok {
			applySpec(linear, interaction, spec)
		}
	}

	// Tier 2: contract-type overrides.
	if hasOverride && ov.ContractType != "" {
		if spec, ok := r.src.Contracts[ov.ContractType]; ok {
			applySpec(linear, interaction, spec)
		} else {
			err := &UnknownContractTypeError{MethodID: ctx.MethodID, ContractType: ov.ContractType}
			logging.Get(logging.CategoryRegistry).Warnf("%v", err)
		}
	}

	// Tier 3: method-specific overrides.
	if hasOverride && ov.Weights != nil {
		applySpec(linear, interaction, *ov.Weights)
	}

	// Tier 4: context-driven numeric adjustments from document structure.
	applyStructureAdjustments(linear, structure)

	// Tiers 5–7: reserved extension points. They must resolve to no-ops
	// today; anything wired here needs a schema revision first.
	for _, tier := range reservedTiers {
		tier(linear, interaction)
	}

	// Restrict to the method's active layer set, then renormalize.
	active := r.resolver.Resolve(ctx.MethodID, role)
	for layer := range linear {
		if !active.Contains(layer) {
			delete(linear, layer)
		}
	}
	for pair := range interaction {
		if !active.Contains(pair.First) || !active.Contains(pair.Second) {
			delete(interaction, pair)
		}
	}

	if err := checkNonNegative(ctx.MethodID, linear, interaction); err != nil {
		return nil, nil, err
	}

	total := linear.Sum() + interaction.Sum()
	if total <= 0 {
		return nil, nil, &ConfigurationError{
			Source: "cascade",
			Reason: fmt.Sprintf("resolved weight mass for method %q is zero", ctx.MethodID),
		}
	}
	if math.Abs(total-1) > 1e-9 {
		for layer, v := range linear {
			linear[layer] = v / total
		}
		for pair, v := range interaction {
			interaction[pair] = v / total
		}
	}

	return linear, interaction, nil
}

// reservedTiers are cascade tiers 5, 6 and 7.
var reservedTiers = [3]func(taxonomy.LinearWeights, taxonomy.InteractionWeights){
	func(taxonomy.LinearWeights, taxonomy.InteractionWeights) {}, // tier 5
	func(taxonomy.LinearWeights, taxonomy.InteractionWeights) {}, // tier 6
	func(taxonomy.LinearWeights, taxonomy.InteractionWeights) {}, // tier 7
}

// applySpec merges a tier's overrides field-by-field.
func applySpec(linear taxonomy.LinearWeights, interaction taxonomy.InteractionWeights, spec WeightSpec) {
	for layer, v := range spec.Linear {
		linear[layer] = v
	}
	for pair, v := range spec.Interaction {
		interaction[pair] = v
	}
}

// applyStructureAdjustments dampens the emphasis of layers whose backing
// evidence the document cannot supply: no indicator matrix weakens POLICY,
// no budget matrix weakens DIMENSION, and a mostly-absent section skeleton
// weakens CONGRUENCE.
func applyStructureAdjustments(linear taxonomy.LinearWeights, structure *evidence.DocumentStructure) {
	if structure == nil {
		return
	}
	if !structure.IndicatorMatrix {
		linear[taxonomy.LayerPolicy] *= 0.8
	}
	if !structure.BudgetMatrix {
		linear[taxonomy.LayerDimension] *= 0.8
	}
	if len(structure.Sections) > 0 {
		present := 0
		for _, ok := range structure.Sections {
			if ok {
				present++
			}
		}
		if float64(present)/float64(len(structure.Sections)) < 0.5 {
			linear[taxonomy.LayerCongruence] *= 0.75
		}
	}
}

func checkNonNegative(methodID string, linear taxonomy.LinearWeights, interaction taxonomy.InteractionWeights) error {
	for layer, v := range linear {
		if v < 0 {
			return &ConfigurationError{
				Source: "cascade",
				Reason: fmt.Sprintf("method %q: negative linear weight for %s: %v", methodID, layer, v),
			}
		}
	}
	for pair, v := range interaction {
		if v < 0 {
			return &ConfigurationError{
				Source: "cascade",
				Reason: fmt.Sprintf("method %q: negative interaction weight for %s: %v", methodID, pair, v),
			}
		}
	}
	return nil
}

// validate performs all build-time checks: non-negative weights everywhere,
// known enum keys, rubric sections summing to 1, and every epistemic level's
// merged weight mass summing to 1 within tolerance.
func validate(src Sources) error {
	if len(src.Global.Linear) == 0 {
		return &ConfigurationError{Source: globalFile, Reason: "no global linear weights"}
	}
	if err := specNonNegative(globalFile, src.Global); err != nil {
		return err
	}

	for level, spec := range src.Epistemic {
		if !level.Valid() {
			return &ConfigurationError{Source: epistemicFile, Reason: fmt.Sprintf("unknown epistemic level %q", level)}
		}
		if err := specNonNegative(epistemicFile, spec); err != nil {
			return err
		}
	}

	for ct, spec := range src.Contracts {
		if !ct.Valid() {
			return &ConfigurationError{Source: contractsFile, Reason: fmt.Sprintf("unknown contract type %q", ct)}
		}
		if err := specNonNegative(contractsFile, spec); err != nil {
			return err
		}
	}

	for id, ov := range src.Methods {
		if ov.EpistemicLevel != "" && !ov.EpistemicLevel.Valid() {
			return &ConfigurationError{Source: methodsFile, Reason: fmt.Sprintf("method %q: unknown epistemic level %q", id, ov.EpistemicLevel)}
		}
		if ov.Weights != nil {
			if err := specNonNegative(methodsFile, *ov.Weights); err != nil {
				return err
			}
		}
	}

	// Rubric sections must sum to 1.0 within tolerance and include the
	// sections the BASE scoring rule depends on.
	var rubricTotal float64
	for name, v := range src.Rubric.Sections {
		if v < 0 {
			return &ConfigurationError{Source: rubricFile, Reason: fmt.Sprintf("negative section weight %q: %v", name, v)}
		}
		rubricTotal += v
	}
	if math.Abs(rubricTotal-1) > normTolerance {
		return &ConfigurationError{Source: rubricFile, Reason: fmt.Sprintf("section weights sum to %v, want 1.0 ± %v", rubricTotal, normTolerance)}
	}
	for _, required := range []string{RubricTheory, RubricImplementation, RubricDeployment} {
		if _, ok := src.Rubric.Sections[required]; !ok {
			return &ConfigurationError{Source: rubricFile, Reason: fmt.Sprintf("missing required section %q", required)}
		}
	}

	// Every epistemic level's resolved ratios (tier 0 merged with tier 1,
	// over all eight layers) must sum to 1.0 within tolerance. The bare
	// global tier must too, since methods without metadata resolve on it.
	if err := checkMergedMass("global", src.Global, WeightSpec{}); err != nil {
		return err
	}
	for level, spec := range src.Epistemic {
		if err := checkMergedMass(string(level), src.Global, spec); err != nil {
			return err
		}
	}

	return nil
}

func checkMergedMass(name string, base, override WeightSpec) error {
	linear := base.Linear.Clone()
	interaction := base.Interaction.Clone()
	applySpec(linear, interaction, override)
	total := linear.Sum() + interaction.Sum()
	if math.Abs(total-1) > normTolerance {
		return &ConfigurationError{
			Source: epistemicFile,
			Reason: fmt.Sprintf("resolved weight ratios for %s sum to %v, want 1.0 ± %v", name, total, normTolerance),
		}
	}
	return nil
}

func specNonNegative(source string, spec WeightSpec) error {
	for layer, v := range spec.Linear {
		if v < 0 {
			return &ConfigurationError{Source: source, Reason: fmt.Sprintf("negative linear weight for %s: %v", layer, v)}
		}
	}
	for pair, v := range spec.Interaction {
		if v < 0 {
			return &ConfigurationError{Source: source, Reason: fmt.Sprintf("negative interaction weight for %s: %v", pair, v)}
		}
	}
	return nil
}
