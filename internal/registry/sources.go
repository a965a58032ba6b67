package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"calfuse/internal/taxonomy"
)

// Source file names expected under a configuration directory.
const (
	globalFile    = "global.json"
	epistemicFile = "epistemic.json"
	contractsFile = "contracts.json"
	methodsFile   = "methods.json"
	rubricFile    = "rubric.json"
)

// ConfigurationError reports a missing or malformed configuration source, or
// weight ratios that fail validation. It is fatal at registry-build time: no
// calibration can proceed until the source is fixed.
type ConfigurationError struct {
	Source string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// WeightSpec is one tier's (possibly partial) weight assignment. Overrides
// merge field-by-field: a layer or pair named here replaces the value from
// earlier tiers, everything unnamed passes through.
type WeightSpec struct {
	Linear      taxonomy.LinearWeights      `json:"linear,omitempty"`
	Interaction taxonomy.InteractionWeights `json:"interaction,omitempty"`
}

// weightSpecJSON is the on-disk shape; linear keys are validated through
// ParseLayer rather than trusted as map keys.
type weightSpecJSON struct {
	Linear      map[string]float64          `json:"linear,omitempty"`
	Interaction taxonomy.InteractionWeights `json:"interaction,omitempty"`
}

// UnmarshalJSON parses and validates layer names.
func (w *WeightSpec) UnmarshalJSON(data []byte) error {
	var raw weightSpecJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	linear := make(taxonomy.LinearWeights, len(raw.Linear))
	for k, v := range raw.Linear {
		layer, err := taxonomy.ParseLayer(k)
		if err != nil {
			return err
		}
		linear[layer] = v
	}
	w.Linear = linear
	w.Interaction = raw.Interaction
	return nil
}

// MethodOverride carries a method's design-time metadata and its tier-3
// weight overrides.
type MethodOverride struct {
	EpistemicLevel taxonomy.EpistemicLevel `json:"epistemic_level,omitempty"`
	ContractType   taxonomy.ContractType   `json:"contract_type,omitempty"`
	Weights        *WeightSpec             `json:"weights,omitempty"`
}

// Rubric is the weight rubric validated at registry construction. Its
// section weights must sum to 1.0 within tolerance; the BASE layer scoring
// rule reads the theory/implementation/deployment sections.
type Rubric struct {
	Sections map[string]float64 `json:"sections"`
}

// Rubric section names required by the BASE scoring rule.
const (
	RubricTheory         = "theory"
	RubricImplementation = "implementation"
	RubricDeployment     = "deployment"
)

// Section returns the weight of a named rubric section.
func (r Rubric) Section(name string) (float64, bool) {
	v, ok := r.Sections[name]
	return v, ok
}

// Sources is the complete, parsed configuration source set a registry is
// built from.
type Sources struct {
	Global    WeightSpec                             `json:"global"`
	Epistemic map[taxonomy.EpistemicLevel]WeightSpec `json:"epistemic"`
	Contracts map[taxonomy.ContractType]WeightSpec   `json:"contracts"`
	Methods   map[string]MethodOverride              `json:"methods"`
	Rubric    Rubric                                 `json:"rubric"`
}

// LoadDir reads the five JSON sources from a directory. A missing or
// malformed file fails fast with *ConfigurationError.
func LoadDir(dir string) (Sources, error) {
	var src Sources

	if err := readJSON(filepath.Join(dir, globalFile), &src.Global); err != nil {
		return Sources{}, err
	}
	if err := readJSON(filepath.Join(dir, epistemicFile), &src.Epistemic); err != nil {
		return Sources{}, err
	}
	if err := readJSON(filepath.Join(dir, contractsFile), &src.Contracts); err != nil {
		return Sources{}, err
	}
	if err := readJSON(filepath.Join(dir, methodsFile), &src.Methods); err != nil {
		return Sources{}, err
	}
	if err := readJSON(filepath.Join(dir, rubricFile), &src.Rubric); err != nil {
		return Sources{}, err
	}
	return src, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigurationError{Source: filepath.Base(path), Reason: "unreadable source", Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &ConfigurationError{Source: filepath.Base(path), Reason: "malformed source", Err: err}
	}
	return nil
}

// DefaultSources returns a complete embedded source set. It is the
// bootstrap configuration for tests and for installations that have not yet
// externalized their calibration sources.
func DefaultSources() Sources {
	return Sources{
		Global: WeightSpec{
			Linear: taxonomy.LinearWeights{
				taxonomy.LayerBase:       0.17,
				taxonomy.LayerUnit:       0.04,
				taxonomy.LayerQuestion:   0.08,
				taxonomy.LayerDimension:  0.07,
				taxonomy.LayerPolicy:     0.06,
				taxonomy.LayerCongruence: 0.08,
				taxonomy.LayerChain:      0.13,
				taxonomy.LayerMeta:       0.04,
			},
			Interaction: taxonomy.InteractionWeights{
				taxonomy.MustLayerPair(taxonomy.LayerUnit, taxonomy.LayerChain):         0.13,
				taxonomy.MustLayerPair(taxonomy.LayerChain, taxonomy.LayerCongruence):   0.10,
				taxonomy.MustLayerPair(taxonomy.LayerQuestion, taxonomy.LayerDimension): 0.10,
			},
		},
		// Per-level overrides are balanced so that each level's merged
		// weight mass still sums to 1.0.
		Epistemic: map[taxonomy.EpistemicLevel]WeightSpec{
			taxonomy.N0Infra: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerBase: 0.19, taxonomy.LayerQuestion: 0.06,
			}},
			taxonomy.N1Empirical: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerUnit: 0.06, taxonomy.LayerMeta: 0.02,
			}},
			taxonomy.N2Inferential: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerQuestion: 0.10, taxonomy.LayerDimension: 0.09, taxonomy.LayerBase: 0.13,
			}},
			taxonomy.N3Audit: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerMeta: 0.08, taxonomy.LayerCongruence: 0.10, taxonomy.LayerBase: 0.11,
			}},
			taxonomy.N4Meta: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerMeta: 0.10, taxonomy.LayerPolicy: 0.04, taxonomy.LayerBase: 0.13,
			}},
		},
		// Characteristic layer emphases per contract type. These unbalance
		// the raw mass; resolution renormalizes after the cascade.
		Contracts: map[taxonomy.ContractType]WeightSpec{
			taxonomy.ContractExtraction: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerBase: 0.20, taxonomy.LayerUnit: 0.08,
			}},
			taxonomy.ContractTransformation: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerUnit: 0.08, taxonomy.LayerChain: 0.16,
			}},
			taxonomy.ContractScoring: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerQuestion: 0.12, taxonomy.LayerDimension: 0.10,
			}},
			taxonomy.ContractAggregation: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerDimension: 0.10, taxonomy.LayerCongruence: 0.12,
			}},
			taxonomy.ContractValidation: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerPolicy: 0.10, taxonomy.LayerMeta: 0.08,
			}},
			taxonomy.ContractReporting: {Linear: taxonomy.LinearWeights{
				taxonomy.LayerChain: 0.16, taxonomy.LayerMeta: 0.07,
			}},
		},
		Methods: map[string]MethodOverride{},
		Rubric: Rubric{Sections: map[string]float64{
			RubricTheory:         0.40,
			RubricImplementation: 0.35,
			RubricDeployment:     0.25,
		}},
	}
}
