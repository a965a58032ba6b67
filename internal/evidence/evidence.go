// Package evidence defines the read-only inputs the calibration engine
// consumes: the addressing context, the raw evidence bag produced by the
// ingestion and orchestration layers, and the provenance trail embedded in
// certificates. The engine never produces these values; it only reads them.
package evidence

// Context is the addressing key used to look up contextual evidence for a
// method. Only MethodID is mandatory.
type Context struct {
	MethodID     string `json:"method_id"`
	QuestionID   string `json:"question_id,omitempty"`
	DimensionID  string `json:"dimension_id,omitempty"`
	PolicyAreaID string `json:"policy_area_id,omitempty"`
}

// IntrinsicQuality carries the intrinsic quality sub-scores of a method.
// Fields are pointers so that an absent sub-score is distinguishable from a
// zero one; the scorer treats absence as a typed evidence failure.
type IntrinsicQuality struct {
	Theory         *float64 `json:"theory,omitempty"`
	Implementation *float64 `json:"implementation,omitempty"`
	Deployment     *float64 `json:"deployment,omitempty"`
}

// ContractChecks summarizes a pass/fail check suite (unit contracts, chain
// contracts). Total must be positive and Passed must lie in [0, Total].
type ContractChecks struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

// CompatibilityRegistry holds pre-computed match scores keyed by question,
// dimension, and policy-area identifiers. It is owned by the ingestion layer
// and read here without interpretation.
type CompatibilityRegistry struct {
	Question   map[string]float64 `json:"question,omitempty"`
	Dimension  map[string]float64 `json:"dimension,omitempty"`
	PolicyArea map[string]float64 `json:"policy_area,omitempty"`
}

// LookupQuestion returns the match score for a question id.
func (r *CompatibilityRegistry) LookupQuestion(id string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.Question[id]
	return v, ok
}

// LookupDimension returns the match score for a dimension id.
func (r *CompatibilityRegistry) LookupDimension(id string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.Dimension[id]
	return v, ok
}

// LookupPolicyArea returns the match score for a policy-area id.
func (r *CompatibilityRegistry) LookupPolicyArea(id string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.PolicyArea[id]
	return v, ok
}

// DocumentStructure carries document-structure facts: which required
// sections are present, and whether the indicator and budget matrices exist.
type DocumentStructure struct {
	Sections        map[string]bool `json:"sections"`
	IndicatorMatrix bool            `json:"indicator_matrix"`
	BudgetMatrix    bool            `json:"budget_matrix"`
}

// GovernanceArtifacts carries the governance facts behind the META layer:
// a version tag, an artifact hash, and a governance signature.
type GovernanceArtifacts struct {
	VersionTag   string `json:"version_tag,omitempty"`
	ArtifactHash string `json:"artifact_hash,omitempty"`
	Signature    string `json:"signature,omitempty"`
}

// Bundle is the opaque, source-specific bag of raw signals consumed by the
// layer score computer. The fusion aggregator never reads it.
type Bundle struct {
	Intrinsic     *IntrinsicQuality      `json:"intrinsic,omitempty"`
	Unit          *ContractChecks        `json:"unit,omitempty"`
	Chain         *ContractChecks        `json:"chain,omitempty"`
	Compatibility *CompatibilityRegistry `json:"compatibility,omitempty"`
	Structure     *DocumentStructure     `json:"structure,omitempty"`
	Governance    *GovernanceArtifacts   `json:"governance,omitempty"`
}

// TrailEntry records where one piece of evidence came from, for the
// certificate's evidence trail.
type TrailEntry struct {
	Source string `json:"source"`
	Ref    string `json:"ref,omitempty"`
	Hash   string `json:"hash,omitempty"`
}
