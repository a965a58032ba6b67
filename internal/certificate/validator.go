package certificate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"calfuse/internal/roles"
)

// normTolerance is the permitted deviation of the total weight mass from 1.0.
const normTolerance = 0.01

// CheckResult is one validation check's outcome with its diagnostic detail.
type CheckResult struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationChecks is the structured result of validating one certificate.
type ValidationChecks struct {
	Boundedness   CheckResult `json:"boundedness"`
	Monotonicity  CheckResult `json:"monotonicity"`
	Normalization CheckResult `json:"normalization"`
	Completeness  CheckResult `json:"completeness"`
}

// AllPassed reports whether every check passed.
func (v ValidationChecks) AllPassed() bool {
	return v.Boundedness.Passed && v.Monotonicity.Passed &&
		v.Normalization.Passed && v.Completeness.Passed
}

// Failures lists the failed checks with their details.
func (v ValidationChecks) Failures() []string {
	var out []string
	for _, c := range []struct {
		name   string
		result CheckResult
	}{
		{"boundedness", v.Boundedness},
		{"monotonicity", v.Monotonicity},
		{"normalization", v.Normalization},
		{"completeness", v.Completeness},
	} {
		if !c.result.Passed {
			out = append(out, c.name+": "+c.result.Detail)
		}
	}
	return out
}

// IncompleteCertificateError reports a certificate whose layer set does not
// match its role's active set. Only the validator raises it; the generator
// never does, so incomplete certificates still reach storage for forensics.
type IncompleteCertificateError struct {
	InstanceID string
	MethodID   string
	Detail     string
}

func (e *IncompleteCertificateError) Error() string {
	return fmt.Sprintf("incomplete certificate %s for method %q: %s", e.InstanceID, e.MethodID, e.Detail)
}

// Validator independently re-verifies certificates. It only reads: a failed
// check is reported, never repaired, and the certificate is never mutated.
type Validator struct {
	resolver *roles.Resolver
}

// NewValidator returns a validator using the given role resolver for the
// completeness check.
func NewValidator(resolver *roles.Resolver) *Validator {
	return &Validator{resolver: resolver}
}

// Validate re-runs all four checks against the certificate's own contents.
func (v *Validator) Validate(cert *Certificate) ValidationChecks {
	return ValidationChecks{
		Boundedness:   checkBoundedness(cert),
		Monotonicity:  checkMonotonicity(cert),
		Normalization: checkNormalization(cert),
		Completeness:  v.checkCompleteness(cert),
	}
}

// Require validates and converts a completeness failure into a typed error.
func (v *Validator) Require(cert *Certificate) (ValidationChecks, error) {
	checks := v.Validate(cert)
	if !checks.Completeness.Passed {
		return checks, &IncompleteCertificateError{
			InstanceID: cert.InstanceID,
			MethodID:   cert.MethodID,
			Detail:     checks.Completeness.Detail,
		}
	}
	return checks, nil
}

// VerifyContentHash recomputes the canonical body hash and compares it to
// the stored one.
func VerifyContentHash(cert *Certificate) error {
	want, err := ComputeContentHash(cert)
	if err != nil {
		return err
	}
	if want != cert.ContentHash {
		return fmt.Errorf("content hash mismatch for certificate %s: stored %s, recomputed %s",
			cert.InstanceID, cert.ContentHash, want)
	}
	return nil
}

func checkBoundedness(cert *Certificate) CheckResult {
	var bad []string
	for layer, s := range cert.LayerScores {
		if s < 0 || s > 1 {
			bad = append(bad, fmt.Sprintf("%s=%v", layer, s))
		}
	}
	sort.Strings(bad)
	if f := cert.FusionBreakdown.FinalScore; f < 0 || f > 1 {
		bad = append(bad, fmt.Sprintf("final=%v", f))
	}
	if len(bad) > 0 {
		return CheckResult{Detail: "scores outside [0,1]: " + strings.Join(bad, ", ")}
	}
	return CheckResult{Passed: true, Detail: "all scores in [0,1]"}
}

func checkMonotonicity(cert *Certificate) CheckResult {
	var bad []string
	for layer, w := range cert.Weights {
		if w < 0 {
			bad = append(bad, fmt.Sprintf("%s=%v", layer, w))
		}
	}
	for pair, w := range cert.InteractionWeights {
		if w < 0 {
			bad = append(bad, fmt.Sprintf("%s=%v", pair, w))
		}
	}
	sort.Strings(bad)
	if len(bad) > 0 {
		return CheckResult{Detail: "negative weights: " + strings.Join(bad, ", ")}
	}
	return CheckResult{Passed: true, Detail: "all weights non-negative"}
}

func checkNormalization(cert *Certificate) CheckResult {
	total := cert.Weights.Sum() + cert.InteractionWeights.Sum()
	if math.Abs(total-1) > normTolerance {
		return CheckResult{Detail: fmt.Sprintf("weight mass %v, want 1.0 ± %v", total, normTolerance)}
	}
	return CheckResult{Passed: true, Detail: fmt.Sprintf("weight mass %v", total)}
}

func (v *Validator) checkCompleteness(cert *Certificate) CheckResult {
	want := v.resolver.Resolve(cert.MethodID, cert.Role)
	got := cert.LayerScores.Layers()
	if got.Equal(want) {
		return CheckResult{Passed: true, Detail: fmt.Sprintf("%d layers scored", got.Len())}
	}

	var missing, extra []string
	for _, l := range want.Sorted() {
		if !got.Contains(l) {
			missing = append(missing, string(l))
		}
	}
	for _, l := range got.Sorted() {
		if !want.Contains(l) {
			extra = append(extra, string(l))
		}
	}
	return CheckResult{Detail: fmt.Sprintf("missing [%s], extra [%s]",
		strings.Join(missing, " "), strings.Join(extra, " "))}
}
