package certificate

import "fmt"

// Report is the machine-readable outcome of validating a batch of
// certificates, consumed by tooling that exits non-zero on any failure.
type Report struct {
	Passed   bool        `json:"passed"`
	Errors   []string    `json:"errors"`
	Warnings []string    `json:"warnings"`
	Stats    ReportStats `json:"stats"`
}

// ReportStats summarizes a validation run.
type ReportStats struct {
	Certificates int `json:"certificates"`
	ChecksRun    int `json:"checks_run"`
	Failures     int `json:"failures"`
}

// BuildReport validates each certificate, re-verifies its content hash, and
// checks its signature when a signer is supplied. Unsigned certificates are
// a warning, not a failure; every other mismatch is an error.
func (v *Validator) BuildReport(certs []*Certificate, signer *Signer) Report {
	report := Report{
		Passed:   true,
		Errors:   []string{},
		Warnings: []string{},
	}
	report.Stats.Certificates = len(certs)

	for _, cert := range certs {
		checks := v.Validate(cert)
		report.Stats.ChecksRun += 4
		for _, failure := range checks.Failures() {
			report.Errors = append(report.Errors, fmt.Sprintf("certificate %s: %s", cert.InstanceID, failure))
		}

		report.Stats.ChecksRun++
		if err := VerifyContentHash(cert); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}

		switch {
		case cert.Signature.Empty():
			report.Warnings = append(report.Warnings, fmt.Sprintf("certificate %s is unsigned", cert.InstanceID))
		case signer == nil:
			report.Warnings = append(report.Warnings, fmt.Sprintf("certificate %s: no key configured, signature not checked", cert.InstanceID))
		default:
			report.Stats.ChecksRun++
			if !signer.Verify(cert.ContentHash, cert.Signature) {
				report.Errors = append(report.Errors, fmt.Sprintf("certificate %s: signature verification failed", cert.InstanceID))
			}
		}
	}

	report.Stats.Failures = len(report.Errors)
	report.Passed = report.Stats.Failures == 0
	return report
}
