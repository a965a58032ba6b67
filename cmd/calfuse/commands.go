package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"calfuse/internal/certificate"
	"calfuse/internal/engine"
	"calfuse/internal/evidence"
	"calfuse/internal/logging"
	"calfuse/internal/store"
	"calfuse/internal/taxonomy"
)

var (
	calibratePersist bool
	calibrateRelaxed bool
	calibrateStrict  bool

	validateReportPath string

	verifyInstanceID  string
	verifyContentHash string

	exportMethodID string
	exportLimit    int

	driftMethodID  string
	driftWindow    int
	driftThreshold float64
)

// batchEntry is one method's calibration input as it appears in a batch
// file.
type batchEntry struct {
	Context    evidence.Context      `json:"context"`
	Role       taxonomy.MethodRole   `json:"role"`
	Evidence   *evidence.Bundle      `json:"evidence"`
	Trail      []evidence.TrailEntry `json:"evidence_trail,omitempty"`
	GraphHash  string                `json:"graph_hash,omitempty"`
	BaseWeight float64               `json:"base_weight,omitempty"`
	PhaseID    string                `json:"phase_id,omitempty"`
}

// buildEngine assembles an engine from the loaded config, optionally backed
// by the certificate store.
func buildEngine(withStore bool) (*engine.Engine, *store.Store, error) {
	reg, err := openRegistry()
	if err != nil {
		return nil, nil, err
	}
	pol, err := cfg.BuildPolicy()
	if err != nil {
		return nil, nil, err
	}

	var st *store.Store
	if withStore {
		st, err = store.Open(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		// Warm the drift history from persisted metrics.
		if history, err := st.MetricsHistory("", 0); err == nil {
			pol.Seed(history)
		}
	}

	var audit *logging.AuditLogger
	if cfg.AuditLogPath != "" {
		audit, err = logging.OpenAudit(cfg.AuditLogPath)
		if err != nil {
			logging.Get(logging.CategoryCLI).Warnf("audit log disabled: %v", err)
		}
	}

	relaxed := cfg.Engine.Relaxed || calibrateRelaxed
	if calibrateStrict {
		relaxed = false
	}
	e := engine.New(reg, pol, engine.Options{
		Relaxed:      relaxed,
		NeutralScore: cfg.Engine.NeutralScore,
		Workers:      cfg.Engine.Workers,
		Signer:       certificate.NewSigner(cfg.Signing.KeyID, []byte(cfg.Signing.Key)),
		Store:        st,
		Audit:        audit,
	})
	return e, st, nil
}

// calibrateCmd runs the engine over a batch of evidence bundles.
var calibrateCmd = &cobra.Command{
	Use:   "calibrate [batch.json]",
	Short: "Calibrate a batch of methods from an evidence file",
	Long: `Reads a JSON array of calibration inputs (context, role, evidence bundle),
runs the full pipeline for each method in parallel, and prints the issued
certificates. With --persist, certificates and metrics are also written to
the database for later verification and drift analysis.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read batch file: %w", err)
		}
		var batch []batchEntry
		if err := json.Unmarshal(data, &batch); err != nil {
			return fmt.Errorf("failed to parse batch file: %w", err)
		}
		if len(batch) == 0 {
			return fmt.Errorf("batch file %s contains no entries", args[0])
		}

		e, st, err := buildEngine(calibratePersist)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		reqs := make([]engine.Request, len(batch))
		for i, entry := range batch {
			baseWeight := entry.BaseWeight
			if baseWeight == 0 {
				baseWeight = 1.0
			}
			reqs[i] = engine.Request{
				Context:    entry.Context,
				Role:       entry.Role,
				Evidence:   entry.Evidence,
				Trail:      entry.Trail,
				GraphHash:  entry.GraphHash,
				BaseWeight: baseWeight,
				PhaseID:    entry.PhaseID,
			}
		}

		results, err := e.CalibrateAll(cmd.Context(), reqs)
		if err != nil {
			return err
		}

		out := json.NewEncoder(os.Stdout)
		out.SetIndent("", "  ")
		for _, res := range results {
			if err := out.Encode(res.Certificate); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%-40s score=%.4f band=%s adjusted=%.4f\n",
				res.Certificate.MethodID,
				res.Certificate.FusionBreakdown.FinalScore,
				res.Weight.QualityBand,
				res.Weight.AdjustedWeight)
		}
		return nil
	},
}

// validateCmd re-validates certificate artifacts and reports.
var validateCmd = &cobra.Command{
	Use:   "validate <certificate.json|dir>...",
	Short: "Validate certificate artifacts and write a validation report",
	Long: `Loads one or more certificate JSON files (or directories of them),
re-runs the boundedness, monotonicity, normalization and completeness
checks, re-verifies each content hash, and checks signatures when a signing
key is configured. Writes a JSON report and a human-readable summary, and
exits non-zero if any check fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}

		var certs []*certificate.Certificate
		for _, arg := range args {
			loaded, err := loadCertificates(arg)
			if err != nil {
				return err
			}
			certs = append(certs, loaded...)
		}
		if len(certs) == 0 {
			return fmt.Errorf("no certificates found under %s", strings.Join(args, ", "))
		}

		validator := certificate.NewValidator(reg.Resolver())
		signer := certificate.NewSigner(cfg.Signing.KeyID, []byte(cfg.Signing.Key))
		report := validator.BuildReport(certs, signer)

		reportJSON, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if validateReportPath != "" {
			if err := os.WriteFile(validateReportPath, append(reportJSON, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		} else {
			fmt.Println(string(reportJSON))
		}

		printReportSummary(report)
		if !report.Passed {
			// Exit 1 without the usage splash.
			return fmt.Errorf("%d of %d checks failed", report.Stats.Failures, report.Stats.ChecksRun)
		}
		return nil
	},
}

func printReportSummary(report certificate.Report) {
	status := "PASS"
	if !report.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(os.Stderr, "%s: %d certificates, %d checks, %d failures, %d warnings\n",
		status, report.Stats.Certificates, report.Stats.ChecksRun,
		report.Stats.Failures, len(report.Warnings))
	for _, e := range report.Errors {
		fmt.Fprintln(os.Stderr, "  error:", e)
	}
	for _, w := range report.Warnings {
		fmt.Fprintln(os.Stderr, "  warning:", w)
	}
}

// loadCertificates reads a certificate file, or every *.json file in a
// directory.
func loadCertificates(path string) ([]*certificate.Certificate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		cert, err := loadCertificateFile(path)
		if err != nil {
			return nil, err
		}
		return []*certificate.Certificate{cert}, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.json"))
	if err != nil {
		return nil, err
	}
	var certs []*certificate.Certificate
	for _, match := range matches {
		cert, err := loadCertificateFile(match)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func loadCertificateFile(path string) (*certificate.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var cert certificate.Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("failed to parse certificate %s: %w", path, err)
	}
	return &cert, nil
}

// verifyCmd re-validates stored certificates.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-verify stored certificates by instance id or content hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyInstanceID == "" && verifyContentHash == "" {
			return fmt.Errorf("pass --instance or --hash")
		}

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		var certs []*certificate.Certificate
		if verifyInstanceID != "" {
			cert, err := st.CertificateByInstanceID(verifyInstanceID)
			if err != nil {
				return err
			}
			certs = append(certs, cert)
		} else {
			certs, err = st.CertificatesByContentHash(verifyContentHash)
			if err != nil {
				return err
			}
		}

		validator := certificate.NewValidator(reg.Resolver())
		signer := certificate.NewSigner(cfg.Signing.KeyID, []byte(cfg.Signing.Key))
		report := validator.BuildReport(certs, signer)
		printReportSummary(report)
		if !report.Passed {
			return fmt.Errorf("%d of %d checks failed", report.Stats.Failures, report.Stats.ChecksRun)
		}
		return nil
	},
}

// exportCmd dumps the metrics history.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export calibration metrics history as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		history, err := st.MetricsHistory(exportMethodID, exportLimit)
		if err != nil {
			return err
		}
		out := json.NewEncoder(os.Stdout)
		out.SetIndent("", "  ")
		return out.Encode(history)
	},
}

// driftCmd runs a drift check over the persisted score history.
var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect calibration score drift for a method",
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := cfg.BuildPolicy()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		history, err := st.MetricsHistory(driftMethodID, 0)
		if err != nil {
			return err
		}
		pol.Seed(history)

		window := driftWindow
		if window <= 0 {
			window = cfg.Policy.DriftWindow
		}
		threshold := driftThreshold
		if threshold <= 0 {
			threshold = cfg.Policy.DriftThreshold
		}

		report := pol.DetectDrift(driftMethodID, window, threshold)
		out := json.NewEncoder(os.Stdout)
		out.SetIndent("", "  ")
		if err := out.Encode(report); err != nil {
			return err
		}
		if report.DriftDetected {
			fmt.Fprintln(os.Stderr, "drift detected:", report.Reason)
		}
		return nil
	},
}

func init() {
	calibrateCmd.Flags().BoolVar(&calibratePersist, "persist", false, "Persist certificates and metrics to the database")
	calibrateCmd.Flags().BoolVar(&calibrateRelaxed, "relaxed", false, "Substitute a neutral score for unusable layer evidence")
	calibrateCmd.Flags().BoolVar(&calibrateStrict, "strict", false, "Fail on unusable layer evidence (overrides config)")

	validateCmd.Flags().StringVarP(&validateReportPath, "report", "r", "", "Write the JSON report to a file instead of stdout")

	verifyCmd.Flags().StringVar(&verifyInstanceID, "instance", "", "Certificate instance id")
	verifyCmd.Flags().StringVar(&verifyContentHash, "hash", "", "Certificate content hash")

	exportCmd.Flags().StringVar(&exportMethodID, "method", "", "Filter by method id")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "Maximum records to export (0 = all)")

	driftCmd.Flags().StringVar(&driftMethodID, "method", "", "Method id to inspect (empty = all methods)")
	driftCmd.Flags().IntVar(&driftWindow, "window", 0, "Window size (default from config)")
	driftCmd.Flags().Float64Var(&driftThreshold, "threshold", 0, "Drift threshold (default from config)")
}
