// Package engine runs the end-to-end calibration pipeline: role resolution,
// weight cascade, layer scoring, fusion, certificate issuance, independent
// validation, and policy bookkeeping. Methods calibrate independently, so
// batches fan out over a bounded worker pool.
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"calfuse/internal/certificate"
	"calfuse/internal/evidence"
	"calfuse/internal/logging"
	"calfuse/internal/policy"
	"calfuse/internal/registry"
	"calfuse/internal/scoring"
	"calfuse/internal/store"
	"calfuse/internal/taxonomy"
)

// DefaultWorkers bounds the calibration pool when no limit is configured.
const DefaultWorkers = 4

// Options configures an engine.
type Options struct {
	// Relaxed substitutes a neutral score for unusable layer evidence
	// instead of failing the calibration.
	Relaxed bool
	// NeutralScore is the relaxed-profile substitute; zero means the
	// scoring default.
	NeutralScore float64
	// Workers bounds CalibrateAll's pool; zero means DefaultWorkers.
	Workers int
	// Signer signs issued certificates; nil runs unkeyed.
	Signer *certificate.Signer
	// Store persists certificates and metrics when set.
	Store *store.Store
	// Audit receives structured audit events; nil is a no-op.
	Audit *logging.AuditLogger
}

// Engine wires the calibration components around a shared immutable
// registry. Safe for concurrent use: the policy history is the only mutable
// state and it guards itself.
type Engine struct {
	reg       *registry.Registry
	computer  *scoring.Computer
	generator *certificate.Generator
	validator *certificate.Validator
	pol       *policy.Policy
	st        *store.Store
	audit     *logging.AuditLogger
	workers   int
}

// New assembles an engine over a registry and a policy.
func New(reg *registry.Registry, pol *policy.Policy, opts Options) *Engine {
	computer := scoring.New(reg.Rubric())
	if opts.Relaxed {
		neutral := opts.NeutralScore
		if neutral == 0 {
			neutral = scoring.DefaultNeutralScore
		}
		computer = scoring.NewRelaxed(reg.Rubric(), neutral)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{
		reg:       reg,
		computer:  computer,
		generator: certificate.NewGenerator(reg.ConfigHash(), opts.Signer),
		validator: certificate.NewValidator(reg.Resolver()),
		pol:       pol,
		st:        opts.Store,
		audit:     opts.Audit,
		workers:   workers,
	}
}

// Policy returns the engine's calibration policy.
func (e *Engine) Policy() *policy.Policy { return e.pol }

// Validator returns the engine's certificate validator.
func (e *Engine) Validator() *certificate.Validator { return e.validator }

// Request is one method's calibration input.
type Request struct {
	Context    evidence.Context
	Role       taxonomy.MethodRole
	Evidence   *evidence.Bundle
	Trail      []evidence.TrailEntry
	GraphHash  string
	BaseWeight float64
	PhaseID    string
}

// Result is one method's calibration outcome.
type Result struct {
	Certificate *certificate.Certificate
	Checks      certificate.ValidationChecks
	Weight      policy.CalibrationWeight
}

// Calibrate runs the full pipeline for one method. The context is checked
// on entry; the work itself is synchronous and CPU-bound.
func (e *Engine) Calibrate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := logging.Get(logging.CategoryEngine)

	active := e.reg.Resolver().Resolve(req.Context.MethodID, req.Role)

	var structure *evidence.DocumentStructure
	if req.Evidence != nil {
		structure = req.Evidence.Structure
	}
	linear, interaction, err := e.reg.ResolveWeightsWithStructure(req.Context, req.Role, structure)
	if err != nil {
		e.audit.CalibrationError(req.Context.MethodID, err)
		return nil, fmt.Errorf("resolving weights for %q: %w", req.Context.MethodID, err)
	}

	scores, err := e.computer.ScoreLayers(active, req.Evidence, req.Context)
	if err != nil {
		e.audit.CalibrationError(req.Context.MethodID, err)
		return nil, fmt.Errorf("scoring layers for %q: %w", req.Context.MethodID, err)
	}

	cert, err := e.generator.Generate(certificate.Request{
		Context:     req.Context,
		Role:        req.Role,
		Scores:      scores,
		Linear:      linear,
		Interaction: interaction,
		Trail:       req.Trail,
		GraphHash:   req.GraphHash,
	})
	if err != nil {
		e.audit.CalibrationError(req.Context.MethodID, err)
		return nil, fmt.Errorf("generating certificate for %q: %w", req.Context.MethodID, err)
	}

	// Independent re-check. Failures are reported on the result, never
	// repaired, and the certificate is persisted either way so a broken
	// record stays inspectable.
	checks := e.validator.Validate(cert)
	e.audit.CertificateVerified(cert.InstanceID, checks.AllPassed(), checks.Failures())
	if !checks.AllPassed() {
		log.Warnw("certificate failed validation",
			"method_id", req.Context.MethodID,
			"instance_id", cert.InstanceID,
			"failures", checks.Failures(),
		)
	}

	weight := e.pol.AdjustedWeight(req.Context.MethodID, req.BaseWeight, cert.FusionBreakdown.FinalScore)
	metrics := policy.Metrics{
		RecordID:         cert.InstanceID,
		Timestamp:        cert.Timestamp,
		PhaseID:          req.PhaseID,
		MethodID:         req.Context.MethodID,
		CalibrationScore: cert.FusionBreakdown.FinalScore,
		QualityBand:      weight.QualityBand,
		WeightAdjustment: weight.AdjustmentFactor,
		InfluencedOutput: true,
	}
	e.pol.RecordInfluence(metrics)

	if e.st != nil {
		if err := e.st.SaveCertificate(cert); err != nil {
			return nil, fmt.Errorf("persisting certificate %s: %w", cert.InstanceID, err)
		}
		if err := e.st.AppendMetrics(metrics); err != nil {
			return nil, fmt.Errorf("persisting metrics for %q: %w", req.Context.MethodID, err)
		}
	}

	e.audit.CalibrationComplete(req.Context.MethodID, cert.InstanceID,
		cert.FusionBreakdown.FinalScore, time.Since(start).Milliseconds())
	log.Debugw("calibrated method",
		"method_id", req.Context.MethodID,
		"score", cert.FusionBreakdown.FinalScore,
		"band", weight.QualityBand,
	)

	return &Result{Certificate: cert, Checks: checks, Weight: weight}, nil
}

// CalibrateAll calibrates a batch with no inter-method ordering, one task
// per method over a bounded errgroup. Results align with the request order.
// The first failure cancels the remaining tasks.
func (e *Engine) CalibrateAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := e.Calibrate(gctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
