// Audit logging for calibration runs. Audit events are structured JSON
// lines describing what the engine did — which methods were calibrated,
// which certificates were issued, which validations failed — so a run can
// be reconstructed without re-executing it.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Calibration lifecycle
	AuditCalibrationStart    AuditEventType = "calibration_start"
	AuditCalibrationComplete AuditEventType = "calibration_complete"
	AuditCalibrationError    AuditEventType = "calibration_error"

	// Certificate lifecycle
	AuditCertificateIssued   AuditEventType = "certificate_issued"
	AuditCertificateVerified AuditEventType = "certificate_verified"
	AuditCertificateRejected AuditEventType = "certificate_rejected"

	// Registry lifecycle
	AuditRegistryBuilt AuditEventType = "registry_built"

	// Policy decisions
	AuditExecutionGate AuditEventType = "execution_gate"
	AuditDriftDetected AuditEventType = "drift_detected"
)

// AuditEvent is one structured audit log entry.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"` // Unix milliseconds
	EventType  AuditEventType `json:"event"`
	MethodID   string         `json:"method,omitempty"`
	InstanceID string         `json:"instance,omitempty"`
	Target     string         `json:"target,omitempty"`
	Success    bool           `json:"success"`
	Score      float64        `json:"score,omitempty"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// AuditLogger appends audit events to a JSON-lines file. A nil AuditLogger
// is a valid no-op, so callers never need to guard their audit calls.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// OpenAudit opens (or creates) an audit trail file in append mode.
func OpenAudit(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLogger{file: file}, nil
}

// Close closes the underlying file.
func (a *AuditLogger) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.file.Close()
	a.file = nil
	return err
}

// Log writes one audit event. Marshal failures are reported to the
// category logger rather than dropped silently.
func (a *AuditLogger) Log(event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		Get(CategoryEngine).Warnf("audit event dropped: %v", err)
		return
	}
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		Get(CategoryEngine).Warnf("audit write failed: %v", err)
	}
}

// CalibrationComplete records a finished calibration for a method.
func (a *AuditLogger) CalibrationComplete(methodID, instanceID string, score float64, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditCalibrationComplete,
		MethodID:   methodID,
		InstanceID: instanceID,
		Score:      score,
		DurationMs: durationMs,
		Success:    true,
		Message:    fmt.Sprintf("calibrated %s: score=%.4f (%dms)", methodID, score, durationMs),
	})
}

// CalibrationError records a failed calibration.
func (a *AuditLogger) CalibrationError(methodID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: AuditCalibrationError,
		MethodID:  methodID,
		Success:   false,
		Error:     msg,
		Message:   fmt.Sprintf("calibration failed for %s", methodID),
	})
}

// CertificateVerified records the outcome of an independent re-validation.
func (a *AuditLogger) CertificateVerified(instanceID string, passed bool, failures []string) {
	event := AuditEvent{
		EventType:  AuditCertificateVerified,
		InstanceID: instanceID,
		Success:    passed,
		Message:    fmt.Sprintf("certificate %s verified: passed=%v", instanceID, passed),
	}
	if !passed {
		event.EventType = AuditCertificateRejected
		event.Fields = map[string]any{"failures": failures}
	}
	a.Log(event)
}

// ExecutionGate records a should-execute policy decision.
func (a *AuditLogger) ExecutionGate(methodID string, allowed bool, reason string) {
	a.Log(AuditEvent{
		EventType: AuditExecutionGate,
		MethodID:  methodID,
		Success:   allowed,
		Message:   reason,
	})
}

// DriftDetected records a positive drift report.
func (a *AuditLogger) DriftDetected(methodID string, mean, stddev float64) {
	a.Log(AuditEvent{
		EventType: AuditDriftDetected,
		MethodID:  methodID,
		Success:   false,
		Fields:    map[string]any{"mean": mean, "stddev": stddev},
		Message:   fmt.Sprintf("drift detected for %s: mean=%.4f std=%.4f", methodID, mean, stddev),
	})
}
