package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGet_CachesPerCategory(t *testing.T) {
	Initialize(zap.NewNop())
	defer Initialize(nil)

	a := Get(CategoryEngine)
	b := Get(CategoryEngine)
	if a != b {
		t.Error("expected the same logger instance for repeated Get calls")
	}
	if a == Get(CategoryStore) {
		t.Error("expected distinct loggers per category")
	}
}

func TestGet_NamedAfterCategory(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Initialize(zap.New(core))
	defer Initialize(nil)

	Get(CategoryRegistry).Infow("registry built", "methods", 3)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if got := entries[0].LoggerName; got != string(CategoryRegistry) {
		t.Errorf("logger name = %q, want %q", got, CategoryRegistry)
	}
}

func TestGet_NoOpBeforeInitialize(t *testing.T) {
	Initialize(nil)
	// Must not panic and must swallow output silently.
	Get(CategoryBoot).Warnw("pre-init message")
}

func TestAuditLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit, err := OpenAudit(path)
	if err != nil {
		t.Fatalf("OpenAudit: %v", err)
	}

	audit.CalibrationComplete("m1", "inst-1", 0.87, 12)
	audit.ExecutionGate("m1", false, "score below threshold")
	audit.CertificateVerified("inst-1", false, []string{"boundedness: final=1.2"})
	if err := audit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 audit lines, got %d", len(lines))
	}

	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not valid JSON: %v", err)
	}
	if first.EventType != AuditCalibrationComplete {
		t.Errorf("event = %q, want %q", first.EventType, AuditCalibrationComplete)
	}
	if first.Timestamp == 0 {
		t.Error("timestamp must be filled in")
	}

	var third AuditEvent
	if err := json.Unmarshal([]byte(lines[2]), &third); err != nil {
		t.Fatalf("third line is not valid JSON: %v", err)
	}
	if third.EventType != AuditCertificateRejected {
		t.Errorf("failed verification must log as %q, got %q", AuditCertificateRejected, third.EventType)
	}
}

func TestAuditLogger_NilIsNoOp(t *testing.T) {
	var audit *AuditLogger
	audit.CalibrationComplete("m1", "inst-1", 0.5, 1)
	audit.CalibrationError("m1", nil)
	if err := audit.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}
