// Package store persists certificates and calibration metrics in SQLite for
// offline re-verification and drift dashboards.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"calfuse/internal/certificate"
	"calfuse/internal/logging"
	"calfuse/internal/policy"
)

// ErrNotFound is returned when a lookup matches no stored record.
var ErrNotFound = errors.New("record not found")

// Store manages the calibration database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the calibration store at path.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Get(logging.CategoryStore).Debugw("store opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// initSchema creates the database schema.
func (s *Store) initSchema() error {
	schema := `
	-- Audit certificates, one row per calibration invocation
	CREATE TABLE IF NOT EXISTS certificates (
		instance_id TEXT PRIMARY KEY,
		method_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		final_score REAL NOT NULL,
		config_hash TEXT NOT NULL,
		body_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_certificates_method ON certificates(method_id);
	CREATE INDEX IF NOT EXISTS idx_certificates_content_hash ON certificates(content_hash);
	CREATE INDEX IF NOT EXISTS idx_certificates_created ON certificates(created_at);

	-- Append-only calibration metrics for drift tracking
	CREATE TABLE IF NOT EXISTS calibration_metrics (
		record_id TEXT PRIMARY KEY,
		recorded_at DATETIME NOT NULL,
		phase_id TEXT,
		method_id TEXT NOT NULL,
		calibration_score REAL NOT NULL,
		quality_band TEXT NOT NULL,
		weight_adjustment REAL NOT NULL,
		influenced_output INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_method ON calibration_metrics(method_id);
	CREATE INDEX IF NOT EXISTS idx_metrics_recorded ON calibration_metrics(recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CERTIFICATE OPERATIONS
// =============================================================================

// SaveCertificate persists one certificate. Certificates are append-only:
// an instance id is written at most once and never updated.
func (s *Store) SaveCertificate(cert *certificate.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("failed to serialize certificate: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO certificates (instance_id, method_id, role, content_hash,
			final_score, config_hash, body_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cert.InstanceID, cert.MethodID, string(cert.Role), cert.ContentHash,
		cert.FusionBreakdown.FinalScore, cert.ConfigHash, string(body), cert.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	return nil
}

// CertificateByInstanceID loads one certificate by its invocation id.
func (s *Store) CertificateByInstanceID(instanceID string) (*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRow(`
		SELECT body_json FROM certificates WHERE instance_id = ?
	`, instanceID).Scan(&body)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("certificate %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return decodeCertificate(body)
}

// CertificatesByContentHash loads every invocation that produced the given
// content hash. Content-addressing means these all carry identical bodies
// apart from instance id, timestamp and signature.
func (s *Store) CertificatesByContentHash(contentHash string) ([]*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT body_json FROM certificates
		WHERE content_hash = ?
		ORDER BY created_at ASC
	`, contentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	certs, err := scanCertificates(rows)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("content hash %s: %w", contentHash, ErrNotFound)
	}
	return certs, nil
}

// ListCertificates returns recent certificates, newest first, optionally
// filtered by method id. limit <= 0 means no limit.
func (s *Store) ListCertificates(methodID string, limit int) ([]*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT body_json FROM certificates`
	args := []any{}
	if methodID != "" {
		query += ` WHERE method_id = ?`
		args = append(args, methodID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	return scanCertificates(rows)
}

func scanCertificates(rows *sql.Rows) ([]*certificate.Certificate, error) {
	var certs []*certificate.Certificate
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan certificate row: %w", err)
		}
		cert, err := decodeCertificate(body)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

func decodeCertificate(body string) (*certificate.Certificate, error) {
	var cert certificate.Certificate
	if err := json.Unmarshal([]byte(body), &cert); err != nil {
		return nil, fmt.Errorf("failed to decode stored certificate: %w", err)
	}
	return &cert, nil
}

// =============================================================================
// METRICS OPERATIONS
// =============================================================================

// AppendMetrics persists one calibration metrics record.
func (s *Store) AppendMetrics(m policy.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	influenced := 0
	if m.InfluencedOutput {
		influenced = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO calibration_metrics (record_id, recorded_at, phase_id,
			method_id, calibration_score, quality_band, weight_adjustment, influenced_output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RecordID, m.Timestamp, m.PhaseID, m.MethodID, m.CalibrationScore,
		string(m.QualityBand), m.WeightAdjustment, influenced)

	if err != nil {
		return fmt.Errorf("failed to append metrics: %w", err)
	}
	return nil
}

// MetricsHistory returns metrics in chronological order, optionally filtered
// by method id. limit <= 0 means the full history.
func (s *Store) MetricsHistory(methodID string, limit int) ([]policy.Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT record_id, recorded_at, phase_id, method_id, calibration_score,
			quality_band, weight_adjustment, influenced_output
		FROM calibration_metrics`
	args := []any{}
	if methodID != "" {
		query += ` WHERE method_id = ?`
		args = append(args, methodID)
	}
	query += ` ORDER BY recorded_at ASC, record_id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var records []policy.Metrics
	for rows.Next() {
		var m policy.Metrics
		var phaseID sql.NullString
		var recordedAt time.Time
		var influenced int
		if err := rows.Scan(&m.RecordID, &recordedAt, &phaseID, &m.MethodID,
			&m.CalibrationScore, (*string)(&m.QualityBand), &m.WeightAdjustment, &influenced); err != nil {
			return nil, fmt.Errorf("failed to scan metrics row: %w", err)
		}
		m.Timestamp = recordedAt
		if phaseID.Valid {
			m.PhaseID = phaseID.String
		}
		m.InfluencedOutput = influenced != 0
		records = append(records, m)
	}
	return records, rows.Err()
}
