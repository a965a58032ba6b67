package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calfuse/internal/certificate"
	"calfuse/internal/evidence"
	"calfuse/internal/policy"
	"calfuse/internal/taxonomy"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "calibration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func generateCert(t *testing.T, methodID string) *certificate.Certificate {
	t.Helper()
	gen := certificate.NewGenerator("cfg-hash", certificate.NewSigner("k", []byte("store test key")))
	cert, err := gen.Generate(certificate.Request{
		Context: evidence.Context{MethodID: methodID},
		Role:    taxonomy.RoleUtility,
		Scores: taxonomy.LayerScores{
			taxonomy.LayerBase:  0.8,
			taxonomy.LayerChain: 0.9,
			taxonomy.LayerMeta:  0.7,
		},
		Linear: taxonomy.LinearWeights{
			taxonomy.LayerBase:  0.5,
			taxonomy.LayerChain: 0.3,
			taxonomy.LayerMeta:  0.2,
		},
		Trail: []evidence.TrailEntry{{Source: "unit_contracts", Ref: "suite-1"}},
	})
	require.NoError(t, err)
	return cert
}

func TestCertificateRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	cert := generateCert(t, "m_store")
	require.NoError(t, s.SaveCertificate(cert))

	loaded, err := s.CertificateByInstanceID(cert.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, cert.ContentHash, loaded.ContentHash)
	assert.Equal(t, cert.MethodID, loaded.MethodID)
	assert.Equal(t, cert.Signature, loaded.Signature)

	// A reloaded certificate still verifies against its own hash.
	require.NoError(t, certificate.VerifyContentHash(loaded))
}

func TestSaveCertificate_AppendOnly(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	cert := generateCert(t, "m_dup")
	require.NoError(t, s.SaveCertificate(cert))
	assert.Error(t, s.SaveCertificate(cert), "re-inserting the same instance id must fail")
}

func TestCertificatesByContentHash(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a := generateCert(t, "m_hash")
	b := generateCert(t, "m_hash")
	require.Equal(t, a.ContentHash, b.ContentHash, "identical inputs share one content hash")
	require.NoError(t, s.SaveCertificate(a))
	require.NoError(t, s.SaveCertificate(b))

	certs, err := s.CertificatesByContentHash(a.ContentHash)
	require.NoError(t, err)
	assert.Len(t, certs, 2)

	_, err = s.CertificatesByContentHash("no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCertificateByInstanceID_NotFound(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.CertificateByInstanceID("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListCertificates_FilterAndLimit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveCertificate(generateCert(t, "m_a")))
	}
	require.NoError(t, s.SaveCertificate(generateCert(t, "m_b")))

	all, err := s.ListCertificates("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	onlyA, err := s.ListCertificates("m_a", 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 3)

	limited, err := s.ListCertificates("m_a", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMetricsHistory_OrderAndFilter(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		method := "m_even"
		if i%2 == 1 {
			method = "m_odd"
		}
		require.NoError(t, s.AppendMetrics(policy.Metrics{
			RecordID:         string(rune('a' + i)),
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
			MethodID:         method,
			CalibrationScore: 0.5 + float64(i)*0.05,
			QualityBand:      policy.BandAcceptable,
			InfluencedOutput: i%2 == 0,
		}))
	}

	history, err := s.MetricsHistory("", 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp),
			"history must come back in chronological order")
	}

	odd, err := s.MetricsHistory("m_odd", 0)
	require.NoError(t, err)
	assert.Len(t, odd, 2)
	for _, m := range odd {
		assert.Equal(t, "m_odd", m.MethodID)
	}
}

func TestMetricsHistory_SeedsPolicy(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		score := 0.5
		if i%2 == 1 {
			score = 0.9
		}
		require.NoError(t, s.AppendMetrics(policy.Metrics{
			RecordID:         string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Timestamp:        base.Add(time.Duration(i) * time.Second),
			MethodID:         "m_seed",
			CalibrationScore: score,
			QualityBand:      policy.BandAcceptable,
		}))
	}

	history, err := s.MetricsHistory("m_seed", 0)
	require.NoError(t, err)

	p := policy.Default()
	p.Seed(history)
	report := p.DetectDrift("m_seed", 50, 0.15)
	assert.False(t, report.InsufficientData)
	assert.True(t, report.DriftDetected)
}
