package certificate

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calfuse/internal/evidence"
	"calfuse/internal/roles"
	"calfuse/internal/taxonomy"
)

const testConfigHash = "3e0c8f7a0000000000000000000000000000000000000000000000000000cafe"

func executorRequest() Request {
	return Request{
		Context: evidence.Context{MethodID: "m_exec", QuestionID: "q1", DimensionID: "d1", PolicyAreaID: "p1"},
		Role:    taxonomy.RoleExecutor,
		Scores: taxonomy.LayerScores{
			taxonomy.LayerBase: 0.85, taxonomy.LayerUnit: 0.75, taxonomy.LayerQuestion: 1.0,
			taxonomy.LayerDimension: 0.9, taxonomy.LayerPolicy: 0.8, taxonomy.LayerCongruence: 1.0,
			taxonomy.LayerChain: 1.0, taxonomy.LayerMeta: 0.95,
		},
		Linear: taxonomy.LinearWeights{
			taxonomy.LayerBase: 0.17, taxonomy.LayerUnit: 0.04, taxonomy.LayerQuestion: 0.08,
			taxonomy.LayerDimension: 0.07, taxonomy.LayerPolicy: 0.06, taxonomy.LayerCongruence: 0.08,
			taxonomy.LayerChain: 0.13, taxonomy.LayerMeta: 0.04,
		},
		Interaction: taxonomy.InteractionWeights{
			taxonomy.MustLayerPair(taxonomy.LayerUnit, taxonomy.LayerChain):         0.13,
			taxonomy.MustLayerPair(taxonomy.LayerChain, taxonomy.LayerCongruence):   0.10,
			taxonomy.MustLayerPair(taxonomy.LayerQuestion, taxonomy.LayerDimension): 0.10,
		},
		Trail: []evidence.TrailEntry{
			{Source: "compatibility_registry", Ref: "q1", Hash: "aa11"},
			{Source: "unit_contracts", Ref: "suite-7"},
		},
		GraphHash: "deadbeef",
	}
}

func TestGenerate_ContentAddressing(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)

	a, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	b, err := gen.Generate(executorRequest())
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, b.ContentHash, "identical inputs must be content-addressed identically")
	assert.NotEqual(t, a.InstanceID, b.InstanceID, "each invocation gets its own instance id")

	req := executorRequest()
	req.Scores[taxonomy.LayerBase] = 0.86
	c, err := gen.Generate(req)
	require.NoError(t, err)
	assert.NotEqual(t, a.ContentHash, c.ContentHash)
}

func TestGenerate_DoesNotAliasInputs(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)
	req := executorRequest()

	cert, err := gen.Generate(req)
	require.NoError(t, err)

	req.Scores[taxonomy.LayerBase] = 0.1
	req.Linear[taxonomy.LayerBase] = 0.9
	assert.InDelta(t, 0.85, cert.LayerScores[taxonomy.LayerBase], 1e-9)
	assert.InDelta(t, 0.17, cert.Weights[taxonomy.LayerBase], 1e-9)
}

func TestGenerate_SelfCheckPasses(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)
	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	assert.True(t, cert.ValidationChecks.AllPassed())
	assert.Empty(t, cert.ValidationChecks.Failures())
}

func TestContentHash_SurvivesJSONRoundTrip(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, NewSigner("k1", []byte("0123456789abcdef")))
	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)

	data, err := json.Marshal(cert)
	require.NoError(t, err)
	var restored Certificate
	require.NoError(t, json.Unmarshal(data, &restored))

	require.NoError(t, VerifyContentHash(&restored))
	if diff := cmp.Diff(cert.LayerScores, restored.LayerScores); diff != "" {
		t.Errorf("layer scores changed across round trip (-want +got):\n%s", diff)
	}
}

func TestVerifyContentHash_DetectsTampering(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)
	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)

	cert.LayerScores[taxonomy.LayerBase] = 0.99
	assert.Error(t, VerifyContentHash(cert))
}

func TestValidate_Completeness(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)
	v := NewValidator(roles.NewResolver())

	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	checks := v.Validate(cert)
	assert.True(t, checks.AllPassed())

	// Dropping a required layer fails completeness and only completeness.
	delete(cert.LayerScores, taxonomy.LayerMeta)
	checks = v.Validate(cert)
	assert.False(t, checks.Completeness.Passed)
	assert.Contains(t, checks.Completeness.Detail, "META")
	assert.True(t, checks.Boundedness.Passed)
	assert.True(t, checks.Monotonicity.Passed)

	// An extra layer beyond the role's set also fails.
	cert.LayerScores[taxonomy.LayerMeta] = 0.95
	cert.Role = taxonomy.RoleUtility
	checks = v.Validate(cert)
	assert.False(t, checks.Completeness.Passed)
}

func TestValidate_ReportsNeverRepairs(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)
	v := NewValidator(roles.NewResolver())

	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	cert.Weights[taxonomy.LayerBase] = -0.17

	checks := v.Validate(cert)
	assert.False(t, checks.Monotonicity.Passed)
	assert.False(t, checks.Normalization.Passed)
	assert.InDelta(t, -0.17, cert.Weights[taxonomy.LayerBase], 1e-9,
		"validation must not mutate the certificate")
}

func TestRequire_IncompleteCertificateError(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)
	v := NewValidator(roles.NewResolver())

	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	delete(cert.LayerScores, taxonomy.LayerChain)

	_, err = v.Require(cert)
	var incomplete *IncompleteCertificateError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, cert.InstanceID, incomplete.InstanceID)
}

func TestSigner_SignAndVerify(t *testing.T) {
	t.Parallel()

	signer := NewSigner("prod-2026", []byte("super secret key"))
	gen := NewGenerator(testConfigHash, signer)

	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	assert.Equal(t, SignatureAlgorithm, cert.Signature.Algorithm)
	assert.Equal(t, "prod-2026", cert.Signature.KeyID)
	assert.True(t, signer.Verify(cert.ContentHash, cert.Signature))

	other := NewSigner("prod-2026", []byte("different key"))
	assert.False(t, other.Verify(cert.ContentHash, cert.Signature))
}

func TestSigner_UnkeyedOperation(t *testing.T) {
	t.Parallel()

	signer := NewSigner("ignored", nil)
	require.Nil(t, signer)

	gen := NewGenerator(testConfigHash, signer)
	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	assert.True(t, cert.Signature.Empty(), "unkeyed operation leaves the certificate unsigned")
	assert.NotEmpty(t, cert.ContentHash, "content-addressing still holds without a key")
	assert.True(t, signer.Verify(cert.ContentHash, cert.Signature))
}

func TestBuildReport_ExitSemantics(t *testing.T) {
	t.Parallel()

	signer := NewSigner("k", []byte("report key"))
	gen := NewGenerator(testConfigHash, signer)
	v := NewValidator(roles.NewResolver())

	good, err := gen.Generate(executorRequest())
	require.NoError(t, err)

	report := v.BuildReport([]*Certificate{good}, signer)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Errors)
	assert.Zero(t, report.Stats.Failures)

	bad, err := gen.Generate(executorRequest())
	require.NoError(t, err)
	bad.FusionBreakdown.FinalScore = 1.7

	report = v.BuildReport([]*Certificate{good, bad}, signer)
	assert.False(t, report.Passed)
	assert.NotEmpty(t, report.Errors)
	assert.Equal(t, 2, report.Stats.Certificates)
	assert.Equal(t, report.Stats.Failures, len(report.Errors))
}

func TestBuildReport_UnsignedIsWarningOnly(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(testConfigHash, nil)
	v := NewValidator(roles.NewResolver())

	cert, err := gen.Generate(executorRequest())
	require.NoError(t, err)

	report := v.BuildReport([]*Certificate{cert}, nil)
	assert.True(t, report.Passed)
	assert.NotEmpty(t, report.Warnings)
}
