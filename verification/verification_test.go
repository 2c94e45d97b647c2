package verification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

const testChallengeHash = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"

type fakePolicyLookup struct {
	policy  models.PolicyDefinition
	err     error
	minimum string
}

func (f *fakePolicyLookup) GetPolicy(policyID, version string) (models.PolicyDefinition, error) {
	return f.policy, f.err
}
func (f *fakePolicyLookup) Minimum(policyID string) string { return f.minimum }

type fakeKeyVerifier struct {
	payload []byte
	keyID   string
	err     error
}

func (f *fakeKeyVerifier) VerifyDetachedJWS(compact string) ([]byte, string, error) {
	return f.payload, f.keyID, f.err
}

type fakeProofVerifier struct {
	valid        bool
	challengeHash string
	policyHash    string
}

func (f *fakeProofVerifier) Verify(proof models.Proof, publicSignals []string) (bool, error) {
	return f.valid, nil
}
func (f *fakeProofVerifier) Hash(field string) (string, error)       { return f.challengeHash, nil }
func (f *fakeProofVerifier) HashPolicy(policyID string) (string, error) { return f.policyHash, nil }

type fakeAuditWriter struct {
	entries []models.AuditEntry
}

func (f *fakeAuditWriter) Append(entry models.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func validEnvelope(vcJwt string) models.PresentationEnvelope {
	return models.PresentationEnvelope{
		ProtocolVersion: "1.0",
		PolicyID:        "age_over_18",
		PolicyVersion:   "1.2.0",
		Origin:          "https://relying-party.example",
		Nonce:           "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		IssuedAt:        time.Now().Unix(),
		VCJwt:           vcJwt,
		PublicSignals:   []string{testChallengeHash, "policy-hash-value", "commitment-xyz", "session-tag", "aux1", "aux2", "aux3"},
	}
}

func marshaledVC(t *testing.T, vc models.VCClaims) []byte {
	t.Helper()
	data, err := json.Marshal(vc)
	require.NoError(t, err)
	return data
}

func newCoreForTest(policy models.PolicyDefinition, vcPayload []byte, proofValid bool) (*Core, *fakeAuditWriter) {
	audit := &fakeAuditWriter{}
	core := New(
		&fakePolicyLookup{policy: policy},
		&fakeKeyVerifier{payload: vcPayload, keyID: "key-1"},
		&fakeProofVerifier{valid: proofValid, challengeHash: testChallengeHash, policyHash: "policy-hash-value"},
		audit,
		nil,
	)
	return core, audit
}

func TestVerify_AcceptsValidPresentation(t *testing.T) {
	policy := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.2.0", Status: models.PolicyActive}
	vc := models.VCClaims{SubjectCommitment: "commitment-xyz", Issuer: "did:key:issuer-1", ExpiresAt: time.Now().Add(time.Hour)}
	core, audit := newCoreForTest(policy, marshaledVC(t, vc), true)

	req := models.VerificationRequest{
		PolicyID:         "age_over_18",
		PresentationType: models.PresentationZKP,
		Presentation:     validEnvelope("signed-vc-jwt"),
		Challenge:        "some-challenge",
	}

	result := core.Verify(context.Background(), req)
	assert.True(t, result.Valid)
	assert.Empty(t, result.ReasonCodes)
	assert.Equal(t, "did:key:issuer-1", result.Issuer)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "accepted", audit.entries[0].Outcome)
}

func TestVerify_RejectsUnsupportedPresentationType(t *testing.T) {
	core, _ := newCoreForTest(models.PolicyDefinition{}, nil, true)
	req := models.VerificationRequest{PresentationType: "unknown-type", Presentation: validEnvelope("x")}

	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.UnsupportedPresentation))
}

func TestVerify_RejectsMissingFields(t *testing.T) {
	core, _ := newCoreForTest(models.PolicyDefinition{}, nil, true)
	req := models.VerificationRequest{PresentationType: models.PresentationZKP, Presentation: models.PresentationEnvelope{}}

	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.MissingField))
}

func TestVerify_RejectsDowngrade(t *testing.T) {
	audit := &fakeAuditWriter{}
	policy := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyActive}
	vc := models.VCClaims{SubjectCommitment: "commitment-xyz", ExpiresAt: time.Now().Add(time.Hour)}
	core := New(
		&fakePolicyLookup{policy: policy, minimum: "1.2.0"},
		&fakeKeyVerifier{payload: marshaledVC(t, vc)},
		&fakeProofVerifier{valid: true, challengeHash: testChallengeHash, policyHash: "policy-hash-value"},
		audit,
		nil,
	)

	env := validEnvelope("signed-vc-jwt")
	env.PolicyVersion = "1.0.0"
	req := models.VerificationRequest{PolicyID: "age_over_18", PresentationType: models.PresentationZKP, Presentation: env}

	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.DowngradeRejected))
}

func TestVerify_RejectsBindingMismatch(t *testing.T) {
	policy := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.2.0", Status: models.PolicyActive}
	vc := models.VCClaims{SubjectCommitment: "a-different-commitment", ExpiresAt: time.Now().Add(time.Hour)}
	core, _ := newCoreForTest(policy, marshaledVC(t, vc), true)

	req := models.VerificationRequest{PolicyID: "age_over_18", PresentationType: models.PresentationZKP, Presentation: validEnvelope("x")}
	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.BindingMismatch))
}

func TestVerify_RejectsReplay(t *testing.T) {
	policy := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.2.0", Status: models.PolicyActive}
	vc := models.VCClaims{SubjectCommitment: "commitment-xyz", ExpiresAt: time.Now().Add(time.Hour)}
	audit := &fakeAuditWriter{}
	core := New(
		&fakePolicyLookup{policy: policy},
		&fakeKeyVerifier{payload: marshaledVC(t, vc)},
		&fakeProofVerifier{valid: true, challengeHash: "different-hash", policyHash: "policy-hash-value"},
		audit,
		nil,
	)

	req := models.VerificationRequest{PolicyID: "age_over_18", PresentationType: models.PresentationZKP, Presentation: validEnvelope("x")}
	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.ReplayDetected))
}

func TestVerify_RejectsBlockedPolicy(t *testing.T) {
	policy := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.2.0", Status: models.PolicyBlocked}
	core, _ := newCoreForTest(policy, nil, true)

	req := models.VerificationRequest{PolicyID: "age_over_18", PresentationType: models.PresentationZKP, Presentation: validEnvelope("x")}
	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.PolicyMismatch))
}

func TestVerify_RejectsExpiredVC(t *testing.T) {
	policy := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.2.0", Status: models.PolicyActive}
	vc := models.VCClaims{SubjectCommitment: "commitment-xyz", ExpiresAt: time.Now().Add(-time.Hour)}
	core, _ := newCoreForTest(policy, marshaledVC(t, vc), true)

	req := models.VerificationRequest{PolicyID: "age_over_18", PresentationType: models.PresentationZKP, Presentation: validEnvelope("x")}
	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.VCExpired))
}

func TestVerify_WithTrustedIssuer_RejectsUntrusted(t *testing.T) {
	policy := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.2.0", Status: models.PolicyActive}
	vc := models.VCClaims{SubjectCommitment: "commitment-xyz", Issuer: "did:key:other", ExpiresAt: time.Now().Add(time.Hour)}
	audit := &fakeAuditWriter{}
	core := New(
		&fakePolicyLookup{policy: policy},
		&fakeKeyVerifier{payload: marshaledVC(t, vc)},
		&fakeProofVerifier{valid: true, challengeHash: testChallengeHash, policyHash: "policy-hash-value"},
		audit,
		nil,
		WithTrustedIssuer("did:key:issuer-1"),
	)

	req := models.VerificationRequest{PolicyID: "age_over_18", PresentationType: models.PresentationZKP, Presentation: validEnvelope("x")}
	result := core.Verify(context.Background(), req)
	assert.False(t, result.Valid)
	assert.Contains(t, result.ReasonCodes, string(apperr.IssuerUntrusted))
}
