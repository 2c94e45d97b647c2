package issuance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

type fakeAttestationStore struct {
	att        models.Attestation
	err        error
	savedJwt   string
	savedHash  string
	savedRef   string
}

func (f *fakeAttestationStore) GetByAccountRef(ctx context.Context, accountRef string) (models.Attestation, error) {
	return f.att, f.err
}
func (f *fakeAttestationStore) SaveCredential(ctx context.Context, accountRef, vcJwt, credentialHash string) error {
	f.savedRef, f.savedJwt, f.savedHash = accountRef, vcJwt, credentialHash
	return nil
}

type fakePolicyLookup struct {
	policy models.PolicyDefinition
}

func (f *fakePolicyLookup) GetPolicy(policyID, version string) (models.PolicyDefinition, error) {
	return f.policy, nil
}

type fakeKeySigner struct{}

func (f *fakeKeySigner) SignDetachedJWS(payload []byte) (string, string, error) {
	return "key-1", "signed." + string(payload), nil
}
func (f *fakeKeySigner) IssuerDID() (string, error) { return "did:key:issuer-1", nil }

type fakeAnchorer struct {
	called     bool
	commitment string
}

func (f *fakeAnchorer) CreateAnchor(commitment string, metadata map[string]string) (string, uint64, error) {
	f.called = true
	f.commitment = commitment
	return "tx-1", 1, nil
}

func newTestCore(att models.Attestation, expiry time.Duration) (*Core, *fakeAttestationStore, *fakeAnchorer) {
	store := &fakeAttestationStore{att: att}
	ledger := &fakeAnchorer{}
	core := New(store, &fakePolicyLookup{policy: models.PolicyDefinition{DefaultExpiry: expiry}}, &fakeKeySigner{}, ledger, nil)
	return core, store, ledger
}

func TestIssueCredential_Success(t *testing.T) {
	att := models.Attestation{Verified: true, IsAdult: true}
	core, store, ledger := newTestCore(att, time.Hour)

	result, err := core.IssueCredential(context.Background(), "account-1", "age_over_18", "commitment-xyz")
	require.NoError(t, err)
	assert.NotEmpty(t, result.VCJwt)
	assert.True(t, result.ExpiresAt.After(result.IssuedAt))
	assert.True(t, ledger.called)
	assert.Equal(t, "account-1", store.savedRef)
}

func TestIssueCredential_RejectsUnverifiedAttestation(t *testing.T) {
	core, _, _ := newTestCore(models.Attestation{Verified: false}, time.Hour)

	_, err := core.IssueCredential(context.Background(), "account-1", "age_over_18", "commitment-xyz")
	require.Error(t, err)
	assert.Equal(t, apperr.MissingClaims, apperr.CodeOf(err))
}

func TestIssueCredential_RejectsExpiredAttestation(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	core, _, _ := newTestCore(models.Attestation{Verified: true, IsAdult: true, ExpiresAt: &past}, time.Hour)

	_, err := core.IssueCredential(context.Background(), "account-1", "age_over_18", "commitment-xyz")
	require.Error(t, err)
	assert.Equal(t, apperr.CredentialExpired, apperr.CodeOf(err))
}

func TestIssueCredential_RejectsNonAdultForAgePolicy(t *testing.T) {
	core, _, _ := newTestCore(models.Attestation{Verified: true, IsAdult: false}, time.Hour)

	_, err := core.IssueCredential(context.Background(), "account-1", "age_over_18", "commitment-xyz")
	require.Error(t, err)
	assert.Equal(t, apperr.MissingClaims, apperr.CodeOf(err))
}

func TestIssueCredential_CapsLifetimeAtMax(t *testing.T) {
	core, _, _ := newTestCore(models.Attestation{Verified: true, IsAdult: true}, 100*24*time.Hour)

	result, err := core.IssueCredential(context.Background(), "account-1", "age_over_18", "commitment-xyz")
	require.NoError(t, err)
	assert.LessOrEqual(t, result.ExpiresAt.Sub(result.IssuedAt), maxCredentialLifetime)
}
