package policy

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// fakeSigner is a minimal policy.Signer backed by one real ECDSA key,
// standing in for keymanager.Manager without pulling that package in.
type fakeSigner struct {
	priv *ecdsa.PrivateKey
	jwk  []byte
}

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	jwk := jose.JSONWebKey{Key: &priv.PublicKey, KeyID: "key-1", Algorithm: "ES256", Use: "sig"}
	jwkJSON, err := jwk.MarshalJSON()
	require.NoError(t, err)
	return &fakeSigner{priv: priv, jwk: jwkJSON}
}

func (f *fakeSigner) GetCurrent() (models.IssuerSigningKey, *ecdsa.PrivateKey, error) {
	return models.IssuerSigningKey{KeyID: "key-1", PublicKeyJWK: f.jwk, Status: models.KeyCurrent}, f.priv, nil
}

func (f *fakeSigner) GetVerificationKeys() []models.IssuerSigningKey {
	return []models.IssuerSigningKey{{KeyID: "key-1", PublicKeyJWK: f.jwk, Status: models.KeyCurrent}}
}

func TestCreate_RejectsSecondActiveForSameMajor(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)

	require.NoError(t, r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyActive}))
	err := r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.1.0", Status: models.PolicyActive})
	require.Error(t, err)
}

func TestCreate_AllowsActiveAcrossDifferentMajors(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)

	require.NoError(t, r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyActive}))
	require.NoError(t, r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "2.0.0", Status: models.PolicyActive}))
}

func TestGetPolicy_EmptyVersionReturnsActive(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)
	require.NoError(t, r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyDeprecated}))
	require.NoError(t, r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.1.0", Status: models.PolicyActive}))

	p, err := r.GetPolicy("age_over_18", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", p.Version)
}

func TestGetPolicy_NotFound(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)
	_, err := r.GetPolicy("age_over_18", "")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestUpdateStatus_RejectsNonMonotonicTransition(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)
	require.NoError(t, r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyDeprecated}))

	err := r.UpdateStatus("age_over_18", "1.0.0", models.PolicyActive, "oops", "operator")
	require.Error(t, err)
}

func TestUpdateStatus_AllowsMonotonicTransition(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)
	require.NoError(t, r.Create(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyActive}))

	require.NoError(t, r.UpdateStatus("age_over_18", "1.0.0", models.PolicyDeprecated, "superseded", "operator"))
	p, err := r.GetPolicy("age_over_18", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyDeprecated, p.Status)
	assert.NotNil(t, p.DeprecatedAt)
}

func TestSignAndVerifySignature_RoundTrips(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)
	def := models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyActive}

	signed, err := r.Sign(def)
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Signature)

	ok, err := r.VerifySignature(signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifySignature_RejectsTamperedPolicy(t *testing.T) {
	r := New(nil, newFakeSigner(t), nil)
	signed, err := r.Sign(models.PolicyDefinition{PolicyID: "age_over_18", Version: "1.0.0", Status: models.PolicyActive})
	require.NoError(t, err)

	signed.Version = "9.9.9"
	ok, err := r.VerifySignature(signed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsCompatible(t *testing.T) {
	assert.True(t, IsCompatible("1.2.0", "^1.0.0"))
	assert.True(t, IsCompatible("1.2.0", "^1.2.0"))
	assert.False(t, IsCompatible("1.1.0", "^1.2.0"))
	assert.False(t, IsCompatible("2.0.0", "^1.0.0"))

	assert.True(t, IsCompatible("1.5.3", "1.x"))
	assert.False(t, IsCompatible("2.5.3", "1.x"))

	assert.True(t, IsCompatible("1.2.3", "1.2.x"))
	assert.False(t, IsCompatible("1.3.3", "1.2.x"))

	assert.True(t, IsCompatible("1.2.3", "1.2.3"))
	assert.False(t, IsCompatible("1.2.3", "1.2.4"))

	assert.False(t, IsCompatible("not-a-version", "^1.0.0"))
}

func TestIsDowngrade(t *testing.T) {
	downgrade, err := IsDowngrade("1.0.0", "1.2.0")
	require.NoError(t, err)
	assert.True(t, downgrade)

	downgrade, err = IsDowngrade("1.3.0", "1.2.0")
	require.NoError(t, err)
	assert.False(t, downgrade)

	downgrade, err = IsDowngrade("1.2.0", "")
	require.NoError(t, err)
	assert.False(t, downgrade)
}
