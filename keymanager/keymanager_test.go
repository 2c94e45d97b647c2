package keymanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

func TestRotate_DeprecatesPriorCurrent(t *testing.T) {
	m := New(time.Hour, nil)

	first, err := m.Rotate("ES256")
	require.NoError(t, err)
	assert.Equal(t, models.KeyCurrent, first.Status)

	second, err := m.Rotate("ES256")
	require.NoError(t, err)
	assert.Equal(t, models.KeyCurrent, second.Status)
	assert.NotEqual(t, first.KeyID, second.KeyID)

	deprecated, _, err := m.GetByID(first.KeyID)
	require.NoError(t, err)
	assert.Equal(t, models.KeyDeprecated, deprecated.Status)
}

func TestSignAndVerifyDetachedJWS_RoundTrips(t *testing.T) {
	m := New(time.Hour, nil)
	_, err := m.Rotate("ES256")
	require.NoError(t, err)

	payload := []byte(`{"policyId":"age_over_18"}`)
	keyID, compact, err := m.SignDetachedJWS(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, keyID)

	verified, verifiedKeyID, err := m.VerifyDetachedJWS(compact)
	require.NoError(t, err)
	assert.Equal(t, payload, verified)
	assert.Equal(t, keyID, verifiedKeyID)
}

func TestVerifyDetachedJWS_StillValidDuringGracePeriod(t *testing.T) {
	m := New(time.Hour, nil)
	_, err := m.Rotate("ES256")
	require.NoError(t, err)
	payload := []byte(`{"policyId":"age_over_18"}`)
	_, compact, err := m.SignDetachedJWS(payload)
	require.NoError(t, err)

	// Rotating again deprecates the signing key but it must still verify
	// within its grace period.
	_, err = m.Rotate("ES256")
	require.NoError(t, err)

	_, _, err = m.VerifyDetachedJWS(compact)
	assert.NoError(t, err)
}

func TestRetire_KeyNoLongerVerifies(t *testing.T) {
	m := New(time.Hour, nil)
	first, err := m.Rotate("ES256")
	require.NoError(t, err)
	payload := []byte(`{"policyId":"age_over_18"}`)
	_, compact, err := m.SignDetachedJWS(payload)
	require.NoError(t, err)

	require.NoError(t, m.Retire(first.KeyID, "compromised", "operator"))

	_, _, err = m.VerifyDetachedJWS(compact)
	require.Error(t, err)
	assert.Equal(t, apperr.VCSignatureInvalid, apperr.CodeOf(err))
}

func TestRetire_UnknownKey(t *testing.T) {
	m := New(time.Hour, nil)
	err := m.Retire("does-not-exist", "reason", "actor")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestAutoRetireExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(time.Hour, nil)
	m.nowFn = func() time.Time { return now }

	first, err := m.Rotate("ES256")
	require.NoError(t, err)

	_, err = m.Rotate("ES256")
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)

	retired := m.AutoRetireExpired()
	assert.Equal(t, 1, retired)

	got, _, err := m.GetByID(first.KeyID)
	require.NoError(t, err)
	assert.Equal(t, models.KeyRetired, got.Status)
}

func TestGetCurrent_NoKeyYet(t *testing.T) {
	m := New(time.Hour, nil)
	_, _, err := m.GetCurrent()
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}
