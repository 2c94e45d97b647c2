package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepost-larvae/agecred/apperr"
)

func TestCreateAnchor_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	tx1, block1, err := store.CreateAnchor("commitment-a", map[string]string{"policyId": "age_over_18"})
	require.NoError(t, err)

	tx2, block2, err := store.CreateAnchor("commitment-a", map[string]string{"policyId": "age_over_18"})
	require.NoError(t, err)

	assert.Equal(t, tx1, tx2)
	assert.Equal(t, block1, block2)
}

func TestCreateAnchor_MonotonicBlockNumbers(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	_, block1, err := store.CreateAnchor("commitment-a", nil)
	require.NoError(t, err)
	_, block2, err := store.CreateAnchor("commitment-b", nil)
	require.NoError(t, err)

	assert.Greater(t, block2, block1)
}

func TestVerifyAnchor(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	assert.False(t, store.VerifyAnchor("unknown"))
	_, _, err = store.CreateAnchor("commitment-a", nil)
	require.NoError(t, err)
	assert.True(t, store.VerifyAnchor("commitment-a"))
}

func TestCreateDid_RejectsDuplicate(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	_, _, err = store.CreateDid("did:key:abc", []byte(`{"id":"did:key:abc"}`), nil)
	require.NoError(t, err)

	_, _, err = store.CreateDid("did:key:abc", []byte(`{"id":"did:key:abc"}`), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.AlreadyExists, apperr.CodeOf(err))
}

func TestPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	store, err := Open(path)
	require.NoError(t, err)
	tx, block, err := store.CreateAnchor("commitment-a", map[string]string{"policyId": "age_over_18"})
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)

	rec, err := reopened.GetAnchor("commitment-a")
	require.NoError(t, err)
	assert.Equal(t, tx, rec.TxID)
	assert.Equal(t, block, rec.BlockNumber)
}

func TestGetAnchor_NotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	_, err = store.GetAnchor("missing")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)

	_, _, err = store.CreateAnchor("commitment-a", nil)
	require.NoError(t, err)
	_, _, err = store.CreateDid("did:key:abc", []byte(`{}`), nil)
	require.NoError(t, err)

	stats := store.Stats("file")
	assert.Equal(t, 1, stats.Anchors)
	assert.Equal(t, 1, stats.Dids)
	assert.Equal(t, "file", stats.Mode)
}
