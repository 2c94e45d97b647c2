package identity

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/claimsmapper"
	"github.com/tracepost-larvae/agecred/models"
	"github.com/tracepost-larvae/agecred/providerclient"
	"github.com/tracepost-larvae/agecred/safelog"
)

type fakeSessionCache struct {
	sessions map[string]models.Session
}

func newFakeSessionCache() *fakeSessionCache {
	return &fakeSessionCache{sessions: map[string]models.Session{}}
}

func (f *fakeSessionCache) Set(ctx context.Context, sessionID string, session models.Session, ttl time.Duration) error {
	f.sessions[sessionID] = session
	return nil
}
func (f *fakeSessionCache) Get(ctx context.Context, sessionID string) (models.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return models.Session{}, apperr.New(apperr.SessionNotFound, "not found")
	}
	return s, nil
}
func (f *fakeSessionCache) Exists(ctx context.Context, sessionID string) (bool, error) {
	_, ok := f.sessions[sessionID]
	return ok, nil
}
func (f *fakeSessionCache) Remove(ctx context.Context, sessionID string) error {
	delete(f.sessions, sessionID)
	return nil
}

type fakeAttestationStore struct {
	saved models.Attestation
}

func (f *fakeAttestationStore) Upsert(ctx context.Context, att models.Attestation) (models.Attestation, error) {
	f.saved = att
	return att, nil
}

func newTestCore(client providerclient.Client) (*Core, *fakeSessionCache, *fakeAttestationStore) {
	providers := providerclient.NewRegistry()
	providers.Register("demo-eid", client)
	mappers := map[string]claimsmapper.Mapper{"demo-eid": claimsmapper.NewDefaultMapper("demo-eid")}
	sessions := newFakeSessionCache()
	attestations := &fakeAttestationStore{}
	log := safelog.New(logrus.InfoLevel, false)
	core := New(providers, mappers, sessions, attestations, nil, log, "age_over_18")
	return core, sessions, attestations
}

func TestStart_UnknownProviderRejected(t *testing.T) {
	core, _, _ := newTestCore(providerclient.NewDemoClient())
	_, _, err := core.Start(context.Background(), "not-registered", "")
	require.Error(t, err)
	assert.Equal(t, apperr.MissingField, apperr.CodeOf(err))
}

func TestStart_StoresSessionForCallback(t *testing.T) {
	core, sessions, _ := newTestCore(providerclient.NewDemoClient())
	_, sessionID, err := core.Start(context.Background(), "demo-eid", "account-1")
	require.NoError(t, err)

	exists, err := sessions.Exists(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandleCallback_SucceedsAndStoresAttestation(t *testing.T) {
	core, _, attestations := newTestCore(providerclient.NewDemoClient())
	_, sessionID, err := core.Start(context.Background(), "demo-eid", "account-1")
	require.NoError(t, err)

	outcome, err := core.HandleCallback(context.Background(), "demo-eid", sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSucceeded, outcome.Status)
	assert.True(t, attestations.saved.IsAdult)
}

func TestHandleCallback_RejectsCSRFWhenSessionUnknown(t *testing.T) {
	core, _, _ := newTestCore(providerclient.NewDemoClient())
	_, err := core.HandleCallback(context.Background(), "demo-eid", "unknown-session")
	require.Error(t, err)
	assert.Equal(t, apperr.CsrfRejected, apperr.CodeOf(err))
}

func TestHandleCallback_RemovesSessionAfterTerminalOutcome(t *testing.T) {
	demo := providerclient.NewDemoClient()
	demo.ClaimsFn = func(sessionID string) map[string]any { return nil } // no claims: mapping fails with MISSING_ATTRIBUTE
	core, sessions, _ := newTestCore(demo)

	_, sessionID, err := core.Start(context.Background(), "demo-eid", "account-1")
	require.NoError(t, err)

	_, _ = core.HandleCallback(context.Background(), "demo-eid", sessionID)

	exists, err := sessions.Exists(context.Background(), sessionID)
	require.NoError(t, err)
	assert.False(t, exists)
}

