// Package providerclient declares the narrow interface IdentitySessionCore
// uses to talk to an external eID hub, plus one illustrative in-memory
// fake used for local development and tests. The hub's own protocol is
// out of scope (spec.md §1) — real deployments implement Client against
// whatever SAML/OIDC/proprietary handshake the hub exposes.
package providerclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracepost-larvae/agecred/apperr"
)

// SessionResponse is the hub's answer to FetchSession once the user has
// completed (or abandoned) the handshake.
type SessionResponse struct {
	Status string // "Succeeded" | "Aborted" | "Errored"
	Claims map[string]any
}

// Client is the per-provider eID hub collaborator.
type Client interface {
	// CreateSession starts a hub-side authentication session and returns
	// the URL the wallet should redirect the user to.
	CreateSession(ctx context.Context, providerID string) (sessionID, authURL string, expiresAt time.Time, err error)
	// FetchSession retrieves the outcome of a previously created session.
	FetchSession(ctx context.Context, providerID, sessionID string) (SessionResponse, error)
}

// DemoClient is a deterministic in-memory fake standing in for a real
// eID hub. It immediately "succeeds" every session it is asked to
// fetch, returning a fixed claims payload — useful for integration
// tests and local development against the demo-eid provider, never a
// production collaborator.
type DemoClient struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	// ClaimsFn overrides the canned claims payload per session, e.g. so
	// tests can exercise MISSING_ATTRIBUTE / INVALID_SUBJECT_ID paths.
	ClaimsFn func(sessionID string) map[string]any
	NowFn    func() time.Time
}

func NewDemoClient() *DemoClient {
	return &DemoClient{sessions: map[string]time.Time{}, NowFn: time.Now}
}

func (d *DemoClient) CreateSession(ctx context.Context, providerID string) (string, string, time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sessionID := uuid.NewString()
	expires := d.now().Add(10 * time.Minute)
	d.sessions[sessionID] = expires
	authURL := fmt.Sprintf("https://%s.example-eid-hub.test/authorize?session=%s", providerID, sessionID)
	return sessionID, authURL, expires, nil
}

func (d *DemoClient) FetchSession(ctx context.Context, providerID, sessionID string) (SessionResponse, error) {
	d.mu.Lock()
	expires, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return SessionResponse{}, apperr.New(apperr.SessionNotFound, "unknown hub session")
	}
	if d.now().After(expires) {
		return SessionResponse{Status: "Errored"}, nil
	}
	claims := map[string]any{
		"dateOfBirth": "2000-06-15",
		"subject":     map[string]any{"id": "demo_" + sessionID[:8]},
		"assurance":   "substantial",
	}
	if d.ClaimsFn != nil {
		claims = d.ClaimsFn(sessionID)
	}
	return SessionResponse{Status: "Succeeded", Claims: claims}, nil
}

func (d *DemoClient) now() time.Time {
	if d.NowFn != nil {
		return d.NowFn()
	}
	return time.Now()
}

// Registry dispatches a providerID to its registered Client, the
// provider-lookup half of IdentitySessionCore.Start step 1 ("validate
// providerId is registered").
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: map[string]Client{}}
}

func (r *Registry) Register(providerID string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[providerID] = c
}

func (r *Registry) Get(providerID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[providerID]
	return c, ok
}
