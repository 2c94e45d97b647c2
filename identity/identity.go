// Package identity implements IdentitySessionCore: the eID session
// lifecycle (Initiated -> Pending -> terminal state) that drives claim
// mapping into a privacy-minimized Attestation and the strict data
// discard rules spec.md §4.6 mandates (no claims body, no session body,
// no dateOfBirth, ever logged or persisted).
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/claimsmapper"
	"github.com/tracepost-larvae/agecred/events"
	"github.com/tracepost-larvae/agecred/models"
	"github.com/tracepost-larvae/agecred/providerclient"
	"github.com/tracepost-larvae/agecred/safelog"
)

// SessionCache is the narrow surface Core needs; sessioncache.Cache
// satisfies it structurally, and tests inject an in-memory fake.
type SessionCache interface {
	Set(ctx context.Context, sessionID string, session models.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (models.Session, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	Remove(ctx context.Context, sessionID string) error
}

// AttestationStore is the durable sink for mapped attestations. It is
// owned by the Token Service's database but written here, per spec.md
// §5's "databases are written only by their owning service" — in this
// module's monolithic layout that boundary is expressed as a narrow
// interface rather than a process boundary.
type AttestationStore interface {
	Upsert(ctx context.Context, att models.Attestation) (models.Attestation, error)
}

// Outcome is HandleCallback's result: Status always set; Attestation
// only populated when Status == Succeeded.
type Outcome struct {
	Status      models.SessionStatus
	Attestation models.Attestation
}

// Core is IdentitySessionCore.
type Core struct {
	providers    *providerclient.Registry
	mappers      map[string]claimsmapper.Mapper
	sessions     SessionCache
	attestations AttestationStore
	bus          *events.Bus
	log          *safelog.Logger
	policyID     string
	nowFn        func() time.Time
}

func New(providers *providerclient.Registry, mappers map[string]claimsmapper.Mapper, sessions SessionCache, attestations AttestationStore, bus *events.Bus, log *safelog.Logger, policyID string) *Core {
	return &Core{
		providers:    providers,
		mappers:      mappers,
		sessions:     sessions,
		attestations: attestations,
		bus:          bus,
		log:          log,
		policyID:     policyID,
		nowFn:        time.Now,
	}
}

// SessionExists reports whether sessionID is still pending in the
// cache, for the status-polling endpoint.
func (c *Core) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return c.sessions.Exists(ctx, sessionID)
}

// Start begins a session: validates the provider, opens a hub session,
// and stashes the correlation state in SessionCache keyed by sessionId.
func (c *Core) Start(ctx context.Context, providerID, accountRef string) (authURL, sessionID string, err error) {
	client, ok := c.providers.Get(providerID)
	if !ok {
		return "", "", apperr.New(apperr.MissingField, "unknown eID provider")
	}

	sessionID, authURL, expiresAt, err := client.CreateSession(ctx, providerID)
	if err != nil {
		return "", "", apperr.Wrap(apperr.SystemError, "creating hub session", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	session := models.Session{
		SessionID:         sessionID,
		ProviderID:        providerID,
		AccountRef:        accountRef,
		ExternalReference: uuid.NewString(),
		TTL:               ttl,
	}
	if err := c.sessions.Set(ctx, sessionID, session, ttl); err != nil {
		return "", "", err
	}

	c.log.Info("identity.session_started", safeFields(providerID, ""))
	return authURL, sessionID, nil
}

// HandleCallback resolves the hub session's outcome and, on success,
// maps hub claims into a minimal Attestation — never logging or
// persisting the raw claims or session body.
func (c *Core) HandleCallback(ctx context.Context, providerID, sessionID string) (Outcome, error) {
	exists, err := c.sessions.Exists(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if !exists {
		return Outcome{}, apperr.New(apperr.CsrfRejected, "session not found in cache; rejecting as a possible CSRF callback")
	}

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	client, ok := c.providers.Get(providerID)
	if !ok {
		_ = c.sessions.Remove(ctx, sessionID)
		return Outcome{}, apperr.New(apperr.MissingField, "unknown eID provider")
	}

	resp, err := client.FetchSession(ctx, providerID, sessionID)
	if err != nil {
		_ = c.sessions.Remove(ctx, sessionID)
		return Outcome{}, err
	}

	if resp.Status != "Succeeded" {
		_ = c.sessions.Remove(ctx, sessionID)
		status := models.SessionErrored
		if resp.Status == "Aborted" {
			status = models.SessionAborted
		}
		c.log.Info("identity.session_terminal", safeFields(providerID, string(status)))
		return Outcome{Status: status}, nil
	}

	mapper, ok := c.mappers[providerID]
	if !ok {
		_ = c.sessions.Remove(ctx, sessionID)
		return Outcome{}, apperr.New(apperr.SystemError, "no claims mapper registered for provider")
	}

	mapped, err := mapper.Map(resp)
	if err != nil {
		_ = c.sessions.Remove(ctx, sessionID)
		return Outcome{}, err
	}

	att := models.Attestation{
		PolicyID:       c.policyID,
		SubjectID:      mapped.SubjectID,
		ProviderID:     mapped.ProviderID,
		AccountRef:     session.AccountRef,
		Verified:       true,
		VerifiedAt:     mapped.VerifiedAt,
		ExpiresAt:      mapped.ExpiresAt,
		AssuranceLevel: mapped.AssuranceLevel,
		PolicyHash:     models.PolicyHashOf(c.policyID, "", ""),
		IsAdult:        mapped.IsAdult,
	}

	stored, err := c.attestations.Upsert(ctx, att)
	if err != nil {
		return Outcome{}, err
	}

	if err := c.sessions.Remove(ctx, sessionID); err != nil {
		return Outcome{}, err
	}

	if c.bus != nil {
		_ = c.bus.PublishIdentityVerified(ctx, models.IdentityVerifiedEvent{
			ProviderID:     stored.ProviderID,
			SubjectID:      stored.SubjectID,
			IsAdult:        stored.IsAdult,
			VerifiedAt:     stored.VerifiedAt,
			AssuranceLevel: stored.AssuranceLevel,
			ExpiresAt:      stored.ExpiresAt,
			AccountRef:     stored.AccountRef,
			PolicyID:       stored.PolicyID,
		})
	}

	c.log.Info("identity.session_succeeded", safeFields(providerID, string(models.SessionSucceeded)))
	return Outcome{Status: models.SessionSucceeded, Attestation: stored}, nil
}

// safeFields builds a logrus.Fields-safe map for safelog — only
// identifiers that are not themselves PII.
func safeFields(providerID, status string) map[string]any {
	f := map[string]any{"providerId": providerID}
	if status != "" {
		f["status"] = status
	}
	return f
}
