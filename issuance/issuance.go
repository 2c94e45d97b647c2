// Package issuance implements IssuanceCore: derivation of a
// commitment-bound Verifiable Credential from a prior Attestation,
// signing with the current rotating key, anchoring the credential hash
// to LedgerStore before CredentialIssued is ever published, and
// persisting the credential pointer back onto the attestation row.
//
// IssuanceCore never receives or stores the wallet-secret preimage —
// only the subjectCommitment the wallet already hashed it into.
package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/events"
	"github.com/tracepost-larvae/agecred/models"
)

// maxCredentialLifetime is the hard cap spec.md §4.7 step 3 imposes
// regardless of what a policy's defaultExpiry configures.
const maxCredentialLifetime = 72 * time.Hour

// AttestationStore is the narrow read/write surface IssuanceCore needs.
type AttestationStore interface {
	GetByAccountRef(ctx context.Context, accountRef string) (models.Attestation, error)
	SaveCredential(ctx context.Context, accountRef, vcJwt, credentialHash string) error
}

// PolicyLookup resolves a policy's defaultExpiry.
type PolicyLookup interface {
	GetPolicy(policyID, version string) (models.PolicyDefinition, error)
}

// KeySigner is the narrow KeyManager surface IssuanceCore needs: the
// current signing key's issuer DID and a detached-JWS signer.
type KeySigner interface {
	SignDetachedJWS(payload []byte) (keyID string, compact string, err error)
	IssuerDID() (string, error)
}

// Anchorer is the narrow LedgerStore surface IssuanceCore needs.
type Anchorer interface {
	CreateAnchor(commitment string, metadata map[string]string) (txID string, blockNumber uint64, err error)
}

// Result is what IssueCredential returns to its HTTP adapter.
type Result struct {
	VCJwt     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Core is IssuanceCore.
type Core struct {
	attestations AttestationStore
	policies     PolicyLookup
	keys         KeySigner
	ledger       Anchorer
	bus          *events.Bus
	nowFn        func() time.Time
}

func New(attestations AttestationStore, policies PolicyLookup, keys KeySigner, ledger Anchorer, bus *events.Bus) *Core {
	return &Core{attestations: attestations, policies: policies, keys: keys, ledger: ledger, bus: bus, nowFn: time.Now}
}

// IssueCredential implements spec.md §4.7's full algorithm.
func (c *Core) IssueCredential(ctx context.Context, accountRef, policyID, subjectCommitment string) (Result, error) {
	att, err := c.attestations.GetByAccountRef(ctx, accountRef)
	if err != nil {
		return Result{}, err
	}
	if !att.Verified {
		return Result{}, apperr.New(apperr.MissingClaims, "attestation is not verified")
	}
	if att.ExpiresAt != nil && c.now().After(*att.ExpiresAt) {
		return Result{}, apperr.New(apperr.CredentialExpired, "attestation has expired")
	}
	if policyID == "age_over_18" && !att.IsAdult {
		return Result{}, apperr.New(apperr.MissingClaims, "attestation does not satisfy policy age_over_18")
	}

	policy, err := c.policies.GetPolicy(policyID, "")
	if err != nil {
		return Result{}, err
	}

	issuerDID, err := c.keys.IssuerDID()
	if err != nil {
		return Result{}, err
	}

	issuedAt := c.now().UTC()
	expiresAt := issuedAt.Add(policy.DefaultExpiry)
	if cap := issuedAt.Add(maxCredentialLifetime); expiresAt.After(cap) {
		expiresAt = cap
	}

	claims := models.VCClaims{
		PolicyID:          policyID,
		SubjectCommitment: subjectCommitment,
		Issuer:            issuerDID,
		IssuedAt:          issuedAt,
		ExpiresAt:         expiresAt,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.SystemError, "marshaling credential claims", err)
	}
	_, vcJwt, err := c.keys.SignDetachedJWS(payload)
	if err != nil {
		return Result{}, err
	}

	credentialHash := sha256Hex(vcJwt)
	if _, _, err := c.ledger.CreateAnchor(credentialHash, map[string]string{"policyId": policyID}); err != nil {
		return Result{}, err
	}

	if err := c.attestations.SaveCredential(ctx, accountRef, vcJwt, credentialHash); err != nil {
		return Result{}, err
	}

	if c.bus != nil {
		_ = c.bus.PublishCredentialIssued(ctx, models.CredentialIssuedEvent{
			AccountRef:     accountRef,
			CredentialHash: credentialHash,
			IssuedAt:       issuedAt,
			ExpiresAt:      expiresAt,
		})
	}

	return Result{VCJwt: vcJwt, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

func (c *Core) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now()
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
