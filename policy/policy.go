// Package policy implements PolicyRegistry: versioned policy
// definitions, anti-downgrade minimums, and policy-metadata signatures.
package policy

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/ecdsautil"
	"github.com/tracepost-larvae/agecred/models"
)

// Signer is the narrow KeyManager surface PolicyRegistry needs to sign
// and verify policy metadata.
type Signer interface {
	GetCurrent() (models.IssuerSigningKey, *ecdsa.PrivateKey, error)
	GetVerificationKeys() []models.IssuerSigningKey
}

// AuditWriter lets PolicyRegistry record status transitions.
type AuditWriter interface {
	Append(entry models.AuditEntry) error
}

// key identifies a policy version row.
type key struct {
	policyID string
	version  string
}

// Registry is the in-memory PolicyRegistry. Postgres-backed persistence
// is layered on top via db.PolicyRepo; the registry itself owns only the
// concurrency-safe in-memory view plus signing/verification.
type Registry struct {
	mu       sync.RWMutex
	policies map[key]models.PolicyDefinition
	minimums map[string]string // policyId -> minimum semver
	signer   Signer
	audit    AuditWriter
}

func New(minimums map[string]string, signer Signer, auditLog AuditWriter) *Registry {
	if minimums == nil {
		minimums = map[string]string{}
	}
	return &Registry{
		policies: map[key]models.PolicyDefinition{},
		minimums: minimums,
		signer:   signer,
		audit:    auditLog,
	}
}

// Create adds a new policy version. Enforces at most one Active status
// per major version for a given policyId.
func (r *Registry) Create(p models.PolicyDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Status == models.PolicyActive {
		major, err := majorOf(p.Version)
		if err != nil {
			return apperr.Wrap(apperr.SystemError, "invalid policy version", err)
		}
		for k, existing := range r.policies {
			if k.policyID != p.PolicyID || existing.Status != models.PolicyActive {
				continue
			}
			existingMajor, err := majorOf(existing.Version)
			if err == nil && existingMajor == major {
				return apperr.New(apperr.SystemError, "another active policy already exists for this major version")
			}
		}
	}
	r.policies[key{p.PolicyID, p.Version}] = p
	return nil
}

// GetPolicy returns the definition for (policyId, version). An empty
// version returns the current Active definition.
func (r *Registry) GetPolicy(policyID, version string) (models.PolicyDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if version == "" {
		for k, p := range r.policies {
			if k.policyID == policyID && p.Status == models.PolicyActive {
				return p, nil
			}
		}
		return models.PolicyDefinition{}, apperr.New(apperr.NotFound, "no active policy found")
	}
	p, ok := r.policies[key{policyID, version}]
	if !ok {
		return models.PolicyDefinition{}, apperr.New(apperr.NotFound, "policy version not found")
	}
	return p, nil
}

// GetActive returns every currently-Active policy across all policyIds.
func (r *Registry) GetActive() []models.PolicyDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.PolicyDefinition
	for _, p := range r.policies {
		if p.Status == models.PolicyActive {
			out = append(out, p)
		}
	}
	return out
}

// GetVersions returns every version on record for policyID.
func (r *Registry) GetVersions(policyID string) []models.PolicyDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.PolicyDefinition
	for k, p := range r.policies {
		if k.policyID == policyID {
			out = append(out, p)
		}
	}
	return out
}

// Minimum returns the enforced minimum version for policyID, or "" if
// none is configured.
func (r *Registry) Minimum(policyID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minimums[policyID]
}

// UpdateStatus performs a monotonic status transition
// (Active -> Deprecated -> Blocked) and writes a signed audit entry.
func (r *Registry) UpdateStatus(policyID, version string, newStatus models.PolicyStatus, reason, actor string) error {
	r.mu.Lock()
	p, ok := r.policies[key{policyID, version}]
	if !ok {
		r.mu.Unlock()
		return apperr.New(apperr.NotFound, "policy version not found")
	}
	if !isMonotonicTransition(p.Status, newStatus) {
		r.mu.Unlock()
		return apperr.New(apperr.SystemError, fmt.Sprintf("illegal policy status transition %s -> %s", p.Status, newStatus))
	}
	p.Status = newStatus
	if newStatus == models.PolicyDeprecated {
		now := time.Now().UTC()
		p.DeprecatedAt = &now
	}
	r.policies[key{policyID, version}] = p
	r.mu.Unlock()

	if r.audit != nil {
		_ = r.audit.Append(models.AuditEntry{
			Topic:       "policy.status_changed",
			PolicyID:    policyID,
			Outcome:     string(newStatus),
			ReasonCodes: []string{reason, "actor=" + actor},
		})
	}
	return nil
}

func isMonotonicTransition(from, to models.PolicyStatus) bool {
	order := map[models.PolicyStatus]int{
		models.PolicyActive:     0,
		models.PolicyDeprecated: 1,
		models.PolicyBlocked:    2,
	}
	return order[to] >= order[from]
}

// Sign produces a detached signature over the policy's canonical JSON
// (signature field excluded) and returns the signed policy.
func (r *Registry) Sign(p models.PolicyDefinition) (models.PolicyDefinition, error) {
	if r.signer == nil {
		return models.PolicyDefinition{}, apperr.New(apperr.SystemError, "no signer configured")
	}
	p.Signature = ""
	data, err := json.Marshal(p)
	if err != nil {
		return models.PolicyDefinition{}, apperr.Wrap(apperr.SystemError, "marshaling policy", err)
	}
	_, priv, err := r.signer.GetCurrent()
	if err != nil {
		return models.PolicyDefinition{}, err
	}
	sig, err := ecdsautil.Sign(priv, data, func(digest []byte) (*big.Int, *big.Int, error) {
		return ecdsa.Sign(rand.Reader, priv, digest)
	})
	if err != nil {
		return models.PolicyDefinition{}, apperr.Wrap(apperr.SystemError, "signing policy", err)
	}
	p.Signature = sig
	return p, nil
}

// VerifySignature checks p.Signature against every currently
// verification-capable key.
func (r *Registry) VerifySignature(p models.PolicyDefinition) (bool, error) {
	if r.signer == nil {
		return false, apperr.New(apperr.SystemError, "no signer configured")
	}
	sig := p.Signature
	p.Signature = ""
	data, err := json.Marshal(p)
	if err != nil {
		return false, apperr.Wrap(apperr.SystemError, "marshaling policy", err)
	}

	for _, k := range r.signer.GetVerificationKeys() {
		pub, err := ecdsautil.PublicKeyFromJWK(k.PublicKeyJWK)
		if err != nil {
			continue
		}
		if ecdsautil.Verify(pub, data, sig) {
			return true, nil
		}
	}
	return false, nil
}

// IsCompatible implements the semver-range matching spec.md mandates:
// ^X.Y.Z allows any version sharing major; X.x / X.Y.x use wildcard
// suffixes; a literal version requires exact equality. An unparsable
// range is rejected rather than default-allowed.
func IsCompatible(version, rng string) bool {
	v, err := parseSemver(version)
	if err != nil {
		return false
	}
	rng = strings.TrimSpace(rng)
	switch {
	case strings.HasPrefix(rng, "^"):
		want, err := parseSemver(strings.TrimPrefix(rng, "^"))
		if err != nil {
			return false
		}
		return v.major == want.major && semverGTE(v, want)
	case strings.HasSuffix(rng, ".x"):
		parts := strings.Split(strings.TrimSuffix(rng, ".x"), ".")
		switch len(parts) {
		case 1:
			maj, err := strconv.Atoi(parts[0])
			if err != nil {
				return false
			}
			return v.major == maj
		case 2:
			maj, err1 := strconv.Atoi(parts[0])
			min, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return false
			}
			return v.major == maj && v.minor == min
		default:
			return false
		}
	default:
		want, err := parseSemver(rng)
		if err != nil {
			return false
		}
		return v == want
	}
}

type semver struct {
	major, minor, patch int
}

func parseSemver(s string) (semver, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return semver{}, apperr.New(apperr.SystemError, "semver must have 3 components")
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	pat, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return semver{}, apperr.New(apperr.SystemError, "semver components must be integers")
	}
	return semver{maj, min, pat}, nil
}

func semverGTE(a, b semver) bool {
	if a.major != b.major {
		return a.major > b.major
	}
	if a.minor != b.minor {
		return a.minor > b.minor
	}
	return a.patch >= b.patch
}

// IsDowngrade reports whether version is strictly below minimum.
func IsDowngrade(version, minimum string) (bool, error) {
	if minimum == "" {
		return false, nil
	}
	v, err := parseSemver(version)
	if err != nil {
		return false, apperr.Wrap(apperr.DowngradeRejected, "cannot parse presented policy version", err)
	}
	m, err := parseSemver(minimum)
	if err != nil {
		return false, apperr.Wrap(apperr.SystemError, "cannot parse configured minimum version", err)
	}
	return !semverGTE(v, m), nil
}

func majorOf(version string) (int, error) {
	v, err := parseSemver(version)
	if err != nil {
		return 0, err
	}
	return v.major, nil
}
