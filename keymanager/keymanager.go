// Package keymanager implements KeyManager: the lifecycle of
// credential-signing keys (current/deprecated/retired), grounded in the
// platform's HSM service key-lifecycle dispatch (CreateKey/Sign/Verify/
// ListKeys under a single service mutex) and producing JWK material via
// go-jose for the /.well-known/jwks endpoint.
package keymanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// AuditWriter is the narrow surface KeyManager needs from AuditLog.
// Declared here (rather than importing the audit package directly) so
// that audit.Log — which itself needs GetCurrent from this package to
// sign its entries — doesn't create an import cycle. *audit.Log
// satisfies this interface structurally.
type AuditWriter interface {
	Append(entry models.AuditEntry) error
}

// entry bundles the public model with the live private key material,
// kept only in memory. EncryptedPrivateKey on the model holds the key's
// PKCS#8 bytes; they are not encrypted in this implementation.
type entry struct {
	model   models.IssuerSigningKey
	private *ecdsa.PrivateKey
}

// Manager is the in-memory KeyManager. Rotation is serialized under a
// single lock; readers see consistent snapshots, mirroring the HSM
// service's sync.RWMutex-guarded key cache.
type Manager struct {
	mu          sync.RWMutex
	keys        map[string]*entry
	gracePeriod time.Duration
	audit       AuditWriter
	nowFn       func() time.Time
	seq         int
}

// New constructs a Manager with no keys; call Rotate to mint the first
// Current key for an algorithm.
func New(gracePeriod time.Duration, auditLog AuditWriter) *Manager {
	return &Manager{
		keys:        map[string]*entry{},
		gracePeriod: gracePeriod,
		audit:       auditLog,
		nowFn:       time.Now,
	}
}

// GetCurrent returns the sole Current key. Algorithm selection is
// limited to ES256 (P-256 ECDSA) in this implementation.
func (m *Manager) GetCurrent() (models.IssuerSigningKey, *ecdsa.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.keys {
		if e.model.Status == models.KeyCurrent {
			return e.model, e.private, nil
		}
	}
	return models.IssuerSigningKey{}, nil, apperr.New(apperr.NotFound, "no current signing key")
}

// IssuerDID returns the DID this platform signs credentials as: a
// did:key derived from the current signing key's id, matching
// Credential.issuer's "issuer = KeyManager.GetCurrent().issuerDid"
// invariant.
func (m *Manager) IssuerDID() (string, error) {
	current, _, err := m.GetCurrent()
	if err != nil {
		return "", err
	}
	return "did:key:" + current.KeyID, nil
}

// GetByID returns the key with the given id regardless of status.
func (m *Manager) GetByID(keyID string) (models.IssuerSigningKey, *ecdsa.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.keys[keyID]
	if !ok {
		return models.IssuerSigningKey{}, nil, apperr.New(apperr.NotFound, "key not found")
	}
	return e.model, e.private, nil
}

// GetVerificationKeys returns every key that CanVerify right now:
// Current plus any Deprecated key still within its grace window.
func (m *Manager) GetVerificationKeys() []models.IssuerSigningKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.nowFn()
	out := make([]models.IssuerSigningKey, 0, len(m.keys))
	for _, e := range m.keys {
		if e.model.CanVerify(now) {
			out = append(out, e.model)
		}
	}
	return out
}

// Rotate atomically deprecates the existing Current key (if any) for
// algorithm and mints a new Current key.
func (m *Manager) Rotate(algorithm string) (models.IssuerSigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	for _, e := range m.keys {
		if e.model.Algorithm == algorithm && e.model.Status == models.KeyCurrent {
			deprecatedAt := now
			e.model.Status = models.KeyDeprecated
			e.model.DeprecatedAt = &deprecatedAt
			m.writeAudit("key.deprecated", e.model.KeyID)
		}
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return models.IssuerSigningKey{}, apperr.Wrap(apperr.SystemError, "generating signing key", err)
	}
	m.seq++
	keyID := fmt.Sprintf("key-%s-%d", algorithm, m.seq)

	pkBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return models.IssuerSigningKey{}, apperr.Wrap(apperr.SystemError, "marshaling private key", err)
	}

	jwk := jose.JSONWebKey{Key: &priv.PublicKey, KeyID: keyID, Algorithm: "ES256", Use: "sig"}
	jwkJSON, err := jwk.MarshalJSON()
	if err != nil {
		return models.IssuerSigningKey{}, apperr.Wrap(apperr.SystemError, "marshaling public jwk", err)
	}

	model := models.IssuerSigningKey{
		KeyID:               keyID,
		Algorithm:           algorithm,
		PublicKeyJWK:         jwkJSON,
		EncryptedPrivateKey: pkBytes,
		Status:              models.KeyCurrent,
		CreatedAt:           now,
		GracePeriod:         m.gracePeriod,
	}
	m.keys[keyID] = &entry{model: model, private: priv}
	m.writeAudit("key.rotated", keyID)
	return model, nil
}

// Deprecate moves a Current key to Deprecated without replacing it.
func (m *Manager) Deprecate(keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.keys[keyID]
	if !ok {
		return apperr.New(apperr.NotFound, "key not found")
	}
	if e.model.Status != models.KeyCurrent {
		return apperr.New(apperr.SystemError, "only a current key can be deprecated")
	}
	now := m.nowFn()
	e.model.Status = models.KeyDeprecated
	e.model.DeprecatedAt = &now
	m.writeAudit("key.deprecated", keyID)
	return nil
}

// Retire immediately revokes a key; it can no longer sign or verify.
func (m *Manager) Retire(keyID, reason, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.keys[keyID]
	if !ok {
		return apperr.New(apperr.NotFound, "key not found")
	}
	now := m.nowFn()
	e.model.Status = models.KeyRetired
	e.model.RetiredAt = &now
	m.writeAudit("key.retired", keyID+" reason="+reason+" actor="+actor)
	return nil
}

// AutoRetireExpired scans Deprecated keys whose grace window has
// elapsed and retires them.
func (m *Manager) AutoRetireExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	retired := 0
	for _, e := range m.keys {
		if e.model.Status == models.KeyDeprecated && e.model.DeprecatedAt != nil {
			if !now.Before(e.model.DeprecatedAt.Add(e.model.GracePeriod)) {
				e.model.Status = models.KeyRetired
				retiredAt := now
				e.model.RetiredAt = &retiredAt
				m.writeAudit("key.auto_retired", e.model.KeyID)
				retired++
			}
		}
	}
	return retired
}

// GetJwks renders every CanVerify key as a JSON Web Key Set.
func (m *Manager) GetJwks() (jose.JSONWebKeySet, error) {
	keys := m.GetVerificationKeys()
	set := jose.JSONWebKeySet{}
	for _, k := range keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(k.PublicKeyJWK); err != nil {
			return jose.JSONWebKeySet{}, apperr.Wrap(apperr.SystemError, "unmarshaling jwk", err)
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}

// SignDetachedJWS signs payload as a JWS using the current signing key,
// returning the full compact "header.payload.signature" form; the
// payload segment is kept so VerifyDetachedJWS can return the claims.
func (m *Manager) SignDetachedJWS(payload []byte) (keyID string, compact string, err error) {
	current, priv, err := m.GetCurrent()
	if err != nil {
		return "", "", err
	}
	signerOpts := &jose.SignerOptions{}
	signerOpts.WithHeader("kid", current.KeyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: priv}, signerOpts)
	if err != nil {
		return "", "", apperr.Wrap(apperr.SystemError, "constructing jws signer", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return "", "", apperr.Wrap(apperr.SystemError, "signing jws", err)
	}
	full, err := obj.CompactSerialize()
	if err != nil {
		return "", "", apperr.Wrap(apperr.SystemError, "serializing jws", err)
	}
	return current.KeyID, full, nil
}

// VerifyDetachedJWS verifies compact (a full, non-detached compact JWS
// in this implementation — the payload travels with the token so the
// caller can recover credential claims) against every key that
// CanVerify, returning the verified payload from the first key that
// succeeds.
func (m *Manager) VerifyDetachedJWS(compact string) (payload []byte, keyID string, err error) {
	obj, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, "", apperr.Wrap(apperr.VCSignatureInvalid, "parsing jws", err)
	}
	for _, k := range m.GetVerificationKeys() {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(k.PublicKeyJWK); err != nil {
			continue
		}
		p, err := obj.Verify(jwk.Key)
		if err == nil {
			return p, k.KeyID, nil
		}
	}
	return nil, "", apperr.New(apperr.VCSignatureInvalid, "no verification key validated the signature")
}

func (m *Manager) writeAudit(event, detail string) {
	if m.audit == nil {
		return
	}
	_ = m.audit.Append(models.AuditEntry{
		Topic:       event,
		Outcome:     detail,
		ReasonCodes: nil,
	})
}
