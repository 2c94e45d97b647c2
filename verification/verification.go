// Package verification implements VerificationCore: the single
// `Verify` entry point that enforces protocol envelope integrity,
// anti-downgrade, VC signature and expiry, commitment/replay/policy
// binding, zero-knowledge proof verification, and audit+event
// publication (spec.md §4.8).
package verification

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/events"
	"github.com/tracepost-larvae/agecred/models"
	"github.com/tracepost-larvae/agecred/pluginregistry"
)

const (
	clockSkewTolerance  = 5 * time.Minute
	minNonceHexLength   = 64 // 32 bytes, hex-encoded
	minPublicSignals    = 7
	supportedMajorProto = "1"
)

// PolicyLookup is the narrow PolicyRegistry surface VerificationCore
// needs.
type PolicyLookup interface {
	GetPolicy(policyID, version string) (models.PolicyDefinition, error)
	Minimum(policyID string) string
}

// KeyVerifier is the narrow KeyManager surface VerificationCore needs.
type KeyVerifier interface {
	VerifyDetachedJWS(compact string) (payload []byte, keyID string, err error)
}

// ProofVerifier is ProofVerifierClient (spec.md §4.9).
type ProofVerifier interface {
	Verify(proof models.Proof, publicSignals []string) (bool, error)
	Hash(field string) (string, error)
	HashPolicy(policyID string) (string, error)
}

// AuditWriter is the narrow AuditLog surface VerificationCore needs.
type AuditWriter interface {
	Append(entry models.AuditEntry) error
}

// Core is VerificationCore.
type Core struct {
	registry      *pluginregistry.Registry
	policies      PolicyLookup
	keys          KeyVerifier
	audit         AuditWriter
	bus           *events.Bus
	trustedIssuer string
	nowFn         func() time.Time
}

// Option configures Core at construction.
type Option func(*Core)

// WithLegacyBooleanVerifier registers the age-boolean-v1 fallback
// verifier. Off by default — spec.md §9 leaves retaining this path to
// the operator.
func WithLegacyBooleanVerifier() Option {
	return func(c *Core) {
		c.registry.Register(models.PresentationBoolean, &booleanVerifier{})
	}
}

// WithTrustedIssuer enforces that every verified VC's issuer DID
// matches the given value, rejecting otherwise with ISSUER_UNTRUSTED.
func WithTrustedIssuer(issuerDID string) Option {
	return func(c *Core) { c.trustedIssuer = issuerDID }
}

func New(policies PolicyLookup, keys KeyVerifier, proof ProofVerifier, audit AuditWriter, bus *events.Bus, opts ...Option) *Core {
	c := &Core{
		registry: pluginregistry.New(),
		policies: policies,
		keys:     keys,
		audit:    audit,
		bus:      bus,
		nowFn:    time.Now,
	}
	c.registry.Register(models.PresentationZKP, &zkpVerifier{proof: proof})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify implements spec.md §4.8's full algorithm.
func (c *Core) Verify(ctx context.Context, req models.VerificationRequest) models.VerificationResult {
	v, ok := c.registry.Get(req.PresentationType)
	if !ok {
		return c.finish(ctx, req, false, "", []string{string(apperr.UnsupportedPresentation)})
	}

	if codes := c.validateEnvelope(req); len(codes) > 0 {
		return c.finish(ctx, req, false, "", codes)
	}

	policy, codes := c.lookupPolicy(req)
	if len(codes) > 0 {
		return c.finish(ctx, req, false, "", codes)
	}

	vc, codes := c.parseAndVerifyVC(req)
	if len(codes) > 0 {
		return c.finish(ctx, req, false, "", codes)
	}

	issuer, codes, err := v.Verify(ctx, req, policy, vc)
	if err != nil {
		codes = append(codes, string(apperr.CodeOf(err)))
	}
	return c.finish(ctx, req, len(codes) == 0, issuer, codes)
}

func (c *Core) validateEnvelope(req models.VerificationRequest) []string {
	env := req.Presentation
	var codes []string

	if env.ProtocolVersion == "" || env.PolicyID == "" || env.PolicyVersion == "" || env.Nonce == "" || env.VCJwt == "" {
		return []string{string(apperr.MissingField)}
	}

	if !protocolSupported(env.ProtocolVersion) {
		codes = append(codes, string(apperr.UnsupportedProtocolVersion))
	}
	if req.ExpectedOrigin != "" && env.Origin != req.ExpectedOrigin {
		codes = append(codes, string(apperr.OriginMismatch))
	}
	if skew := absDuration(c.now().Unix() - env.IssuedAt); skew > int64(clockSkewTolerance.Seconds()) {
		codes = append(codes, string(apperr.ClockSkew))
	}
	if len(env.Nonce) < minNonceHexLength {
		codes = append(codes, string(apperr.MalformedPresentation))
	}
	if len(env.PublicSignals) < minPublicSignals {
		codes = append(codes, string(apperr.MalformedPresentation))
	}

	minimum := c.policies.Minimum(env.PolicyID)
	if minimum != "" {
		if downgrade, err := isDowngrade(env.PolicyVersion, minimum); err != nil || downgrade {
			codes = append(codes, string(apperr.DowngradeRejected))
		}
	}

	return codes
}

func (c *Core) lookupPolicy(req models.VerificationRequest) (models.PolicyDefinition, []string) {
	env := req.Presentation
	policy, err := c.policies.GetPolicy(env.PolicyID, env.PolicyVersion)
	if err != nil {
		return models.PolicyDefinition{}, []string{string(apperr.CodeOf(err))}
	}
	switch policy.Status {
	case models.PolicyBlocked:
		return policy, []string{string(apperr.PolicyMismatch)}
	case models.PolicyActive, models.PolicyDeprecated:
		return policy, nil
	default:
		return policy, []string{string(apperr.SystemError)}
	}
}

func (c *Core) parseAndVerifyVC(req models.VerificationRequest) (models.VCClaims, []string) {
	payload, _, err := c.keys.VerifyDetachedJWS(req.Presentation.VCJwt)
	if err != nil {
		return models.VCClaims{}, []string{string(apperr.VCSignatureInvalid)}
	}
	var vc models.VCClaims
	if err := json.Unmarshal(payload, &vc); err != nil {
		return models.VCClaims{}, []string{string(apperr.MalformedPresentation)}
	}
	if !vc.ExpiresAt.IsZero() && !c.now().Before(vc.ExpiresAt) {
		return vc, []string{string(apperr.VCExpired)}
	}
	if c.trustedIssuer != "" && vc.Issuer != c.trustedIssuer {
		return vc, []string{string(apperr.IssuerUntrusted)}
	}
	return vc, nil
}

func (c *Core) finish(ctx context.Context, req models.VerificationRequest, valid bool, issuer string, reasonCodes []string) models.VerificationResult {
	now := c.now().UTC()
	result := models.VerificationResult{
		Valid:        valid,
		ReasonCodes:  reasonCodes,
		EvidenceType: string(req.PresentationType),
		Issuer:       issuer,
		TimestampUtc: now,
	}

	outcome := "rejected"
	if valid {
		outcome = "accepted"
	}
	if c.audit != nil {
		_ = c.audit.Append(models.AuditEntry{
			Topic:       "credential.verified",
			PolicyID:    req.PolicyID,
			Outcome:     outcome,
			ReasonCodes: reasonCodes,
		})
	}
	if c.bus != nil {
		evt := models.CredentialVerifiedEvent{Valid: valid, Issuer: issuer, VerifiedAt: now}
		if len(reasonCodes) > 0 {
			evt.FailureReason = reasonCodes[0]
		}
		_ = c.bus.PublishCredentialVerified(ctx, evt)
	}
	return result
}

func (c *Core) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now()
}

func protocolSupported(version string) bool {
	return len(version) > 0 && version[:1] == supportedMajorProto
}

func absDuration(d int64) int64 {
	if d < 0 {
		return -d
	}
	return d
}

// isDowngrade duplicates the minimal semver comparison the policy
// package exposes, kept local to avoid a verification->policy import
// cycle (policy already imports nothing from verification, but keeping
// this package's dependency surface narrow matches spec.md §9's
// cyclic-relation guidance of resolving by value, not by reference).
func isDowngrade(version, minimum string) (bool, error) {
	v, err := parseSemver(version)
	if err != nil {
		return false, err
	}
	m, err := parseSemver(minimum)
	if err != nil {
		return false, err
	}
	if v.major != m.major {
		return v.major < m.major, nil
	}
	if v.minor != m.minor {
		return v.minor < m.minor, nil
	}
	return v.patch < m.patch, nil
}

type semver struct{ major, minor, patch int }

func parseSemver(s string) (semver, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return semver{}, apperr.New(apperr.SystemError, "malformed semver")
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	pat, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return semver{}, apperr.New(apperr.SystemError, "malformed semver")
	}
	return semver{maj, min, pat}, nil
}
