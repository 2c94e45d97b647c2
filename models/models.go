// Package models holds the plain data-model records shared by every
// service (no behavior, no ORM active-record methods — persistence
// packages translate these to/from storage explicitly).
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// PolicyStatus is the lifecycle state of a PolicyDefinition.
type PolicyStatus string

const (
	PolicyActive     PolicyStatus = "Active"
	PolicyDeprecated PolicyStatus = "Deprecated"
	PolicyBlocked    PolicyStatus = "Blocked"
)

// PolicyDefinition is keyed by (PolicyID, Version).
type PolicyDefinition struct {
	PolicyID                   string       `json:"policyId"`
	Version                    string       `json:"version"`
	CircuitID                  string       `json:"circuitId"`
	VerificationKeyID          string       `json:"verificationKeyId"`
	VerificationKeyFingerprint string       `json:"verificationKeyFingerprint"`
	CompatibleVersions         string       `json:"compatibleVersions"`
	DefaultExpiry              time.Duration `json:"defaultExpiry"`
	PublicSignalsSchema        []string     `json:"publicSignalsSchema"`
	Status                     PolicyStatus `json:"status"`
	DeprecatedAt               *time.Time   `json:"deprecatedAt,omitempty"`
	Signature                  string       `json:"signature,omitempty"`
}

// PolicyHash implements spec.md's derived policyHash.
func (p PolicyDefinition) PolicyHash() string {
	return policyHash(p.PolicyID, p.Version, p.CircuitID)
}

func policyHash(policyID, version, circuitID string) string {
	sum := sha256.Sum256([]byte(policyID + ":" + version + ":" + circuitID))
	return hex.EncodeToString(sum[:])
}

// PolicyHashOf computes the policyHash without needing a full
// PolicyDefinition value (used by IdentitySessionCore when it stamps an
// Attestation's policyHash).
func PolicyHashOf(policyID, version, circuitID string) string {
	return policyHash(policyID, version, circuitID)
}

// KeyStatus is the lifecycle state of an IssuerSigningKey.
type KeyStatus string

const (
	KeyCurrent    KeyStatus = "Current"
	KeyDeprecated KeyStatus = "Deprecated"
	KeyRetired    KeyStatus = "Retired"
)

// IssuerSigningKey is a rotating signing key managed by KeyManager.
type IssuerSigningKey struct {
	KeyID                string     `json:"keyId"`
	Algorithm            string     `json:"algorithm"`
	PublicKeyJWK          []byte     `json:"publicKeyJwk"`
	EncryptedPrivateKey  []byte     `json:"encryptedPrivateKey"`
	Status               KeyStatus  `json:"status"`
	CreatedAt            time.Time  `json:"createdAt"`
	DeprecatedAt         *time.Time `json:"deprecatedAt,omitempty"`
	RetiredAt            *time.Time `json:"retiredAt,omitempty"`
	GracePeriod          time.Duration `json:"gracePeriod"`
}

func (k IssuerSigningKey) CanSign() bool {
	return k.Status == KeyCurrent
}

func (k IssuerSigningKey) CanVerify(now time.Time) bool {
	if k.Status == KeyCurrent {
		return true
	}
	if k.Status == KeyDeprecated && k.DeprecatedAt != nil {
		return now.Before(k.DeprecatedAt.Add(k.GracePeriod))
	}
	return false
}

// AssuranceLevel mirrors the eID hub's reported assurance.
type AssuranceLevel string

const (
	AssuranceSubstantial AssuranceLevel = "substantial"
	AssuranceHigh        AssuranceLevel = "high"
	AssuranceUnknown     AssuranceLevel = "unknown"
)

// Attestation is the privacy-minimized output of IdentitySessionCore.
type Attestation struct {
	ID             string         `json:"id"`
	PolicyID       string         `json:"policyId"`
	SubjectID      string         `json:"subjectId"`
	ProviderID     string         `json:"providerId"`
	AccountRef     string         `json:"accountRef,omitempty"`
	Verified       bool           `json:"verified"`
	VerifiedAt     time.Time      `json:"verifiedAt"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	AssuranceLevel AssuranceLevel `json:"assuranceLevel"`
	PolicyHash     string         `json:"policyHash,omitempty"`
	IsAdult        bool           `json:"isAdult"`
	VCJwt          string         `json:"vcJwt,omitempty"`
	CredentialHash string         `json:"credentialHash,omitempty"`
}

// Credential is a commitment-bound Verifiable Credential minted by
// IssuanceCore.
type Credential struct {
	PolicyID          string    `json:"policyId"`
	SubjectCommitment string    `json:"subjectCommitment"`
	Issuer            string    `json:"issuer"`
	IssuedAt          time.Time `json:"issuedAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Signature         string    `json:"signature"`
}

// LedgerDocType distinguishes the anchor and did namespaces stored by
// LedgerStore under one append-only file.
type LedgerDocType string

const (
	DocTypeAnchor LedgerDocType = "anchor"
	DocTypeDID    LedgerDocType = "did"
)

// LedgerRecord is a single entry anchored by LedgerStore.
type LedgerRecord struct {
	Commitment  string            `json:"commitment"`
	DocType     LedgerDocType     `json:"docType"`
	TxID        string            `json:"txId"`
	BlockNumber uint64            `json:"blockNumber"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DIDDocument json.RawMessage   `json:"didDocument,omitempty"`
}

// Session is the ephemeral eID-hub handshake state held only in
// SessionCache.
type Session struct {
	SessionID         string        `json:"sessionId"`
	ProviderID        string        `json:"providerId"`
	ExternalReference string        `json:"externalReference"`
	AccountRef        string        `json:"accountRef,omitempty"`
	TTL               time.Duration `json:"ttl"`
}

// SessionStatus is the IdentitySessionCore state machine's current
// state: Initiated -> Pending -> one of the absorbing terminal states.
type SessionStatus string

const (
	SessionInitiated SessionStatus = "Initiated"
	SessionPending   SessionStatus = "Pending"
	SessionSucceeded SessionStatus = "Succeeded"
	SessionAborted   SessionStatus = "Aborted"
	SessionErrored   SessionStatus = "Errored"
	SessionExpired   SessionStatus = "Expired"
)

// Terminal reports whether status is one of the absorbing end states.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionSucceeded, SessionAborted, SessionErrored, SessionExpired:
		return true
	default:
		return false
	}
}

// PresentationType distinguishes the verifiers a PluginRegistry can
// dispatch to.
type PresentationType string

const (
	PresentationZKP     PresentationType = "zkp-groth16-v1"
	PresentationBoolean PresentationType = "age-boolean-v1"
)

// Proof is the Groth16 proof triple carried in a PresentationEnvelope.
type Proof struct {
	PiA [3]string    `json:"piA"`
	PiB [3][2]string `json:"piB"`
	PiC [3]string    `json:"piC"`
}

// PresentationEnvelope is the wire format a relying party submits to
// VerificationCore.
type PresentationEnvelope struct {
	ProtocolVersion string   `json:"protocolVersion"`
	PolicyID        string   `json:"policyId"`
	PolicyVersion   string   `json:"policyVersion"`
	Origin          string   `json:"origin"`
	Nonce           string   `json:"nonce"`
	IssuedAt        int64    `json:"issuedAt"`
	Proof           Proof    `json:"proof"`
	PublicSignals   []string `json:"publicSignals"`
	CredentialHash  string   `json:"credentialHash"`
	PolicyHash      string   `json:"policyHash"`
	Signature       string   `json:"signature"`

	// VCJwt carries the compact-JWS-signed Credential this presentation
	// is bound to. It is required on every presentation type: steps 1-4
	// of VerificationCore's algorithm (parse and verify the VC) run
	// before the presentation-type-specific steps 5-8.
	VCJwt string `json:"vcJwt"`
}

// VCClaims is the JSON payload signed (as a compact JWS) inside a
// Credential's vcJwt. It covers both the commitment-bound ZKP credential
// shape IssuanceCore mints and the legacy boolean-VC shape some callers
// still present (ageOver18/credentialType), per spec.md §9's open
// question about retaining that path.
type VCClaims struct {
	PolicyID          string    `json:"policyId"`
	SubjectCommitment string    `json:"subjectCommitment,omitempty"`
	Issuer            string    `json:"issuer"`
	IssuedAt          time.Time `json:"issuedAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	CredentialType    string    `json:"credentialType,omitempty"`
	AgeOver18         bool      `json:"ageOver18,omitempty"`
}

// VerificationRequest is VerificationCore's single entry-point input.
type VerificationRequest struct {
	ContractVersion  string
	PolicyID         string
	PresentationType PresentationType
	Presentation     PresentationEnvelope
	Challenge        string
	ExpectedOrigin   string
}

// DlqEnvelope is the quarantine record written by MessagePipeline after
// exhausted retries.
type DlqEnvelope struct {
	SchemaVersion         int               `json:"schemaVersion"`
	OriginalTopic         string            `json:"originalTopic"`
	OriginalPartition     int               `json:"originalPartition"`
	OriginalOffset        int64             `json:"originalOffset"`
	ConsumerGroup         string            `json:"consumerGroup"`
	OriginalKey           string            `json:"originalKey,omitempty"`
	SanitizedHeaders      map[string]string `json:"sanitizedHeaders"`
	OriginalPayloadBase64 string            `json:"originalPayloadBase64"`
	Error                 string            `json:"error"`
	ErrorType             string            `json:"errorType"`
	TruncatedStackTrace   string            `json:"truncatedStackTrace,omitempty"`
	FailedAtUtc           time.Time         `json:"failedAtUtc"`
	AttemptCount          int               `json:"attemptCount"`
	DlqMessageID          string            `json:"dlqMessageId"`
}

// AuditEntry is a signed, append-only AuditLog row. It never carries
// PII, raw challenges, raw JWTs, or session bodies.
type AuditEntry struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	SubjectID   string    `json:"subjectId,omitempty"`
	PolicyID    string    `json:"policyId,omitempty"`
	Outcome     string    `json:"outcome"`
	ReasonCodes []string  `json:"reasonCodes"`
	TimestampUtc time.Time `json:"timestampUtc"`
	Signature   string    `json:"signature,omitempty"`
}

// Event payloads published over MessagePipeline topics.

type IdentityVerifiedEvent struct {
	ProviderID     string         `json:"providerId"`
	SubjectID      string         `json:"subjectId"`
	IsAdult        bool           `json:"isAdult"`
	VerifiedAt     time.Time      `json:"verifiedAt"`
	AssuranceLevel AssuranceLevel `json:"assuranceLevel"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	AccountRef     string         `json:"accountRef,omitempty"`
	PolicyID       string         `json:"policyId,omitempty"`
}

type CredentialIssuedEvent struct {
	AccountRef     string    `json:"accountRef"`
	CredentialHash string    `json:"credentialHash"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type CredentialVerifiedEvent struct {
	AccountRef    string    `json:"accountRef,omitempty"`
	Valid         bool      `json:"valid"`
	Issuer        string    `json:"issuer,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	VerifiedAt    time.Time `json:"verifiedAt"`
}

// VerificationResult is returned by VerificationCore.Verify and by the
// /verify HTTP handler.
type VerificationResult struct {
	Valid        bool     `json:"valid"`
	ReasonCodes  []string `json:"reasonCodes"`
	EvidenceType string   `json:"evidenceType,omitempty"`
	Issuer       string   `json:"issuer,omitempty"`
	TimestampUtc time.Time `json:"timestampUtc"`
}
