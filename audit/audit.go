// Package audit implements AuditLog: an append-only, signed record of
// policy/key/verification outcomes. Entries never carry PII, raw
// challenges, raw JWTs, or session bodies.
package audit

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/ecdsautil"
	"github.com/tracepost-larvae/agecred/models"
)

// Signer is the narrow surface AuditLog needs from KeyManager: the
// current signing key's id/private material. Declared here (rather
// than importing keymanager) to keep the dependency one-directional —
// keymanager also needs to write audit entries, so audit must not
// import keymanager.
type Signer interface {
	GetCurrent() (models.IssuerSigningKey, *ecdsa.PrivateKey, error)
}

// Appender is implemented by any durable sink for audit entries
// (Postgres-backed in production, in-memory in tests).
type Appender interface {
	Append(entry models.AuditEntry) error
	List() []models.AuditEntry
}

// memoryAppender is the default in-process append-only store; db.AuditRepo
// provides a Postgres-backed Appender for production use.
type memoryAppender struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
}

func (m *memoryAppender) Append(e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAppender) List() []models.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Log is the signed AuditLog. It defers the Signer dependency to a
// setter rather than the constructor because KeyManager needs an
// AuditWriter (this type) before it has minted its first key — New is
// called first, then SetSigner once KeyManager exists.
type Log struct {
	mu     sync.Mutex
	store  Appender
	signer Signer
	seq    int
	nowFn  func() time.Time
}

// New builds a Log backed by the given Appender (pass nil to use an
// in-memory store, e.g. in unit tests).
func New(store Appender) *Log {
	if store == nil {
		store = &memoryAppender{}
	}
	return &Log{store: store, nowFn: time.Now}
}

// SetSigner wires the KeyManager used to sign subsequent entries.
func (l *Log) SetSigner(s Signer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signer = s
}

// Append writes a new, signed entry. Topic/Outcome/ReasonCodes are
// caller-supplied; ID and TimestampUtc are always computed here, and
// Signature is computed here once a signer has been set (entries
// appended before SetSigner are stored unsigned).
func (l *Log) Append(entry models.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry.ID = fmt.Sprintf("audit-%d-%d", l.nowFn().UnixNano(), l.seq)
	entry.TimestampUtc = l.nowFn().UTC()
	entry.Signature = ""

	canonical, err := canonicalJSON(entry)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "canonicalizing audit entry", err)
	}

	if l.signer != nil {
		sig, err := l.sign(canonical)
		if err != nil {
			return err
		}
		entry.Signature = sig
	}

	return l.store.Append(entry)
}

func (l *Log) sign(canonical []byte) (string, error) {
	_, priv, err := l.signer.GetCurrent()
	if err != nil {
		return "", apperr.Wrap(apperr.SystemError, "no signing key available for audit entry", err)
	}
	sig, err := ecdsautil.Sign(priv, canonical, func(digest []byte) (*big.Int, *big.Int, error) {
		return ecdsa.Sign(rand.Reader, priv, digest)
	})
	if err != nil {
		return "", apperr.Wrap(apperr.SystemError, "signing audit entry", err)
	}
	return sig, nil
}

// List returns every entry written so far, newest last.
func (l *Log) List() []models.AuditEntry {
	return l.store.List()
}

// canonicalJSON produces the byte-for-byte reproducible encoding used
// for signatures: UTF-8, deterministic key order (Go's encoding/json
// already emits struct fields in declaration order), signature field
// omitted via entry.Signature being cleared by the caller.
func canonicalJSON(entry models.AuditEntry) ([]byte, error) {
	return json.Marshal(entry)
}
