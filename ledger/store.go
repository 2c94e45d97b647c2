// Package ledger implements LedgerStore: a durable, idempotent, ordered
// record of credential-hash anchors and DID documents, persisted as a
// single JSON document with atomic-rename durability.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// document is the exact on-disk shape mandated by the ledger file
// format: a single JSON document {records, nextBlock}.
type document struct {
	Records   map[string]models.LedgerRecord `json:"records"`
	NextBlock uint64                         `json:"nextBlock"`
}

// Stats summarizes the store for operational/health endpoints.
type Stats struct {
	Anchors   int    `json:"anchors"`
	Dids      int    `json:"dids"`
	NextBlock uint64 `json:"nextBlock"`
	Mode      string `json:"mode"`
}

// Store is the file-backed LedgerStore. All mutation goes through a
// single exclusive write lock, matching the teacher's blacklistMutex/HSM
// sync.RWMutex idiom; reads take the shared lock.
type Store struct {
	mu       sync.RWMutex
	path     string
	tmpPath  string
	doc      document
	nowFn    func() time.Time
}

// Open loads the canonical file at path. A missing or empty file starts
// from an empty document; a present-but-unparseable file fails fast
// rather than silently resetting state.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		tmpPath: path + ".tmp",
		doc: document{
			Records: map[string]models.LedgerRecord{},
		},
		nowFn: time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apperr.Wrap(apperr.LedgerUnavailable, "reading ledger file", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "ledger file is present but unparseable, refusing to reset", err)
	}
	if doc.Records == nil {
		doc.Records = map[string]models.LedgerRecord{}
	}
	s.doc = doc
	return s, nil
}

// persist writes the full snapshot to the sibling .tmp file, fsyncs,
// then atomically renames over the canonical path. Callers must hold
// the write lock.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperr.Wrap(apperr.LedgerUnavailable, "creating ledger directory", err)
	}
	data, err := json.Marshal(s.doc)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "marshaling ledger document", err)
	}
	f, err := os.OpenFile(s.tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.LedgerUnavailable, "opening ledger tmp file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apperr.Wrap(apperr.LedgerUnavailable, "writing ledger tmp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperr.Wrap(apperr.LedgerUnavailable, "fsyncing ledger tmp file", err)
	}
	if err := f.Close(); err != nil {
		return apperr.Wrap(apperr.LedgerUnavailable, "closing ledger tmp file", err)
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		return apperr.Wrap(apperr.LedgerUnavailable, "renaming ledger file", err)
	}
	return nil
}

// CreateAnchor assigns a strictly monotonic block number and persists
// the anchor. Creating with an existing commitment returns the original
// record unchanged — idempotent.
func (s *Store) CreateAnchor(commitment string, metadata map[string]string) (txID string, blockNumber uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.doc.Records[commitment]; ok && existing.DocType == models.DocTypeAnchor {
		return existing.TxID, existing.BlockNumber, nil
	}

	block := s.doc.NextBlock + 1
	tx := fmt.Sprintf("tx-%s-%d", commitment[:min(12, len(commitment))], block)
	rec := models.LedgerRecord{
		Commitment:  commitment,
		DocType:     models.DocTypeAnchor,
		TxID:        tx,
		BlockNumber: block,
		Timestamp:   s.nowFn().UTC(),
		Metadata:    metadata,
	}
	s.doc.Records[commitment] = rec
	s.doc.NextBlock = block

	if err := s.persist(); err != nil {
		// Roll back in-memory state; the caller sees the write failure,
		// nothing was mutated from their perspective.
		delete(s.doc.Records, commitment)
		s.doc.NextBlock = block - 1
		return "", 0, err
	}
	return tx, block, nil
}

// GetAnchor returns an owned copy of the anchor record for commitment.
func (s *Store) GetAnchor(commitment string) (models.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.doc.Records[commitment]
	if !ok || rec.DocType != models.DocTypeAnchor {
		return models.LedgerRecord{}, apperr.New(apperr.NotFound, "anchor not found")
	}
	return rec, nil
}

// VerifyAnchor reports whether commitment has a durable anchor record.
func (s *Store) VerifyAnchor(commitment string) bool {
	_, err := s.GetAnchor(commitment)
	return err == nil
}

// CreateDid persists a DID document under the distinct did: namespace.
// Unlike anchors, CreateDid fails with AlreadyExists on duplicate keys —
// DID documents are not anchors and are not expected to be re-submitted.
func (s *Store) CreateDid(did string, didDocument json.RawMessage, metadata map[string]string) (txID string, blockNumber uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.doc.Records[did]; ok && existing.DocType == models.DocTypeDID {
		return "", 0, apperr.New(apperr.AlreadyExists, "did already registered")
	}

	block := s.doc.NextBlock + 1
	tx := fmt.Sprintf("tx-did-%d", block)
	rec := models.LedgerRecord{
		Commitment:  did,
		DocType:     models.DocTypeDID,
		TxID:        tx,
		BlockNumber: block,
		Timestamp:   s.nowFn().UTC(),
		Metadata:    metadata,
		DIDDocument: didDocument,
	}
	s.doc.Records[did] = rec
	s.doc.NextBlock = block

	if err := s.persist(); err != nil {
		delete(s.doc.Records, did)
		s.doc.NextBlock = block - 1
		return "", 0, err
	}
	return tx, block, nil
}

// GetDid returns the DID document record for did.
func (s *Store) GetDid(did string) (models.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.doc.Records[did]
	if !ok || rec.DocType != models.DocTypeDID {
		return models.LedgerRecord{}, apperr.New(apperr.NotFound, "did not found")
	}
	return rec, nil
}

// Stats summarizes the store's current counts, used by the healthz
// endpoint and admin tooling.
func (s *Store) Stats(mode string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var anchors, dids int
	for _, r := range s.doc.Records {
		switch r.DocType {
		case models.DocTypeAnchor:
			anchors++
		case models.DocTypeDID:
			dids++
		}
	}
	return Stats{Anchors: anchors, Dids: dids, NextBlock: s.doc.NextBlock, Mode: mode}
}
