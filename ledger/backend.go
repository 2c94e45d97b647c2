package ledger

import (
	"encoding/json"

	"github.com/tracepost-larvae/agecred/models"
)

// Backend is the full LedgerStore contract spec.md §4.1 describes,
// satisfied by both the file-backed Store (ledger.mode=file) and the
// Hyperledger Fabric-backed FabricStore (ledger.mode=external). Callers
// that only need anchoring (issuance.Anchorer) depend on a narrower
// structural interface instead; this one exists so api.Deps and
// bootstrap.Services can hold either backend behind one field.
type Backend interface {
	CreateAnchor(commitment string, metadata map[string]string) (txID string, blockNumber uint64, err error)
	GetAnchor(commitment string) (models.LedgerRecord, error)
	VerifyAnchor(commitment string) bool
	CreateDid(did string, didDocument json.RawMessage, metadata map[string]string) (txID string, blockNumber uint64, err error)
	GetDid(did string) (models.LedgerRecord, error)
	Stats(mode string) Stats
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*FabricStore)(nil)
)
