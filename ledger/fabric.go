package ledger

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// FabricConnectionConfig names the Hyperledger Fabric gateway peer and
// chaincode this backend anchors commitments against — the
// ledger.mode=external counterpart to Store's single FilePath, grounded
// on the teacher's blockchain.FabricConnectionConfig.
type FabricConnectionConfig struct {
	MspID         string
	CertPath      string
	KeyPath       string
	TLSCertPath   string
	PeerEndpoint  string
	GatewayPeer   string
	ChannelName   string
	ChaincodeName string
}

// FabricStore is the Hyperledger Fabric-backed LedgerStore: every
// CreateAnchor/CreateDid becomes a chaincode submit transaction, every
// read an evaluate transaction. Idempotency and strictly-monotonic
// block numbering are chaincode-side invariants this client trusts,
// the same division of responsibility the teacher's FabricClient has
// with its supply-chain chaincode.
type FabricStore struct {
	cfg      FabricConnectionConfig
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	contract *client.Contract
}

// OpenFabric dials the Fabric gateway peer and binds the configured
// channel/chaincode, mirroring the teacher's FabricClient.Connect
// sequence (identity, signer, gRPC connection, gateway, network,
// contract) adapted from a supply-chain contract to the anchor/DID
// ledger contract this platform submits against.
func OpenFabric(cfg FabricConnectionConfig) (*FabricStore, error) {
	id, err := newFabricIdentity(cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.LedgerUnavailable, "loading fabric client identity", err)
	}
	signer, err := newFabricSigner(cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.LedgerUnavailable, "loading fabric client signer", err)
	}
	conn, err := newFabricGrpcConnection(cfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.LedgerUnavailable, "dialing fabric gateway peer", err)
	}

	gw, err := client.Connect(
		id,
		client.WithSign(signer),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(5*time.Second),
		client.WithEndorseTimeout(15*time.Second),
		client.WithSubmitTimeout(5*time.Second),
		client.WithCommitStatusTimeout(time.Minute),
	)
	if err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.LedgerUnavailable, "connecting to fabric gateway", err)
	}

	network := gw.GetNetwork(cfg.ChannelName)
	contract := network.GetContract(cfg.ChaincodeName)

	return &FabricStore{cfg: cfg, conn: conn, gateway: gw, contract: contract}, nil
}

// Close releases the gateway connection. Safe to call on a nil store.
func (f *FabricStore) Close() {
	if f == nil {
		return
	}
	if f.gateway != nil {
		f.gateway.Close()
	}
	if f.conn != nil {
		f.conn.Close()
	}
}

func newFabricIdentity(cfg FabricConnectionConfig) (*identity.X509Identity, error) {
	pem, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return identity.NewX509Identity(cfg.MspID, cert)
}

func newFabricSigner(cfg FabricConnectionConfig) (identity.Sign, error) {
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return identity.NewPrivateKeySign(key)
}

func newFabricGrpcConnection(cfg FabricConnectionConfig) (*grpc.ClientConn, error) {
	pem, err := os.ReadFile(cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("appending TLS certificate to pool")
	}
	creds := credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer)
	return grpc.Dial(cfg.PeerEndpoint, grpc.WithTransportCredentials(creds))
}

// anchorResult is the chaincode's JSON response shape for both
// CreateAnchor and GetAnchor.
type anchorResult struct {
	Commitment  string            `json:"commitment"`
	DocType     string            `json:"docType"`
	TxID        string            `json:"txId"`
	BlockNumber uint64            `json:"blockNumber"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DIDDocument json.RawMessage   `json:"didDocument,omitempty"`
}

// CreateAnchor submits CreateAnchor to the chaincode. The chaincode is
// responsible for idempotency (returning the original record on a
// duplicate commitment); this client only marshals/unmarshals.
func (f *FabricStore) CreateAnchor(commitment string, metadata map[string]string) (string, uint64, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.SystemError, "marshaling anchor metadata", err)
	}
	out, err := f.contract.SubmitTransaction("CreateAnchor", commitment, string(metaJSON))
	if err != nil {
		return "", 0, apperr.Wrap(apperr.LedgerUnavailable, "submitting CreateAnchor transaction", err)
	}
	var res anchorResult
	if err := json.Unmarshal(out, &res); err != nil {
		return "", 0, apperr.Wrap(apperr.SystemError, "parsing CreateAnchor response", err)
	}
	return res.TxID, res.BlockNumber, nil
}

// GetAnchor evaluates GetAnchor against the chaincode's world state.
func (f *FabricStore) GetAnchor(commitment string) (models.LedgerRecord, error) {
	out, err := f.contract.EvaluateTransaction("GetAnchor", commitment)
	if err != nil {
		return models.LedgerRecord{}, apperr.Wrap(apperr.NotFound, "evaluating GetAnchor transaction", err)
	}
	return decodeLedgerRecord(out)
}

// VerifyAnchor reports whether commitment has a durable anchor record.
func (f *FabricStore) VerifyAnchor(commitment string) bool {
	_, err := f.GetAnchor(commitment)
	return err == nil
}

// CreateDid submits CreateDid; the chaincode itself rejects a
// duplicate DID with an endorsement error, which this client surfaces
// as AlreadyExists rather than a generic dependency failure.
func (f *FabricStore) CreateDid(did string, didDocument json.RawMessage, metadata map[string]string) (string, uint64, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.SystemError, "marshaling did metadata", err)
	}
	out, err := f.contract.SubmitTransaction("CreateDid", did, string(didDocument), string(metaJSON))
	if err != nil {
		return "", 0, apperr.Wrap(apperr.AlreadyExists, "submitting CreateDid transaction", err)
	}
	var res anchorResult
	if err := json.Unmarshal(out, &res); err != nil {
		return "", 0, apperr.Wrap(apperr.SystemError, "parsing CreateDid response", err)
	}
	return res.TxID, res.BlockNumber, nil
}

// GetDid evaluates GetDid against the chaincode's world state.
func (f *FabricStore) GetDid(did string) (models.LedgerRecord, error) {
	out, err := f.contract.EvaluateTransaction("GetDid", did)
	if err != nil {
		return models.LedgerRecord{}, apperr.Wrap(apperr.NotFound, "evaluating GetDid transaction", err)
	}
	return decodeLedgerRecord(out)
}

// Stats evaluates a read-only Stats transaction; mode is reported as
// given by the caller (always "external" for this backend) rather than
// fetched from the chaincode, matching Store.Stats's signature.
func (f *FabricStore) Stats(mode string) Stats {
	out, err := f.contract.EvaluateTransaction("Stats")
	if err != nil {
		return Stats{Mode: mode}
	}
	var s Stats
	if err := json.Unmarshal(out, &s); err != nil {
		return Stats{Mode: mode}
	}
	s.Mode = mode
	return s
}

func decodeLedgerRecord(out []byte) (models.LedgerRecord, error) {
	var res anchorResult
	if err := json.Unmarshal(out, &res); err != nil {
		return models.LedgerRecord{}, apperr.Wrap(apperr.SystemError, "parsing ledger record response", err)
	}
	var docType models.LedgerDocType
	switch res.DocType {
	case string(models.DocTypeDID):
		docType = models.DocTypeDID
	default:
		docType = models.DocTypeAnchor
	}
	return models.LedgerRecord{
		Commitment:  res.Commitment,
		DocType:     docType,
		TxID:        res.TxID,
		BlockNumber: res.BlockNumber,
		Timestamp:   res.Timestamp,
		Metadata:    res.Metadata,
		DIDDocument: res.DIDDocument,
	}, nil
}
