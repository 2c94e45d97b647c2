// Package bootstrap wires the platform's cores and their storage/queue
// collaborators from config.Config, the way the teacher's main.go wires
// db.InitDB/config.GetConfig before handing control to api.SetupRoutes.
// New wires every core for every cmd/ binary; each binary hands only the
// Services fields its own routes need to api.Deps. The Close method
// tears down every opened resource.
package bootstrap

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/audit"
	"github.com/tracepost-larvae/agecred/claimsmapper"
	"github.com/tracepost-larvae/agecred/config"
	"github.com/tracepost-larvae/agecred/db"
	"github.com/tracepost-larvae/agecred/events"
	"github.com/tracepost-larvae/agecred/identity"
	"github.com/tracepost-larvae/agecred/issuance"
	"github.com/tracepost-larvae/agecred/keymanager"
	"github.com/tracepost-larvae/agecred/ledger"
	"github.com/tracepost-larvae/agecred/models"
	"github.com/tracepost-larvae/agecred/pipeline"
	"github.com/tracepost-larvae/agecred/policy"
	"github.com/tracepost-larvae/agecred/proofverifier"
	"github.com/tracepost-larvae/agecred/providerclient"
	"github.com/tracepost-larvae/agecred/safelog"
	"github.com/tracepost-larvae/agecred/sessioncache"
	"github.com/tracepost-larvae/agecred/verification"
)

// Services bundles every wired core and collaborator a cmd/ binary
// might need. Binaries that don't use a field simply never read it.
type Services struct {
	Config *config.Config
	Log    *safelog.Logger

	DB    *db.Conn
	Redis *redis.Client

	Ledger   ledger.Backend
	Pipeline *pipeline.Pipeline
	Bus      *events.Bus
	Audit    *audit.Log
	Keys     *keymanager.Manager
	Policies *policy.Registry
	Proof    *proofverifier.InProcessBackend

	Providers    *providerclient.Registry
	Mappers      map[string]claimsmapper.Mapper
	Sessions     *sessioncache.Cache
	Attestations *db.AttestationRepo
	PolicyRepo   *db.PolicyRepo

	Identity     *identity.Core
	Issuance     *issuance.Core
	Verification *verification.Core
}

// New wires every core. It is intentionally monolithic — the platform's
// three services (identity/token/validation) are separate cmd/
// binaries sharing this one wiring function, mirroring the teacher's
// single main.go wiring one shared db.InitDB/config.GetConfig for every
// route family rather than duplicating setup per binary.
func New(cfg *config.Config) (*Services, error) {
	log := safelog.New(parseLevel(cfg.Logging.Level), cfg.Logging.JSON)

	conn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "opening database", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	store, err := openLedger(cfg.Ledger)
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "opening ledger store", err)
	}

	pipe := pipeline.New(rdb, pipeline.Config{
		MaxAttempts:   cfg.DLQ.MaxAttempts,
		BackoffBaseMs: cfg.DLQ.BackoffBaseMs,
		BackoffMaxMs:  cfg.DLQ.BackoffMaxMs,
		JitterPct:     cfg.DLQ.JitterPct,
		DLQEnabled:    cfg.DLQ.Enabled,
		DLQSuffix:     cfg.DLQ.TopicSuffix,
	}, log)
	bus := events.NewBus(pipe)

	auditRepo := db.NewAuditRepo(conn)
	auditLog := audit.New(auditRepo)

	keys := keymanager.New(cfg.KeyMgr.GracePeriod, auditLog)
	auditLog.SetSigner(keys)
	if _, err := keys.Rotate("ES256"); err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "minting initial signing key", err)
	}

	policyRepo := db.NewPolicyRepo(conn)
	policies := policy.New(cfg.Policy.Minimums, keys, auditLog)
	if err := loadPolicies(policyRepo, policies, keys); err != nil {
		return nil, err
	}

	proof, err := proofverifier.NewInProcessBackend()
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "initializing proof verifier", err)
	}

	providers := providerclient.NewRegistry()
	mappers := map[string]claimsmapper.Mapper{}
	for _, p := range cfg.Identity.Providers {
		providers.Register(p, providerclient.NewDemoClient())
		mappers[p] = claimsmapper.NewDefaultMapper(p)
	}

	sessions := sessioncache.New(rdb)
	attestations := db.NewAttestationRepo(conn)

	identityCore := identity.New(providers, mappers, sessions, attestations, bus, log, defaultPolicyID)
	issuanceCore := issuance.New(attestations, policies, keys, store, bus)
	verificationCore := verification.New(policies, keys, proof, auditLog, bus)

	return &Services{
		Config:       cfg,
		Log:          log,
		DB:           conn,
		Redis:        rdb,
		Ledger:       store,
		Pipeline:     pipe,
		Bus:          bus,
		Audit:        auditLog,
		Keys:         keys,
		Policies:     policies,
		Proof:        proof,
		Providers:    providers,
		Mappers:      mappers,
		Sessions:     sessions,
		Attestations: attestations,
		PolicyRepo:   policyRepo,
		Identity:     identityCore,
		Issuance:     issuanceCore,
		Verification: verificationCore,
	}, nil
}

// Close releases every opened resource. Safe to call even if New
// returned partway through (nil fields are skipped).
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if fabric, ok := s.Ledger.(*ledger.FabricStore); ok {
		fabric.Close()
	}
}

// defaultPolicyID is the one policy this deployment issues attestations
// against; a multi-policy deployment would thread this through request
// routing instead of a single constant.
const defaultPolicyID = "age_over_18"

// loadPolicies seeds the in-memory Registry: rows already durable in
// Postgres first (a restart must not lose them), then, only if the
// table was empty, a freshly signed bootstrap policy so a brand new
// deployment has something to issue and verify against.
func loadPolicies(repo *db.PolicyRepo, reg *policy.Registry, keys *keymanager.Manager) error {
	existing, err := repo.ListAll()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		for _, p := range existing {
			if err := reg.Create(p); err != nil {
				return err
			}
		}
		return nil
	}

	current, _, err := keys.GetCurrent()
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "reading current signing key", err)
	}

	def := models.PolicyDefinition{
		PolicyID:            defaultPolicyID,
		Version:             "1.0.0",
		CircuitID:           "age-over-18-v1",
		VerificationKeyID:   current.KeyID,
		CompatibleVersions:  "1.x",
		DefaultExpiry:       30 * 24 * time.Hour,
		PublicSignalsSchema: []string{"challengeHash", "policyHash", "subjectCommitment", "sessionTag"},
		Status:              models.PolicyActive,
	}
	signed, err := reg.Sign(def)
	if err != nil {
		return err
	}
	if err := reg.Create(signed); err != nil {
		return err
	}
	return repo.Save(signed)
}

// openLedger picks the LedgerStore backend named by cfg.Mode: the
// file-backed Store for "file" (the default, and anything unrecognized
// — fail open to the durable local backend rather than silently
// skipping anchoring), or the Hyperledger Fabric-backed FabricStore for
// "external".
func openLedger(cfg config.LedgerConfig) (ledger.Backend, error) {
	if cfg.Mode == "external" {
		return ledger.OpenFabric(ledger.FabricConnectionConfig{
			MspID:         cfg.Fabric.MspID,
			CertPath:      cfg.Fabric.CertPath,
			KeyPath:       cfg.Fabric.KeyPath,
			TLSCertPath:   cfg.Fabric.TLSCertPath,
			PeerEndpoint:  cfg.Fabric.PeerEndpoint,
			GatewayPeer:   cfg.Fabric.GatewayPeer,
			ChannelName:   cfg.Fabric.ChannelName,
			ChaincodeName: cfg.Fabric.ChaincodeName,
		})
	}
	return ledger.Open(cfg.FilePath)
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
