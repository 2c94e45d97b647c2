package db

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// PolicyRepo durably persists PolicyDefinitions; policy.Registry holds
// the authoritative in-memory view the hot path reads, and bootstrap
// reloads this repo's rows into it at process start.
type PolicyRepo struct {
	conn *Conn
}

func NewPolicyRepo(conn *Conn) *PolicyRepo {
	return &PolicyRepo{conn: conn}
}

func (r *PolicyRepo) Save(p models.PolicyDefinition) error {
	_, err := r.conn.DB.Exec(`
		INSERT INTO policy_definitions
			(policy_id, version, circuit_id, verification_key_id, verification_key_fingerprint, compatible_versions, default_expiry_seconds, public_signals_schema, status, deprecated_at, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (policy_id, version) DO UPDATE SET
			status = EXCLUDED.status,
			deprecated_at = EXCLUDED.deprecated_at,
			signature = EXCLUDED.signature
	`,
		p.PolicyID, p.Version, p.CircuitID, p.VerificationKeyID, p.VerificationKeyFingerprint, p.CompatibleVersions,
		int64(p.DefaultExpiry/time.Second), pq.Array(p.PublicSignalsSchema), string(p.Status), p.DeprecatedAt, p.Signature,
	)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "saving policy definition", err)
	}
	return nil
}

func (r *PolicyRepo) ListAll() ([]models.PolicyDefinition, error) {
	rows, err := r.conn.DB.Query(`
		SELECT policy_id, version, circuit_id, COALESCE(verification_key_id, ''), COALESCE(verification_key_fingerprint, ''),
			COALESCE(compatible_versions, ''), default_expiry_seconds, public_signals_schema, status, deprecated_at, COALESCE(signature, '')
		FROM policy_definitions
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "listing policy definitions", err)
	}
	defer rows.Close()

	var out []models.PolicyDefinition
	for rows.Next() {
		var (
			p             models.PolicyDefinition
			status        string
			expirySeconds int64
			deprecatedAt  sql.NullTime
		)
		if err := rows.Scan(&p.PolicyID, &p.Version, &p.CircuitID, &p.VerificationKeyID, &p.VerificationKeyFingerprint,
			&p.CompatibleVersions, &expirySeconds, pq.Array(&p.PublicSignalsSchema), &status, &deprecatedAt, &p.Signature); err != nil {
			return nil, apperr.Wrap(apperr.SystemError, "scanning policy definition", err)
		}
		p.Status = models.PolicyStatus(status)
		p.DefaultExpiry = time.Duration(expirySeconds) * time.Second
		if deprecatedAt.Valid {
			p.DeprecatedAt = &deprecatedAt.Time
		}
		out = append(out, p)
	}
	return out, nil
}
