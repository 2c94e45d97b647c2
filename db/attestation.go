package db

import (
	"context"
	"database/sql"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// AttestationRepo backs identity.AttestationStore and
// issuance.AttestationStore with a single Postgres table, translating
// records to/from storage explicitly (no ORM/active-record behavior).
type AttestationRepo struct {
	conn *Conn
}

func NewAttestationRepo(conn *Conn) *AttestationRepo {
	return &AttestationRepo{conn: conn}
}

// Upsert implements IdentitySessionCore's MERGE semantics: update
// isAdult/verifiedAt/assurance/expiresAt, preserving accountRef unless
// a new non-empty value is supplied.
func (r *AttestationRepo) Upsert(ctx context.Context, att models.Attestation) (models.Attestation, error) {
	row := r.conn.DB.QueryRowContext(ctx, `
		INSERT INTO attestations
			(provider_id, subject_id, account_ref, policy_id, verified, is_adult, assurance_level, policy_hash, verified_at, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_id, subject_id) DO UPDATE SET
			account_ref = COALESCE(NULLIF(EXCLUDED.account_ref, ''), attestations.account_ref),
			policy_id = EXCLUDED.policy_id,
			verified = EXCLUDED.verified,
			is_adult = EXCLUDED.is_adult,
			assurance_level = EXCLUDED.assurance_level,
			policy_hash = EXCLUDED.policy_hash,
			verified_at = EXCLUDED.verified_at,
			expires_at = EXCLUDED.expires_at
		RETURNING id, provider_id, subject_id, COALESCE(account_ref, ''), policy_id, verified, is_adult, assurance_level, policy_hash, verified_at, expires_at, COALESCE(vc_jwt, ''), COALESCE(credential_hash, '')
	`,
		att.ProviderID, att.SubjectID, att.AccountRef, att.PolicyID, att.Verified, att.IsAdult, string(att.AssuranceLevel), att.PolicyHash, att.VerifiedAt, att.ExpiresAt,
	)
	return scanAttestation(row)
}

// GetByAccountRef backs IssuanceCore's "fetch attestation" step.
func (r *AttestationRepo) GetByAccountRef(ctx context.Context, accountRef string) (models.Attestation, error) {
	row := r.conn.DB.QueryRowContext(ctx, `
		SELECT id, provider_id, subject_id, COALESCE(account_ref, ''), policy_id, verified, is_adult, assurance_level, policy_hash, verified_at, expires_at, COALESCE(vc_jwt, ''), COALESCE(credential_hash, '')
		FROM attestations WHERE account_ref = $1
		ORDER BY verified_at DESC LIMIT 1
	`, accountRef)
	return scanAttestation(row)
}

// SaveCredential persists the minted VC pointer onto the attestation
// row (spec.md §4.7 step 6).
func (r *AttestationRepo) SaveCredential(ctx context.Context, accountRef, vcJwt, credentialHash string) error {
	res, err := r.conn.DB.ExecContext(ctx, `
		UPDATE attestations SET vc_jwt = $1, credential_hash = $2 WHERE account_ref = $3
	`, vcJwt, credentialHash, accountRef)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "saving credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "checking rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "no attestation found for accountRef")
	}
	return nil
}

func scanAttestation(row *sql.Row) (models.Attestation, error) {
	var (
		att            models.Attestation
		assuranceLevel string
		expiresAt      sql.NullTime
	)
	err := row.Scan(
		&att.ID, &att.ProviderID, &att.SubjectID, &att.AccountRef, &att.PolicyID,
		&att.Verified, &att.IsAdult, &assuranceLevel, &att.PolicyHash, &att.VerifiedAt, &expiresAt,
		&att.VCJwt, &att.CredentialHash,
	)
	if err == sql.ErrNoRows {
		return models.Attestation{}, apperr.New(apperr.NotFound, "attestation not found")
	}
	if err != nil {
		return models.Attestation{}, apperr.Wrap(apperr.SystemError, "scanning attestation row", err)
	}
	att.AssuranceLevel = models.AssuranceLevel(assuranceLevel)
	if expiresAt.Valid {
		att.ExpiresAt = &expiresAt.Time
	}
	return att, nil
}
