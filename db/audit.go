package db

import (
	"github.com/lib/pq"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// AuditRepo is a Postgres-backed audit.Appender: every entry is
// appended, never updated or deleted.
type AuditRepo struct {
	conn *Conn
}

func NewAuditRepo(conn *Conn) *AuditRepo {
	return &AuditRepo{conn: conn}
}

func (r *AuditRepo) Append(e models.AuditEntry) error {
	_, err := r.conn.DB.Exec(`
		INSERT INTO audit_entries (id, topic, subject_id, policy_id, outcome, reason_codes, timestamp_utc, signature)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)
	`, e.ID, e.Topic, e.SubjectID, e.PolicyID, e.Outcome, pq.Array(e.ReasonCodes), e.TimestampUtc, e.Signature)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "appending audit entry", err)
	}
	return nil
}

func (r *AuditRepo) List() []models.AuditEntry {
	rows, err := r.conn.DB.Query(`
		SELECT id, topic, COALESCE(subject_id, ''), COALESCE(policy_id, ''), outcome, reason_codes, timestamp_utc, signature
		FROM audit_entries ORDER BY timestamp_utc ASC
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.SubjectID, &e.PolicyID, &e.Outcome, pq.Array(&e.ReasonCodes), &e.TimestampUtc, &e.Signature); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}
