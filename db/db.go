// Package db owns the Postgres connection pool and the
// createTables-on-boot convention the teacher uses (no migration
// tool — tables are created idempotently at startup). Repository files
// alongside this one hold one plain, SQL-only type each.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/config"
)

// Conn wraps the shared *sql.DB. Repository constructors take a *Conn
// rather than reaching for a package-level global, so tests can wire
// an isolated connection per case.
type Conn struct {
	DB *sql.DB
}

// Open connects to Postgres per cfg, sets pool limits, and creates the
// platform's tables if they don't already exist.
func Open(cfg config.DBConfig) (*Conn, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s application_name=agecred connect_timeout=10",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "opening database connection", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, apperr.Wrap(apperr.SystemError, "pinging database", err)
	}

	conn := &Conn{DB: sqlDB}
	if err := conn.createTables(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Conn) Close() error {
	return c.DB.Close()
}

// createTables mirrors the teacher's idempotent CREATE TABLE IF NOT
// EXISTS convention; no directly-identifying column is ever defined
// here — attestations store only the opaque pseudonym and derived
// booleans/timestamps (spec.md §3's global invariant).
func (c *Conn) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS attestations (
			id SERIAL PRIMARY KEY,
			provider_id VARCHAR(128) NOT NULL,
			subject_id VARCHAR(256) NOT NULL,
			account_ref VARCHAR(128),
			policy_id VARCHAR(128) NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			is_adult BOOLEAN NOT NULL DEFAULT FALSE,
			assurance_level VARCHAR(32) NOT NULL DEFAULT 'unknown',
			policy_hash VARCHAR(64),
			verified_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			vc_jwt TEXT,
			credential_hash VARCHAR(64),
			UNIQUE (provider_id, subject_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attestations_account_ref ON attestations (account_ref);`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id VARCHAR(64) PRIMARY KEY,
			topic VARCHAR(128) NOT NULL,
			subject_id VARCHAR(256),
			policy_id VARCHAR(128),
			outcome VARCHAR(64) NOT NULL,
			reason_codes TEXT[],
			timestamp_utc TIMESTAMPTZ NOT NULL,
			signature TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS policy_definitions (
			policy_id VARCHAR(128) NOT NULL,
			version VARCHAR(32) NOT NULL,
			circuit_id VARCHAR(128) NOT NULL,
			verification_key_id VARCHAR(128),
			verification_key_fingerprint VARCHAR(64),
			compatible_versions VARCHAR(32),
			default_expiry_seconds BIGINT NOT NULL,
			public_signals_schema TEXT[],
			status VARCHAR(16) NOT NULL,
			deprecated_at TIMESTAMPTZ,
			signature TEXT,
			PRIMARY KEY (policy_id, version)
		);`,
	}
	for _, stmt := range statements {
		if _, err := c.DB.Exec(stmt); err != nil {
			return apperr.Wrap(apperr.SystemError, "creating tables", err)
		}
	}
	return nil
}
