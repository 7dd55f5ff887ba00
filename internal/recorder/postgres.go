package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"MarginView/internal/risk"
)

const createTables = `
CREATE TABLE IF NOT EXISTS risk_snapshots (
    id           BIGSERIAL PRIMARY KEY,
    owner        TEXT        NOT NULL,
    health       BIGINT      NOT NULL,
    max_withdraw BIGINT      NOT NULL,
    max_borrow   BIGINT      NOT NULL,
    total_debt   BIGINT      NOT NULL,
    as_of        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_snapshots_owner_as_of
    ON risk_snapshots (owner, as_of);

CREATE TABLE IF NOT EXISTS submissions (
    id           BIGSERIAL PRIMARY KEY,
    kind         TEXT        NOT NULL,
    owner        TEXT        NOT NULL,
    signature    TEXT        NOT NULL,
    outcome      TEXT        NOT NULL,
    detail       TEXT        NOT NULL DEFAULT '',
    submitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_owner
    ON submissions (owner, submitted_at);
`

// Postgres writes audit rows through database/sql with the pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the pool, verifies connectivity, and ensures the audit
// tables exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open recorder db: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping recorder db: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit tables: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) RecordRiskSnapshot(ctx context.Context, owner string, stats risk.Stats, asOf time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
        INSERT INTO risk_snapshots (owner, health, max_withdraw, max_borrow, total_debt, as_of)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		owner, stats.Health, stats.MaxWithdraw, stats.MaxBorrow, stats.TotalDebt, asOf)
	if err != nil {
		return fmt.Errorf("insert risk snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) RecordSubmission(ctx context.Context, sub Submission) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
        INSERT INTO submissions (kind, owner, signature, outcome, detail, submitted_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.Kind, sub.Owner, sub.Signature, sub.Outcome, sub.Detail, sub.At)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

var _ Recorder = (*Postgres)(nil)
var _ Recorder = Noop{}
