package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

// PostgresSink keeps the audit trail in an insert-only table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS job_audit_entries (
			id         TEXT PRIMARY KEY,
			job_id     TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			kind       TEXT NOT NULL,
			actor_id   TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_job_audit_entries_job_seq ON job_audit_entries (job_id, seq, created_at);
	`)
	if err != nil {
		return fmt.Errorf("audit/postgres: migrate: %w", err)
	}
	return nil
}

func (s *PostgresSink) Append(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_audit_entries (id, job_id, seq, kind, actor_id, actor_role, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.JobID, entry.Seq, string(entry.Kind),
		entry.ActorID, string(entry.ActorRole), entry.Message, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit/postgres: append: %w", err)
	}
	return nil
}

func (s *PostgresSink) List(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, seq, kind, actor_id, actor_role, message, created_at
		FROM job_audit_entries
		WHERE job_id = $1
		ORDER BY seq ASC, created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit/postgres: list: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e    domain.AuditEntry
			kind string
			role string
		)
		err := row.Scan(&e.ID, &e.JobID, &e.Seq, &kind, &e.ActorID, &role, &e.Message, &e.CreatedAt)
		e.Kind = domain.AuditKind(kind)
		e.ActorRole = domain.Role(role)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("audit/postgres: scan: %w", err)
	}
	return entries, nil
}
