package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

const jobColumns = `id, client_id, operator_id, operator_name, status, payment_status, price::text, currency,
	address, notes, escrow_reference, completion_artifact, cancelled_at, cancelled_by,
	completed_at, reopen_count, version, created_at, updated_at`

// PostgresJobStore keeps jobs in the snow_jobs table. The version column
// is the compare-and-swap guard for every update.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(pool *pgxpool.Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

func (s *PostgresJobStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snow_jobs (
			id                  TEXT PRIMARY KEY,
			client_id           TEXT NOT NULL,
			operator_id         TEXT NOT NULL,
			operator_name       TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			payment_status      TEXT NOT NULL,
			price               NUMERIC(12, 2) NOT NULL,
			currency            TEXT NOT NULL,
			address             TEXT NOT NULL DEFAULT '',
			notes               TEXT NOT NULL DEFAULT '',
			escrow_reference    TEXT NOT NULL DEFAULT '',
			completion_artifact TEXT NOT NULL DEFAULT '',
			cancelled_at        TIMESTAMPTZ,
			cancelled_by        TEXT NOT NULL DEFAULT '',
			completed_at        TIMESTAMPTZ,
			reopen_count        INTEGER NOT NULL DEFAULT 0,
			version             BIGINT NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL
		);
		ALTER TABLE snow_jobs ADD COLUMN IF NOT EXISTS operator_name TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_snow_jobs_operator ON snow_jobs (operator_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_snow_jobs_payment ON snow_jobs (payment_status, status);
	`)
	if err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	stored := job.Clone()
	stored.Version = 1

	_, err := s.pool.Exec(ctx, `
		INSERT INTO snow_jobs (
			id, client_id, operator_id, operator_name, status, payment_status, price, currency,
			address, notes, escrow_reference, completion_artifact, cancelled_at, cancelled_by,
			completed_at, reopen_count, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19
		)`,
		stored.ID, stored.ClientID, stored.OperatorID, stored.OperatorName, string(stored.Status), string(stored.PaymentStatus),
		stored.Price, stored.Currency,
		stored.Address, stored.Notes, stored.EscrowReference, stored.CompletionArtifact,
		stored.CancelledAt, stored.CancelledBy,
		stored.CompletedAt, stored.ReopenCount, stored.Version, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.Job{}, fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
		}
		return domain.Job{}, fmt.Errorf("store/postgres: create job: %w", err)
	}
	return stored, nil
}

func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM snow_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
		}
		return domain.Job{}, fmt.Errorf("store/postgres: get job: %w", err)
	}
	return job, nil
}

// SaveJob writes every mutable column in one statement guarded by the
// expected version. Zero affected rows means the job is missing or moved on.
func (s *PostgresJobStore) SaveJob(ctx context.Context, job domain.Job, expectedVersion int64) (domain.Job, error) {
	stored := job.Clone()
	stored.Version = expectedVersion + 1

	tag, err := s.pool.Exec(ctx, `
		UPDATE snow_jobs SET
			operator_id = $3, operator_name = $4, status = $5, payment_status = $6, price = $7, currency = $8,
			address = $9, notes = $10, escrow_reference = $11, completion_artifact = $12,
			cancelled_at = $13, cancelled_by = $14, completed_at = $15, reopen_count = $16,
			version = $17, updated_at = $18
		WHERE id = $1 AND version = $2`,
		stored.ID, expectedVersion,
		stored.OperatorID, stored.OperatorName, string(stored.Status), string(stored.PaymentStatus), stored.Price, stored.Currency,
		stored.Address, stored.Notes, stored.EscrowReference, stored.CompletionArtifact,
		stored.CancelledAt, stored.CancelledBy, stored.CompletedAt, stored.ReopenCount,
		stored.Version, stored.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("store/postgres: save job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, job.ID); err != nil {
			return domain.Job{}, err
		}
		return domain.Job{}, fmt.Errorf("job %s expected version %d: %w", job.ID, expectedVersion, domain.ErrStaleState)
	}
	return stored, nil
}

func (s *PostgresJobStore) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM snow_jobs ORDER BY created_at, id`)
}

func (s *PostgresJobStore) ListByOperator(ctx context.Context, operatorID string) ([]domain.Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM snow_jobs WHERE operator_id = $1 ORDER BY created_at, id`, operatorID)
}

func (s *PostgresJobStore) ListNeedingReconciliation(ctx context.Context) ([]domain.Job, error) {
	return s.query(ctx, `
		SELECT `+jobColumns+` FROM snow_jobs
		WHERE payment_status = $1 AND status IN ($2, $3)
		ORDER BY created_at, id`,
		string(domain.PaymentHeld), string(domain.StatusCompleted), string(domain.StatusCancelled),
	)
}

func (s *PostgresJobStore) query(ctx context.Context, sql string, args ...any) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: list jobs: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Job, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scan jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		job           domain.Job
		status        string
		paymentStatus string
		price         string
		cancelledAt   *time.Time
		completedAt   *time.Time
	)
	err := row.Scan(
		&job.ID, &job.ClientID, &job.OperatorID, &job.OperatorName, &status, &paymentStatus, &price, &job.Currency,
		&job.Address, &job.Notes, &job.EscrowReference, &job.CompletionArtifact, &cancelledAt, &job.CancelledBy,
		&completedAt, &job.ReopenCount, &job.Version, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.Price, err = decimal.NewFromString(price)
	if err != nil {
		return domain.Job{}, fmt.Errorf("job %s price %q: %w", job.ID, price, err)
	}
	job.Status = domain.JobStatus(status)
	job.PaymentStatus = domain.PaymentStatus(paymentStatus)
	job.CancelledAt = utcPtr(cancelledAt)
	job.CompletedAt = utcPtr(completedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks for a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
