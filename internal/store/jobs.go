package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"fireedge.io/gateway/models"
)

// JobStore persists provision job records.
type JobStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewJobStore creates a JobStore.
func NewJobStore(db *sql.DB, clock clockwork.Clock) *JobStore {
	return &JobStore{db: db, clock: clock}
}

const jobColumns = `id, kind, provision_id, command, status, pid, exit_code,
	log_path, error, owner, created_at, started_at, finished_at`

// Create inserts a pending job, assigning ID and CreatedAt when unset.
func (s *JobStore) Create(ctx context.Context, job *models.ProvisionJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provision_jobs (id, kind, provision_id, command, status, log_path, owner, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.ProvisionID, job.Command, string(job.Status),
		job.LogPath, job.Owner, toMillis(job.CreatedAt),
	)
	return wrapErr(err)
}

// MarkRunning records the process ID and start time.
func (s *JobStore) MarkRunning(ctx context.Context, id string, pid int) error {
	return s.update(ctx, `UPDATE provision_jobs SET status = ?, pid = ?, started_at = ? WHERE id = ?`,
		string(models.JobStatusRunning), pid, toMillis(s.clock.Now()), id)
}

// SetProvisionID records the backend provision ID printed by the CLI.
func (s *JobStore) SetProvisionID(ctx context.Context, id, provisionID string) error {
	return s.update(ctx, `UPDATE provision_jobs SET provision_id = ? WHERE id = ?`, provisionID, id)
}

// Finish stores the terminal status of a job.
func (s *JobStore) Finish(ctx context.Context, id string, status models.JobStatus, exitCode *int, errMsg string) error {
	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	return s.update(ctx,
		`UPDATE provision_jobs SET status = ?, exit_code = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), code, errMsg, toMillis(s.clock.Now()), id)
}

func (s *JobStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Get returns one job.
func (s *JobStore) Get(ctx context.Context, id string) (*models.ProvisionJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM provision_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// LatestForProvision returns the newest job touching a backend provision.
func (s *JobStore) LatestForProvision(ctx context.Context, provisionID string) (*models.ProvisionJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM provision_jobs
		WHERE provision_id = ? ORDER BY created_at DESC LIMIT 1`, provisionID)
	return scanJob(row)
}

// ListRecent returns up to limit jobs, newest first.
func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]models.ProvisionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM provision_jobs
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkInterrupted flags jobs left pending or running by a previous process.
func (s *JobStore) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provision_jobs SET status = ?, finished_at = ?, error = 'gateway restarted'
		WHERE status IN (?, ?)`,
		string(models.JobStatusInterrupted), toMillis(s.clock.Now()),
		string(models.JobStatusPending), string(models.JobStatusRunning))
	if err != nil {
		return 0, wrapErr(err)
	}
	return res.RowsAffected()
}

// PruneFinished deletes finished jobs older than olderThan and returns them
// so callers can remove their log files.
func (s *JobStore) PruneFinished(ctx context.Context, olderThan time.Duration) ([]models.ProvisionJob, error) {
	cutoff := toMillis(s.clock.Now().Add(-olderThan))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+jobColumns+` FROM provision_jobs
		WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return nil, wrapErr(err)
	}
	jobs, err := scanJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM provision_jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff); err != nil {
		return nil, wrapErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr(err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.ProvisionJob, error) {
	var (
		job                 models.ProvisionJob
		kind, status        string
		exitCode            sql.NullInt64
		created             int64
		started, finishedAt sql.NullInt64
	)

	err := row.Scan(&job.ID, &kind, &job.ProvisionID, &job.Command, &status, &job.PID, &exitCode,
		&job.LogPath, &job.Error, &job.Owner, &created, &started, &finishedAt)
	if err != nil {
		return nil, wrapErr(err)
	}

	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		job.ExitCode = &code
	}
	job.CreatedAt = fromMillis(created)
	job.StartedAt = fromNullMillis(started)
	job.FinishedAt = fromNullMillis(finishedAt)

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]models.ProvisionJob, error) {
	var jobs []models.ProvisionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return jobs, nil
}
