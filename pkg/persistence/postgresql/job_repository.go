package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
)

// JobRepository handles job-related database operations.
type JobRepository struct {
	db *sql.DB
}

const jobColumns = "key, instance_key, node_id, task_type, state, variables, retries, worker_id, lease_expires, error_message, created_at, updated_at"

func (jr *JobRepository) SaveJob(ctx context.Context, job *models.Job) error {
	vars, err := json.Marshal(job.Variables)
	if err != nil {
		return &persistence.JobError{Op: "Save", Key: job.Key, Err: err}
	}

	_, err = jr.db.ExecContext(ctx, `
		INSERT INTO jobs
			(key, instance_key, node_id, task_type, state, variables, retries, worker_id, lease_expires, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (key) DO UPDATE SET
			state = EXCLUDED.state,
			retries = EXCLUDED.retries,
			worker_id = EXCLUDED.worker_id,
			lease_expires = EXCLUDED.lease_expires,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at`,
		job.Key, job.InstanceKey, job.NodeID, job.TaskType, job.State, vars, job.Retries,
		job.WorkerID, job.LeaseExpires, job.ErrorMessage, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return &persistence.JobError{Op: "Save", Key: job.Key, Err: err}
	}

	return nil
}

func (jr *JobRepository) JobByKey(ctx context.Context, key string) (*models.Job, error) {
	row := jr.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE key = $1", key,
	)

	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &persistence.JobError{Op: "ByKey", Key: key, Err: persistence.ErrJobNotFound}
	}

	if err != nil {
		return nil, &persistence.JobError{Op: "ByKey", Key: key, Err: err}
	}

	return job, nil
}

func (jr *JobRepository) JobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	return jr.queryJobs(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE state = $1 ORDER BY created_at", state,
	)
}

func (jr *JobRepository) JobsByInstance(ctx context.Context, instanceKey string) ([]*models.Job, error) {
	return jr.queryJobs(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE instance_key = $1 ORDER BY created_at", instanceKey,
	)
}

func (jr *JobRepository) CreatedJobsByType(ctx context.Context, taskType string, limit int) ([]*models.Job, error) {
	return jr.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE state = $1 AND task_type = $2
		ORDER BY created_at
		LIMIT $3`,
		models.JobStateCreated, taskType, limit,
	)
}

func (jr *JobRepository) ExpiredLeasedJobs(ctx context.Context, now time.Time) ([]*models.Job, error) {
	return jr.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE state = $1 AND lease_expires < $2
		ORDER BY created_at`,
		models.JobStateLeased, now,
	)
}

func (jr *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := jr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &persistence.JobError{Op: "List", Err: err}
	}

	defer func() {
		_ = rows.Close()
	}()

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, &persistence.JobError{Op: "List", Err: err}
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, &persistence.JobError{Op: "List", Err: err}
	}

	return jobs, nil
}

func scanJob(scan func(...any) error) (*models.Job, error) {
	job := &models.Job{}

	var vars []byte

	err := scan(
		&job.Key, &job.InstanceKey, &job.NodeID, &job.TaskType, &job.State, &vars,
		&job.Retries, &job.WorkerID, &job.LeaseExpires, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(vars, &job.Variables)
	if err != nil {
		return nil, err
	}

	return job, nil
}
