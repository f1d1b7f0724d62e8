package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
)

// JobRepository handles job-related file operations.
type JobRepository struct {
	persistence *Persistence
}

func (jr *JobRepository) path(key string) string {
	return filepath.Join(jr.persistence.root, "jobs", key+".json")
}

func (jr *JobRepository) SaveJob(_ context.Context, job *models.Job) error {
	jr.persistence.mu.Lock()
	defer jr.persistence.mu.Unlock()

	err := jr.persistence.writeJSON(jr.path(job.Key), job)
	if err != nil {
		return &persistence.JobError{Op: "Save", Key: job.Key, Err: err}
	}

	return nil
}

func (jr *JobRepository) JobByKey(_ context.Context, key string) (*models.Job, error) {
	jr.persistence.mu.RLock()
	defer jr.persistence.mu.RUnlock()

	return jr.jobByKey(key)
}

func (jr *JobRepository) jobByKey(key string) (*models.Job, error) {
	job := &models.Job{}

	err := jr.persistence.readJSON(jr.path(key), job)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &persistence.JobError{Op: "ByKey", Key: key, Err: persistence.ErrJobNotFound}
	}

	if err != nil {
		return nil, &persistence.JobError{Op: "ByKey", Key: key, Err: err}
	}

	return job, nil
}

func (jr *JobRepository) JobsByState(_ context.Context, state models.JobState) ([]*models.Job, error) {
	return jr.filterJobs(func(job *models.Job) bool {
		return job.State == state
	})
}

func (jr *JobRepository) JobsByInstance(_ context.Context, instanceKey string) ([]*models.Job, error) {
	return jr.filterJobs(func(job *models.Job) bool {
		return job.InstanceKey == instanceKey
	})
}

func (jr *JobRepository) CreatedJobsByType(_ context.Context, taskType string, limit int) ([]*models.Job, error) {
	jobs, err := jr.filterJobs(func(job *models.Job) bool {
		return job.State == models.JobStateCreated && job.TaskType == taskType
	})
	if err != nil {
		return nil, err
	}

	// FIFO per task type, best effort.
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

func (jr *JobRepository) ExpiredLeasedJobs(_ context.Context, now time.Time) ([]*models.Job, error) {
	return jr.filterJobs(func(job *models.Job) bool {
		return job.State == models.JobStateLeased && job.LeaseExpired(now)
	})
}

func (jr *JobRepository) filterJobs(keep func(*models.Job) bool) ([]*models.Job, error) {
	jr.persistence.mu.RLock()
	defer jr.persistence.mu.RUnlock()

	root := os.DirFS(filepath.Join(jr.persistence.root, "jobs"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, &persistence.JobError{Op: "List", Err: err}
	}

	jobs := make([]*models.Job, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		job, err := jr.jobByKey(file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if keep(job) {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}
