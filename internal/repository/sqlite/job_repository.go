package sqlite

import (
	"database/sql"
	"fmt"

	"booth/internal/model"
)

// JobRepository implements repository.JobRepository for SQLite.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new SQLite job repository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save inserts the job or updates the existing row with the same ID.
func (r *JobRepository) Save(job *model.Job) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO jobs (id, status, video_path, thumb_path, meta_path, started_at, duration_s, person_count, filter_used, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			video_path = excluded.video_path,
			thumb_path = excluded.thumb_path,
			meta_path = excluded.meta_path,
			duration_s = excluded.duration_s,
			person_count = excluded.person_count,
			filter_used = excluded.filter_used,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`, job.ID, string(job.Status), job.VideoPath, job.ThumbPath, job.MetaPath, job.StartedAt.UTC(),
		job.DurationS, job.PersonCount, job.FilterUsed, job.Error)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID. It returns nil, nil when absent.
func (r *JobRepository) GetByID(id string) (*model.Job, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`
		SELECT id, status, video_path, thumb_path, meta_path, started_at, duration_s, person_count, filter_used, error
		FROM jobs WHERE id = ?
	`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns the most recent jobs first. A limit <= 0 returns all jobs.
func (r *JobRepository) List(limit int) ([]model.Job, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `
		SELECT id, status, video_path, thumb_path, meta_path, started_at, duration_s, person_count, filter_used, error
		FROM jobs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// FailInterrupted marks unfinished jobs as failed.
func (r *JobRepository) FailInterrupted() (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		UPDATE jobs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status IN (?, ?)
	`, string(model.JobFailed), "interrupted", string(model.JobPending), string(model.JobRecording))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*model.Job, error) {
	var job model.Job
	var status string
	err := s.Scan(&job.ID, &status, &job.VideoPath, &job.ThumbPath, &job.MetaPath, &job.StartedAt,
		&job.DurationS, &job.PersonCount, &job.FilterUsed, &job.Error)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}
