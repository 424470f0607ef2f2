package repository

import (
	"booth/internal/model"
)

// JobRepository defines the interface for recording job persistence.
type JobRepository interface {
	// Create / update operations
	Save(job *model.Job) error

	// Read operations
	GetByID(id string) (*model.Job, error)
	List(limit int) ([]model.Job, error)

	// FailInterrupted marks jobs left pending or recording by a previous
	// process as failed and returns how many were changed.
	FailInterrupted() (int64, error)
}
