package models

import (
	"time"

	"github.com/google/uuid"
)

// JobTransition records one applied status change of a training job.
// No-op deliveries (repeated terminal callbacks) never produce a row.
type JobTransition struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	JobID          uuid.UUID `db:"job_id"          json:"job_id"`
	FromStatus     JobStatus `db:"from_status"     json:"from_status"`
	ToStatus       JobStatus `db:"to_status"       json:"to_status"`
	ProviderStatus *string   `db:"provider_status" json:"provider_status,omitempty"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}
