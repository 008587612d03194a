package models

import (
	"time"

	"github.com/google/uuid"
)

// JobImage is a provider-normalized copy of a sample image, recorded after the
// provider accepts a job.
type JobImage struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	URI       string    `db:"uri"        json:"uri"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
