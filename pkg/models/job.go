// Package models contains shared data models used across the PhotoTune codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the internal lifecycle state of a training job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusTraining JobStatus = "training"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
	JobStatusUnknown  JobStatus = "unknown"
)

// MinSampleImages is the fewest sample images a training job may be created with.
const MinSampleImages = 4

// TrainingJob is one fine-tune request submitted to the training provider.
// Clients see it as a "tune"; tune_id in API responses is the job ID.
type TrainingJob struct {
	ID              uuid.UUID `db:"id"               json:"id"`
	UserID          string    `db:"user_id"          json:"user_id"`
	Name            string    `db:"name"             json:"name"`
	ModelType       string    `db:"model_type"       json:"type"`
	Status          JobStatus `db:"status"           json:"status"`
	ExternalJobID   *string   `db:"external_job_id"  json:"external_job_id,omitempty"`
	ProviderStatus  *string   `db:"provider_status"  json:"provider_status,omitempty"`
	RemoteError     *string   `db:"remote_error"     json:"remote_error,omitempty"`
	SampleImageURIs []string  `db:"sample_image_uris" json:"sample_image_uris"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"       json:"updated_at"`
}

// IsTerminal reports whether no further transition is accepted from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusUnknown:
		return true
	}
	return false
}

// sourceStatuses lists, for each target status, the stored statuses it may be entered from.
// A provider callback can arrive before the submission path has recorded acceptance, so
// callback-driven targets are also reachable from pending.
var sourceStatuses = map[JobStatus][]JobStatus{
	JobStatusTraining: {JobStatusPending},
	JobStatusFinished: {JobStatusPending, JobStatusTraining},
	JobStatusFailed:   {JobStatusPending, JobStatusTraining},
	JobStatusUnknown:  {JobStatusPending, JobStatusTraining},
}

// TransitionSources returns the statuses from which to is a forward-valid move.
// The result is empty for pending, which is never re-entered.
func TransitionSources(to JobStatus) []JobStatus {
	return append([]JobStatus(nil), sourceStatuses[to]...)
}

// CanTransition reports whether a job stored in from may move to to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range sourceStatuses[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Provider status vocabulary reported in tune.status.
const (
	ProviderStatusDone       = "done"
	ProviderStatusError      = "error"
	ProviderStatusInProgress = "in_progress"
)

// MapProviderStatus maps the provider's tune status to the internal status.
// Anything unrecognized is absorbed as unknown.
func MapProviderStatus(providerStatus string) JobStatus {
	switch providerStatus {
	case ProviderStatusDone:
		return JobStatusFinished
	case ProviderStatusError:
		return JobStatusFailed
	case ProviderStatusInProgress:
		return JobStatusTraining
	default:
		return JobStatusUnknown
	}
}
