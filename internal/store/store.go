package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

var (
	// ErrTooFewImages is returned by CreateJob when fewer than models.MinSampleImages are given.
	ErrTooFewImages = errors.New("too few sample images")
	// ErrAlreadyAccepted means the job already carries a different external job id.
	ErrAlreadyAccepted = errors.New("job already accepted with a different external id")
	// ErrStaleTransition means the requested status is not forward-valid from the stored one.
	ErrStaleTransition = errors.New("stale job status transition")
	// ErrInsufficientFunds means the balance is lower than the debit amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyDebited means the job has been charged before; callers treat it as success.
	ErrAlreadyDebited = errors.New("job already debited")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	JobStore
	CreditLedger
	ImageStore
	KeyStore
}

// JobStore persists training jobs. Every mutation is one conditional write keyed by
// (job id, user id) and the current status, so racing callers never interleave.
type JobStore interface {
	CreateJob(ctx context.Context, userID, name, modelType string, images []string) (*models.TrainingJob, error)
	// MarkAccepted moves a pending job to training and sets its external id once.
	// It returns the recorded pending->training transition, or nil when nothing moved:
	// a repeat with the same external id, or a job a callback already moved past pending.
	MarkAccepted(ctx context.Context, jobID uuid.UUID, userID, externalJobID string) (*models.JobTransition, error)
	// ApplyProviderStatus performs a forward-valid transition to status. It returns the
	// recorded transition, or nil when the job was already in status.
	ApplyProviderStatus(ctx context.Context, update ProviderUpdate) (*models.JobTransition, error)
	GetJob(ctx context.Context, userID string, jobID uuid.UUID) (*models.TrainingJob, error)
	ListJobs(ctx context.Context, userID string) ([]*models.TrainingJob, error)
	ListTransitions(ctx context.Context, jobID uuid.UUID) ([]*models.JobTransition, error)
}

// CreditLedger owns credit balances.
type CreditLedger interface {
	// Balance returns the user's credits; a user without an account has zero.
	Balance(ctx context.Context, userID string) (int, error)
	// TryDebit charges amount for jobID at most once and returns the new balance.
	TryDebit(ctx context.Context, userID string, jobID uuid.UUID, amount int) (int, error)
}

// ImageStore records provider-normalized sample images.
type ImageStore interface {
	AddJobImages(ctx context.Context, jobID uuid.UUID, uris []string) error
	ListJobImages(ctx context.Context, jobID uuid.UUID) ([]*models.JobImage, error)
}

// KeyStore resolves API keys for the auth middleware.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// ProviderUpdate is a mapped provider callback.
type ProviderUpdate struct {
	UserID         string
	JobID          uuid.UUID
	ExternalJobID  string // empty when the callback did not carry one
	Status         models.JobStatus
	ProviderStatus string
	RemoteError    *string
}
