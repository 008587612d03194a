// Package training owns the tune lifecycle: submission to the provider and
// reconciliation of the provider's callbacks.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/phototune/internal/cache"
	"github.com/kiranshivaraju/phototune/internal/events"
	"github.com/kiranshivaraju/phototune/internal/store"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

const (
	defaultStatusTTL = 24 * time.Hour
	packsTTL         = 10 * time.Minute
)

// Options configures the submission service.
type Options struct {
	PublicURL       string
	WebhookSecret   string
	PricingEnabled  bool
	CreditsPerTune  int
	PackScope       string
	ProviderTimeout time.Duration
	StatusTTL       time.Duration
}

// SubmitRequest is a validated-at-the-edge training request.
type SubmitRequest struct {
	UserID          string
	Name            string
	Type            string
	ImageURLs       []string
	Characteristics json.RawMessage
	Pack            string
}

// SubmitResult describes an accepted submission.
type SubmitResult struct {
	JobID         uuid.UUID
	ExternalJobID string
	// Billed is false when pricing is off or the post-acceptance debit failed.
	Billed bool
	// Unbilled is true only when pricing is on and the post-acceptance debit failed,
	// typically because a concurrent submission spent the last credit.
	Unbilled bool
	// ImagesStored is false when the provider's image copies could not be recorded.
	ImagesStored bool
}

// JobDetail is a job with its recorded images and transition history.
type JobDetail struct {
	Job         *models.TrainingJob
	Images      []*models.JobImage
	Transitions []*models.JobTransition
}

// Service orchestrates training submissions.
type Service struct {
	store    store.Store
	provider models.TrainingProvider
	cache    cache.Cache
	events   events.Publisher
	opts     Options
}

// NewService creates a new Service.
func NewService(st store.Store, provider models.TrainingProvider, ca cache.Cache, pub events.Publisher, opts Options) *Service {
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = defaultStatusTTL
	}
	if opts.CreditsPerTune <= 0 {
		opts.CreditsPerTune = 1
	}
	return &Service{
		store:    st,
		provider: provider,
		cache:    ca,
		events:   pub,
		opts:     opts,
	}
}

// Submit records a job, starts it on the provider and charges for it once the
// provider has accepted it. A provider failure leaves the job pending and charges
// nothing. A debit failure after acceptance is alerted, not rolled back, because
// the remote tune cannot be cancelled.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	if s.opts.PricingEnabled {
		balance, err := s.store.Balance(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: reading balance: %w", ErrPersistence, err)
		}
		if balance < s.opts.CreditsPerTune {
			return nil, ErrInsufficientCredit
		}
	}

	job, err := s.store.CreateJob(ctx, req.UserID, req.Name, req.Type, req.ImageURLs)
	if err != nil {
		if errors.Is(err, store.ErrTooFewImages) {
			return nil, invalid(fmt.Sprintf("Upload at least %d sample images", models.MinSampleImages))
		}
		return nil, fmt.Errorf("%w: creating job: %w", ErrPersistence, err)
	}
	log := slog.With("user_id", req.UserID, "job_id", job.ID)

	callback, err := CallbackURL(s.opts.PublicURL, req.UserID, job.ID, s.opts.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("building callback url: %w", err)
	}

	tune, err := s.createTune(ctx, models.CreateTuneRequest{
		Title:           fmt.Sprintf("%s - %s", req.Name, req.UserID),
		ClassName:       req.Type,
		ImageURLs:       req.ImageURLs,
		CallbackURL:     callback,
		Pack:            req.Pack,
		Characteristics: req.Characteristics,
	})
	if err != nil {
		log.Error("provider did not accept tune", "provider", s.provider.Name(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	log = log.With("external_job_id", tune.ID)

	tr, err := s.store.MarkAccepted(ctx, job.ID, req.UserID, tune.ID)
	if err != nil {
		log.Error("accepted tune could not be recorded", "alert", "unrecorded_tune", "error", err)
		return nil, fmt.Errorf("%w: marking job accepted: %w", ErrPersistence, err)
	}
	// A callback that beat us here already moved the job and announced it.
	if tr != nil {
		if err := s.cache.Delete(ctx, cache.JobStatusKey(req.UserID, job.ID)); err != nil {
			log.Warn("invalidating status cache", "error", err)
		}
		s.publish(ctx, models.JobEvent{
			Type:          events.TransitionType(tr.ToStatus),
			JobID:         job.ID.String(),
			UserID:        req.UserID,
			ExternalJobID: tune.ID,
			FromStatus:    tr.FromStatus,
			ToStatus:      tr.ToStatus,
		})
	}

	result := &SubmitResult{JobID: job.ID, ExternalJobID: tune.ID, ImagesStored: true}

	if s.opts.PricingEnabled {
		result.Billed = s.debit(ctx, log, req.UserID, job.ID, tune.ID)
		result.Unbilled = !result.Billed
	}

	if err := s.store.AddJobImages(ctx, job.ID, tune.OrigImages); err != nil {
		log.Warn("storing provider images", "error", err)
		result.ImagesStored = false
	}

	log.Info("tune submitted", "billed", result.Billed)
	return result, nil
}

func (s *Service) createTune(ctx context.Context, req models.CreateTuneRequest) (*models.RemoteTune, error) {
	if s.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ProviderTimeout)
		defer cancel()
	}
	tune, err := s.provider.CreateTune(ctx, req)
	if err != nil {
		return nil, err
	}
	if tune == nil || tune.ID == "" {
		return nil, errors.New("provider returned no tune id")
	}
	return tune, nil
}

// debit charges the job once and reports whether the user is billed for it.
func (s *Service) debit(ctx context.Context, log *slog.Logger, userID string, jobID uuid.UUID, externalJobID string) bool {
	balance, err := s.store.TryDebit(ctx, userID, jobID, s.opts.CreditsPerTune)
	switch {
	case err == nil:
		log.Info("credits debited", "amount", s.opts.CreditsPerTune, "balance", balance)
		return true
	case errors.Is(err, store.ErrAlreadyDebited):
		return true
	}

	log.Error("accepted tune is not billed", "alert", "unbilled_job", "error", err)
	s.publish(ctx, models.JobEvent{
		Type:          events.TypeUnbilled,
		JobID:         jobID.String(),
		UserID:        userID,
		ExternalJobID: externalJobID,
		Detail:        err.Error(),
	})
	return false
}

// CreatePrompt generates images with a finished tune owned by userID.
func (s *Service) CreatePrompt(ctx context.Context, userID string, jobID uuid.UUID, text, callback string) (json.RawMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("Prompt text is required")
	}

	job, err := s.getJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFinished || job.ExternalJobID == nil {
		return nil, ErrNotReady
	}

	if s.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ProviderTimeout)
		defer cancel()
	}
	prompt, err := s.provider.CreatePrompt(ctx, models.CreatePromptRequest{
		ExternalJobID: *job.ExternalJobID,
		Text:          text,
		CallbackURL:   callback,
	})
	if err != nil {
		slog.Error("provider did not accept prompt", "user_id", userID, "job_id", jobID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return prompt, nil
}

// ListPacks returns the provider's packs, cached for a few minutes.
func (s *Service) ListPacks(ctx context.Context) ([]json.RawMessage, error) {
	key := cache.PacksKey(s.opts.PackScope)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var packs []json.RawMessage
		if err := json.Unmarshal(raw, &packs); err == nil {
			return packs, nil
		}
	}

	packs, err := s.provider.ListPacks(ctx, s.opts.PackScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	if raw, err := json.Marshal(packs); err == nil {
		if err := s.cache.Set(ctx, key, raw, packsTTL); err != nil {
			slog.Warn("caching packs", "error", err)
		}
	}
	return packs, nil
}

// Balance returns the user's remaining credits.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	balance, err := s.store.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: reading balance: %w", ErrPersistence, err)
	}
	return balance, nil
}

// ListJobs returns the user's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID string) ([]*models.TrainingJob, error) {
	jobs, err := s.store.ListJobs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing jobs: %w", ErrPersistence, err)
	}
	return jobs, nil
}

// GetJob returns a job owned by userID with its images and history.
func (s *Service) GetJob(ctx context.Context, userID string, jobID uuid.UUID) (*JobDetail, error) {
	job, err := s.getJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	images, err := s.store.ListJobImages(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing images: %w", ErrPersistence, err)
	}
	transitions, err := s.store.ListTransitions(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing transitions: %w", ErrPersistence, err)
	}
	return &JobDetail{Job: job, Images: images, Transitions: transitions}, nil
}

// JobStatus returns a job's status. Terminal statuses are served from cache.
func (s *Service) JobStatus(ctx context.Context, userID string, jobID uuid.UUID) (models.JobStatus, error) {
	if status, ok, err := s.cache.GetJobStatus(ctx, userID, jobID); err == nil && ok {
		return status, nil
	}

	job, err := s.getJob(ctx, userID, jobID)
	if err != nil {
		return "", err
	}
	if job.Status.IsTerminal() {
		if err := s.cache.SetJobStatus(ctx, userID, jobID, job.Status, s.opts.StatusTTL); err != nil {
			slog.Warn("caching job status", "job_id", jobID, "error", err)
		}
	}
	return job.Status, nil
}

func (s *Service) getJob(ctx context.Context, userID string, jobID uuid.UUID) (*models.TrainingJob, error) {
	job, err := s.store.GetJob(ctx, userID, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting job: %w", ErrPersistence, err)
	}
	return job, nil
}

func (s *Service) publish(ctx context.Context, event models.JobEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		slog.Warn("publishing job event", "type", event.Type, "job_id", event.JobID, "error", err)
	}
}

func validateSubmit(req SubmitRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return invalid("A user is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return invalid("A model name is required")
	}
	if strings.TrimSpace(req.Type) == "" {
		return invalid("A model type is required")
	}
	if len(req.ImageURLs) < models.MinSampleImages {
		return invalid(fmt.Sprintf("Upload at least %d sample images", models.MinSampleImages))
	}
	for _, u := range req.ImageURLs {
		if strings.TrimSpace(u) == "" {
			return invalid("Sample image urls must not be empty")
		}
	}
	return nil
}
