package training

import (
	"context"
	"crypto/subtle"
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

// Callback is one provider delivery, as received on the webhook.
type Callback struct {
	UserID         string
	JobID          string
	Secret         string
	ProviderStatus string
	ExternalJobID  string
	RemoteError    *string
}

// Outcome reports what an acknowledged callback did.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeStale    Outcome = "stale"
	OutcomeNotFound Outcome = "not_found"
)

// Reconciler applies provider callbacks to stored jobs.
type Reconciler struct {
	jobs      store.JobStore
	cache     cache.Cache
	events    events.Publisher
	secret    []byte
	statusTTL time.Duration
}

// NewReconciler creates a Reconciler that accepts callbacks carrying secret.
func NewReconciler(jobs store.JobStore, ca cache.Cache, pub events.Publisher, secret string, statusTTL time.Duration) *Reconciler {
	if statusTTL <= 0 {
		statusTTL = defaultStatusTTL
	}
	return &Reconciler{
		jobs:      jobs,
		cache:     ca,
		events:    pub,
		secret:    []byte(secret),
		statusTTL: statusTTL,
	}
}

// Authorize checks a callback secret in constant time. An empty configured secret
// rejects every callback.
func (r *Reconciler) Authorize(secret string) error {
	if len(r.secret) == 0 || subtle.ConstantTimeCompare([]byte(secret), r.secret) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// HandleCallback authenticates and applies one callback. Every outcome other than
// ErrUnauthorized, ErrValidation and ErrPersistence must be acknowledged with
// success, so unknown jobs and stale deliveries look the same as applied ones.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) (Outcome, error) {
	if err := r.Authorize(cb.Secret); err != nil {
		return "", err
	}

	if strings.TrimSpace(cb.UserID) == "" || cb.JobID == "" {
		return "", invalid("Missing user_id or model_id")
	}
	jobID, err := uuid.Parse(cb.JobID)
	if err != nil {
		return "", invalid("Invalid model_id")
	}

	to := models.MapProviderStatus(cb.ProviderStatus)
	log := slog.With("user_id", cb.UserID, "job_id", jobID, "external_job_id", cb.ExternalJobID,
		"provider_status", cb.ProviderStatus, "status", to)

	tr, err := r.jobs.ApplyProviderStatus(ctx, store.ProviderUpdate{
		UserID:         cb.UserID,
		JobID:          jobID,
		ExternalJobID:  cb.ExternalJobID,
		Status:         to,
		ProviderStatus: cb.ProviderStatus,
		RemoteError:    cb.RemoteError,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("callback for unknown job")
		return OutcomeNotFound, nil
	case errors.Is(err, store.ErrStaleTransition):
		log.Info("stale callback ignored", "error", err)
		return OutcomeStale, nil
	case err != nil:
		log.Error("applying callback", "error", err)
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	case tr == nil:
		log.Debug("duplicate callback")
		return OutcomeNoop, nil
	}

	log.Info("job status updated", "from", tr.FromStatus)
	r.refreshCache(ctx, cb.UserID, jobID, to)
	if err := r.events.Publish(ctx, models.JobEvent{
		Type:          events.TransitionType(to),
		JobID:         jobID.String(),
		UserID:        cb.UserID,
		ExternalJobID: cb.ExternalJobID,
		FromStatus:    tr.FromStatus,
		ToStatus:      to,
	}); err != nil {
		log.Warn("publishing job event", "error", err)
	}
	return OutcomeApplied, nil
}

// refreshCache caches terminal statuses and drops anything else, so a late cache
// write can never mask a newer stored status.
func (r *Reconciler) refreshCache(ctx context.Context, userID string, jobID uuid.UUID, status models.JobStatus) {
	var err error
	if status.IsTerminal() {
		err = r.cache.SetJobStatus(ctx, userID, jobID, status, r.statusTTL)
	} else {
		err = r.cache.Delete(ctx, cache.JobStatusKey(userID, jobID))
	}
	if err != nil {
		slog.Warn("updating status cache", "job_id", jobID, "error", err)
	}
}
