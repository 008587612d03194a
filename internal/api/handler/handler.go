// Package handler contains the HTTP handlers. Each handler depends on a narrow
// interface so it can be tested without the training service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/phototune/internal/api/middleware"
	"github.com/kiranshivaraju/phototune/internal/api/response"
	"github.com/kiranshivaraju/phototune/internal/training"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldError is one entry of a validation error's details.
type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func init() {
	// Report JSON field names rather than Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags. It writes
// the 400 response itself and reports whether the handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

func writeValidation(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request", nil)
		return
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
		"Invalid field: "+details[0].Field, details)
}

// requireUser returns the authenticated caller or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
	}
	return userID, ok
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid tune id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps training errors to responses. Internal failures get an
// opaque message.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *training.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", verr.Message, nil)
	case errors.Is(err, training.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request", nil)
	case errors.Is(err, training.ErrInsufficientCredit):
		response.Error(w, http.StatusBadRequest, "INSUFFICIENT_CREDIT", "Not enough credits", nil)
	case errors.Is(err, training.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Tune not found", nil)
	case errors.Is(err, training.ErrNotReady):
		response.Error(w, http.StatusConflict, "TUNE_NOT_READY", "Tune has not finished training", nil)
	case errors.Is(err, training.ErrProvider):
		response.Error(w, http.StatusInternalServerError, "PROVIDER_ERROR",
			"The training provider could not process the request", nil)
	default:
		slog.Error("request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

// Interfaces served by *training.Service and *training.Reconciler.

type Submitter interface {
	Submit(ctx context.Context, req training.SubmitRequest) (*training.SubmitResult, error)
}

type TuneReader interface {
	ListJobs(ctx context.Context, userID string) ([]*models.TrainingJob, error)
	GetJob(ctx context.Context, userID string, jobID uuid.UUID) (*training.JobDetail, error)
	JobStatus(ctx context.Context, userID string, jobID uuid.UUID) (models.JobStatus, error)
}

type Prompter interface {
	CreatePrompt(ctx context.Context, userID string, jobID uuid.UUID, text, callback string) (json.RawMessage, error)
}

type PackLister interface {
	ListPacks(ctx context.Context) ([]json.RawMessage, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

type CallbackReconciler interface {
	Authorize(secret string) error
	HandleCallback(ctx context.Context, cb training.Callback) (training.Outcome, error)
}
