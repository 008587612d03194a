package handler

import (
	"net/http"

	"github.com/kiranshivaraju/phototune/internal/api/response"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

type tuneDetailResponse struct {
	*models.TrainingJob
	Images      []*models.JobImage      `json:"images"`
	Transitions []*models.JobTransition `json:"transitions"`
}

// NewListTunesHandler returns an http.HandlerFunc for GET /api/v1/tunes.
func NewListTunesHandler(svc TuneReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		jobs, err := svc.ListJobs(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if jobs == nil {
			jobs = []*models.TrainingJob{}
		}
		response.List(w, jobs, len(jobs))
	}
}

// NewGetTuneHandler returns an http.HandlerFunc for GET /api/v1/tunes/{jobID}.
func NewGetTuneHandler(svc TuneReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		detail, err := svc.GetJob(r.Context(), userID, jobID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := tuneDetailResponse{
			TrainingJob: detail.Job,
			Images:      detail.Images,
			Transitions: detail.Transitions,
		}
		if resp.Images == nil {
			resp.Images = []*models.JobImage{}
		}
		if resp.Transitions == nil {
			resp.Transitions = []*models.JobTransition{}
		}
		response.JSON(w, resp)
	}
}

// NewTuneStatusHandler returns an http.HandlerFunc for GET /api/v1/tunes/{jobID}/status.
func NewTuneStatusHandler(svc TuneReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		status, err := svc.JobStatus(r.Context(), userID, jobID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, map[string]any{
			"tune_id": jobID.String(),
			"status":  status,
		})
	}
}
