package handler

import (
	"net/http"

	"github.com/kiranshivaraju/phototune/internal/api/response"
)

type promptRequest struct {
	Text     string `json:"text"     validate:"required,max=2000"`
	Callback string `json:"callback" validate:"omitempty,url"`
}

// NewCreatePromptHandler returns an http.HandlerFunc for POST /api/v1/tunes/{jobID}/prompts.
// The provider's prompt object is passed through unchanged.
func NewCreatePromptHandler(svc Prompter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}
		var req promptRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		prompt, err := svc.CreatePrompt(r.Context(), userID, jobID, req.Text, req.Callback)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.Created(w, prompt)
	}
}
