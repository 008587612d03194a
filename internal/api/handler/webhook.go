package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/phototune/internal/api/response"
	"github.com/kiranshivaraju/phototune/internal/training"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

// webhookBody is the provider's callback payload. The outer status is ignored;
// tune.status is authoritative.
type webhookBody struct {
	Status string `json:"status"`
	Tune   struct {
		ID     models.ExternalID `json:"id"`
		Status string            `json:"status"`
		Error  *string           `json:"error"`
	} `json:"tune"`
}

// NewWebhookHandler returns an http.HandlerFunc for POST /api/v1/train/webhook.
// Every acknowledged outcome, including unknown jobs and stale deliveries, gets
// the same 200 body.
func NewWebhookHandler(rec CallbackReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		secret := q.Get("webhook_secret")

		// Nothing about the body is reported to an unauthenticated caller.
		if err := rec.Authorize(secret); err != nil {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook secret", nil)
			return
		}

		var body webhookBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		_, err := rec.HandleCallback(r.Context(), training.Callback{
			UserID:         q.Get("user_id"),
			JobID:          q.Get("model_id"),
			Secret:         secret,
			ProviderStatus: body.Tune.Status,
			ExternalJobID:  body.Tune.ID.String(),
			RemoteError:    body.Tune.Error,
		})
		switch {
		case err == nil:
			response.Message(w, http.StatusOK, "Model status updated")
		case errors.Is(err, training.ErrUnauthorized):
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook secret", nil)
		default:
			writeServiceError(w, err)
		}
	}
}
