package handler

import (
	"net/http"

	"github.com/kiranshivaraju/phototune/internal/api/response"
)

type creditsResponse struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// NewCreditsHandler returns an http.HandlerFunc for GET /api/v1/credits.
func NewCreditsHandler(svc BalanceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, creditsResponse{UserID: userID, Balance: balance})
	}
}
