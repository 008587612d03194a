package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/phototune/internal/api/response"
)

// NewListPacksHandler returns an http.HandlerFunc for GET /api/v1/packs.
func NewListPacksHandler(svc PackLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireUser(w, r); !ok {
			return
		}
		packs, err := svc.ListPacks(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if packs == nil {
			packs = []json.RawMessage{}
		}
		response.List(w, packs, len(packs))
	}
}
