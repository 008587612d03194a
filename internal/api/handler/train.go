package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/phototune/internal/api/response"
	"github.com/kiranshivaraju/phototune/internal/training"
)

type trainRequest struct {
	Name            string          `json:"name"            validate:"required,max=200"`
	Type            string          `json:"type"            validate:"required,max=50"`
	URLs            []string        `json:"urls"            validate:"required,dive,required,url"`
	Characteristics json.RawMessage `json:"characteristics"`
	Pack            string          `json:"pack"            validate:"omitempty,max=100"`
}

type trainResponse struct {
	Message string `json:"message"`
	TuneID  string `json:"tune_id"`
	Billed  bool   `json:"billed"`
	Code    string `json:"code,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// codeUnbilled marks an accepted tune that could not be charged.
const codeUnbilled = "UNBILLED"

// NewTrainHandler returns an http.HandlerFunc for POST /api/v1/train.
func NewTrainHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req trainRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		if len(req.Characteristics) > 0 && !isJSONObject(req.Characteristics) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"characteristics must be an object", nil)
			return
		}

		result, err := svc.Submit(r.Context(), training.SubmitRequest{
			UserID:          userID,
			Name:            req.Name,
			Type:            req.Type,
			ImageURLs:       req.URLs,
			Characteristics: req.Characteristics,
			Pack:            req.Pack,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := trainResponse{
			Message: "Model training started",
			TuneID:  result.JobID.String(),
			Billed:  result.Billed,
		}
		if result.Unbilled {
			resp.Code = codeUnbilled
		}
		if !result.ImagesStored {
			resp.Warning = "Sample images were not recorded"
		}
		response.JSON(w, resp)
	}
}

func isJSONObject(raw json.RawMessage) bool {
	if string(raw) == "null" {
		return true
	}
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil
}
