// Package response writes the API's JSON bodies. Success bodies are written
// as-is; errors are {"code", "message"}.
package response

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}

type listBody struct {
	Data  any `json:"data"`
	Count int `json:"count"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, data)
}

// List writes a collection with its length.
func List(w http.ResponseWriter, data any, count int) {
	writeJSON(w, http.StatusOK, listBody{Data: data, Count: count})
}

// Message writes {"message": message} with status.
func Message(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageBody{Message: message})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorBody{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
