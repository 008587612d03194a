package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// TrainingProvider is the interface to the external fine-tuning service.
// Never call a concrete provider client directly: always inject this interface.
type TrainingProvider interface {
	// CreateTune starts a remote training job. The provider calls CallbackURL when it finishes.
	CreateTune(ctx context.Context, req CreateTuneRequest) (*RemoteTune, error)
	// CreatePrompt queues an image generation against a finished remote tune.
	CreatePrompt(ctx context.Context, req CreatePromptRequest) (json.RawMessage, error)
	// ListPacks returns the prompt packs for scope: "users", "gallery" or "both".
	ListPacks(ctx context.Context, scope string) ([]json.RawMessage, error)
	// Name returns the provider identifier (e.g., "astria").
	Name() string
}

// CreateTuneRequest is the input to a remote training job.
type CreateTuneRequest struct {
	Title           string
	ClassName       string // model type: "man", "woman", ...
	ImageURLs       []string
	CallbackURL     string
	Pack            string          // optional pack slug; only honored in packs mode
	Characteristics json.RawMessage // optional, forwarded verbatim
}

// RemoteTune is the provider's view of an accepted training job.
type RemoteTune struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Name       string   `json:"name"`
	Token      string   `json:"token,omitempty"`
	ETA        string   `json:"eta,omitempty"`
	Callback   string   `json:"callback,omitempty"`
	OrigImages []string `json:"orig_images,omitempty"`
}

// CreatePromptRequest asks the provider to render text with a trained tune.
type CreatePromptRequest struct {
	ExternalJobID string
	Text          string
	CallbackURL   string
}

// JobEvent is published when a job changes state or needs operator attention.
type JobEvent struct {
	Type          string    `json:"type"` // "job.<status>" or "job.unbilled"
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	ExternalJobID string    `json:"external_job_id,omitempty"`
	FromStatus    JobStatus `json:"from_status,omitempty"`
	ToStatus      JobStatus `json:"to_status,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// ExternalID is a provider-assigned id. The provider may send it as a JSON number or
// a string; numbers keep their literal digits so large ids lose no precision.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("external id must be a number or string: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

func (id ExternalID) String() string { return string(id) }
