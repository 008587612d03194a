package training

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// WebhookPath is where the provider posts tune status callbacks.
const WebhookPath = "/api/v1/train/webhook"

// CallbackURL builds the provider's only route back into the system. The secret
// makes the URL unguessable; the ids let the reconciler find the job.
func CallbackURL(publicURL, userID string, jobID uuid.UUID, secret string) (string, error) {
	u, err := url.Parse(publicURL + WebhookPath)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("public url %q has no http(s) scheme", publicURL)
	}

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("model_id", jobID.String())
	q.Set("webhook_secret", secret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
