// Package astria is the HTTP client for the Astria fine-tuning API.
package astria

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/phototune/pkg/models"
)

// Sentinel errors for Astria client failures.
var (
	ErrProviderUnavailable = errors.New("astria unreachable")
	ErrProviderRejected    = errors.New("astria rejected request")
	ErrProviderTimeout     = errors.New("astria request timeout")
)

// Pack listing scopes.
const (
	PackScopeUsers   = "users"
	PackScopeGallery = "gallery"
	PackScopeBoth    = "both"
)

// maxErrorBody caps how much of a non-2xx body is read for the error message.
const maxErrorBody = 4 << 10

// APIError is a non-2xx response. It matches ErrProviderRejected with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", ErrProviderRejected, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrProviderRejected, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return ErrProviderRejected }

// Options tunes how tunes are created.
type Options struct {
	// Branch is the training branch sent with every tune ("fast", "sd15", "flux1").
	Branch string
	// PacksEnabled routes tunes with a pack slug to the pack endpoint.
	PacksEnabled bool
}

// HTTPClient implements models.TrainingProvider using Astria's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	opts    Options
	client  *http.Client
}

// NewHTTPClient creates a new Astria HTTP client. timeout bounds every call.
func NewHTTPClient(baseURL, apiKey string, opts Options, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string {
	return "astria"
}

func (c *HTTPClient) CreateTune(ctx context.Context, req models.CreateTuneRequest) (*models.RemoteTune, error) {
	path := "/tunes"
	if c.opts.PacksEnabled && req.Pack != "" {
		path = "/p/" + url.PathEscape(req.Pack) + "/tunes"
	}

	body := createTuneBody{Tune: tunePayload{
		Callback:        req.CallbackURL,
		Title:           req.Title,
		Name:            req.ClassName,
		Branch:          c.opts.Branch,
		ImageURLs:       req.ImageURLs,
		Characteristics: req.Characteristics,
	}}

	var resp tuneResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID.String() == "" {
		return nil, fmt.Errorf("%w: response carried no tune id", ErrProviderRejected)
	}

	return &models.RemoteTune{
		ID:         resp.ID.String(),
		Title:      resp.Title,
		Name:       resp.Name,
		Token:      resp.Token,
		ETA:        resp.ETA,
		Callback:   resp.Callback,
		OrigImages: resp.OrigImages,
	}, nil
}

func (c *HTTPClient) CreatePrompt(ctx context.Context, req models.CreatePromptRequest) (json.RawMessage, error) {
	path := "/tunes/" + url.PathEscape(req.ExternalJobID) + "/prompts"
	body := createPromptBody{Prompt: promptPayload{Text: req.Text, Callback: req.CallbackURL}}

	var resp json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) ListPacks(ctx context.Context, scope string) ([]json.RawMessage, error) {
	var paths []string
	switch scope {
	case PackScopeUsers:
		paths = []string{"/packs"}
	case PackScopeGallery:
		paths = []string{"/gallery/packs"}
	case PackScopeBoth:
		paths = []string{"/packs", "/gallery/packs"}
	default:
		return nil, fmt.Errorf("unknown pack scope %q", scope)
	}

	packs := []json.RawMessage{}
	for _, p := range paths {
		var page []json.RawMessage
		if err := c.do(ctx, http.MethodGet, p, nil, &page); err != nil {
			return nil, err
		}
		packs = append(packs, page...)
	}
	return packs, nil
}

// do sends one JSON request and decodes a 2xx body into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, in != nil)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return classifyDecodeError(err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

// errorMessage extracts a human readable message from an Astria error body.
// Astria answers either {"message": "..."} or {"field": ["problem", ...]}.
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &msg) == nil {
		if msg.Message != "" {
			return msg.Message
		}
		if msg.Error != "" {
			return msg.Error
		}
	}
	return string(bytes.TrimSpace(raw))
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// classifyDecodeError treats a body cut short by the client timeout as a timeout.
func classifyDecodeError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return fmt.Errorf("decoding astria response: %w", err)
}

// --- Astria wire types ---

type createTuneBody struct {
	Tune tunePayload `json:"tune"`
}

type tunePayload struct {
	Callback        string          `json:"callback"`
	Title           string          `json:"title"`
	Name            string          `json:"name"`
	Branch          string          `json:"branch,omitempty"`
	ImageURLs       []string        `json:"image_urls"`
	Characteristics json.RawMessage `json:"characteristics,omitempty"`
}

type tuneResponse struct {
	ID         models.ExternalID `json:"id"`
	Title      string            `json:"title"`
	Name       string            `json:"name"`
	Token      string            `json:"token"`
	ETA        string            `json:"eta"`
	Callback   string            `json:"callback"`
	OrigImages []string          `json:"orig_images"`
}

type createPromptBody struct {
	Prompt promptPayload `json:"prompt"`
}

type promptPayload struct {
	Text     string `json:"text"`
	Callback string `json:"callback,omitempty"`
}

// Compile-time check that HTTPClient implements models.TrainingProvider.
var _ models.TrainingProvider = (*HTTPClient)(nil)
