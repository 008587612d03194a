// Package mock provides in-memory training providers for tests.
package mock

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kiranshivaraju/phototune/internal/astria"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

// MockProvider satisfies models.TrainingProvider for testing.
type MockProvider struct {
	Name_            string
	CreateTuneFunc   func(ctx context.Context, req models.CreateTuneRequest) (*models.RemoteTune, error)
	CreatePromptFunc func(ctx context.Context, req models.CreatePromptRequest) (json.RawMessage, error)
	ListPacksFunc    func(ctx context.Context, scope string) ([]json.RawMessage, error)

	mu       sync.Mutex
	requests []models.CreateTuneRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) CreateTune(ctx context.Context, req models.CreateTuneRequest) (*models.RemoteTune, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CreateTuneFunc != nil {
		return m.CreateTuneFunc(ctx, req)
	}
	return &models.RemoteTune{}, nil
}

func (m *MockProvider) CreatePrompt(ctx context.Context, req models.CreatePromptRequest) (json.RawMessage, error) {
	if m.CreatePromptFunc != nil {
		return m.CreatePromptFunc(ctx, req)
	}
	return json.RawMessage(`{}`), nil
}

func (m *MockProvider) ListPacks(ctx context.Context, scope string) ([]json.RawMessage, error) {
	if m.ListPacksFunc != nil {
		return m.ListPacksFunc(ctx, scope)
	}
	return []json.RawMessage{}, nil
}

// Requests returns a copy of every CreateTune request received so far.
func (m *MockProvider) Requests() []models.CreateTuneRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CreateTuneRequest(nil), m.requests...)
}

// NewMockProvider returns a MockProvider that accepts every tune and hands out
// increasing remote ids starting at 1000.
func NewMockProvider() *MockProvider {
	var next atomic.Int64
	next.Store(999)
	return &MockProvider{
		Name_: "mock",
		CreateTuneFunc: func(_ context.Context, req models.CreateTuneRequest) (*models.RemoteTune, error) {
			id := strconv.FormatInt(next.Add(1), 10)
			return &models.RemoteTune{
				ID:         id,
				Title:      req.Title,
				Name:       req.ClassName,
				Token:      "ohwx",
				Callback:   req.CallbackURL,
				OrigImages: append([]string(nil), req.ImageURLs...),
			}, nil
		},
		CreatePromptFunc: func(_ context.Context, req models.CreatePromptRequest) (json.RawMessage, error) {
			return json.Marshal(map[string]string{"tune_id": req.ExternalJobID, "text": req.Text})
		},
		ListPacksFunc: func(_ context.Context, _ string) ([]json.RawMessage, error) {
			return []json.RawMessage{json.RawMessage(`{"slug":"mock-pack"}`)}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CreateTuneFunc: func(_ context.Context, _ models.CreateTuneRequest) (*models.RemoteTune, error) {
			return nil, err
		},
		CreatePromptFunc: func(_ context.Context, _ models.CreatePromptRequest) (json.RawMessage, error) {
			return nil, err
		},
		ListPacksFunc: func(_ context.Context, _ string) ([]json.RawMessage, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CreateTuneFunc: func(ctx context.Context, _ models.CreateTuneRequest) (*models.RemoteTune, error) {
			<-ctx.Done()
			return nil, astria.ErrProviderTimeout
		},
		CreatePromptFunc: func(ctx context.Context, _ models.CreatePromptRequest) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, astria.ErrProviderTimeout
		},
		ListPacksFunc: func(ctx context.Context, _ string) ([]json.RawMessage, error) {
			<-ctx.Done()
			return nil, astria.ErrProviderTimeout
		},
	}
}

// Compile-time check that MockProvider implements TrainingProvider.
var _ models.TrainingProvider = (*MockProvider)(nil)
