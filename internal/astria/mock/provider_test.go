package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/phototune/internal/astria"
	"github.com/kiranshivaraju/phototune/internal/astria/mock"
	"github.com/kiranshivaraju/phototune/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() models.CreateTuneRequest {
	return models.CreateTuneRequest{
		Title:       "portrait - user-1",
		ClassName:   "woman",
		ImageURLs:   []string{"a", "b", "c", "d"},
		CallbackURL: "https://app/cb",
	}
}

// --- NewMockProvider ---

func TestNewMockProvider_Name(t *testing.T) {
	p := mock.NewMockProvider()
	assert.Equal(t, "mock", p.Name())
}

func TestNewMockProvider_CreateTune(t *testing.T) {
	p := mock.NewMockProvider()

	first, err := p.CreateTune(context.Background(), sampleRequest())
	require.NoError(t, err)
	second, err := p.CreateTune(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "1000", first.ID)
	assert.Equal(t, "1001", second.ID)
	assert.Equal(t, "portrait - user-1", first.Title)
	assert.Equal(t, "woman", first.Name)
	assert.Len(t, first.OrigImages, 4)
	assert.Len(t, p.Requests(), 2)
}

func TestNewMockProvider_CreatePrompt(t *testing.T) {
	p := mock.NewMockProvider()
	raw, err := p.CreatePrompt(context.Background(), models.CreatePromptRequest{ExternalJobID: "1000", Text: "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tune_id":"1000","text":"hello"}`, string(raw))
}

func TestNewMockProvider_ListPacks(t *testing.T) {
	p := mock.NewMockProvider()
	packs, err := p.ListPacks(context.Background(), astria.PackScopeBoth)
	require.NoError(t, err)
	assert.Len(t, packs, 1)
}

// --- NewFailingProvider ---

func TestNewFailingProvider(t *testing.T) {
	want := errors.New("provider down")
	p := mock.NewFailingProvider(want)
	assert.Equal(t, "mock-failing", p.Name())

	_, err := p.CreateTune(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, want)
	_, err = p.CreatePrompt(context.Background(), models.CreatePromptRequest{})
	assert.ErrorIs(t, err, want)
	_, err = p.ListPacks(context.Background(), astria.PackScopeUsers)
	assert.ErrorIs(t, err, want)

	assert.Len(t, p.Requests(), 1, "failed calls are still recorded")
}

// --- NewTimeoutProvider ---

func TestNewTimeoutProvider_CreateTune(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.CreateTune(ctx, sampleRequest())
	assert.ErrorIs(t, err, astria.ErrProviderTimeout)
}

// --- Zero value ---

func TestMockProvider_ZeroValueDefaults(t *testing.T) {
	p := &mock.MockProvider{}

	tune, err := p.CreateTune(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.NotNil(t, tune)

	packs, err := p.ListPacks(context.Background(), astria.PackScopeUsers)
	require.NoError(t, err)
	assert.Empty(t, packs)
}
