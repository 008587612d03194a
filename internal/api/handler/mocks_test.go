package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/phototune/internal/api/middleware"
	"github.com/kiranshivaraju/phototune/internal/training"
	"github.com/kiranshivaraju/phototune/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- mock training service ---

type mockService struct {
	submitReq training.SubmitRequest
	submitRes *training.SubmitResult
	submitErr error

	jobs      []*models.TrainingJob
	detail    *training.JobDetail
	status    models.JobStatus
	readErr   error
	gotUserID string
	gotJobID  uuid.UUID

	promptText     string
	promptCallback string
	prompt         json.RawMessage
	promptErr      error

	packs    []json.RawMessage
	packsErr error

	balance    int
	balanceErr error
}

func (m *mockService) Submit(_ context.Context, req training.SubmitRequest) (*training.SubmitResult, error) {
	m.submitReq = req
	return m.submitRes, m.submitErr
}

func (m *mockService) ListJobs(_ context.Context, userID string) ([]*models.TrainingJob, error) {
	m.gotUserID = userID
	return m.jobs, m.readErr
}

func (m *mockService) GetJob(_ context.Context, userID string, jobID uuid.UUID) (*training.JobDetail, error) {
	m.gotUserID, m.gotJobID = userID, jobID
	return m.detail, m.readErr
}

func (m *mockService) JobStatus(_ context.Context, userID string, jobID uuid.UUID) (models.JobStatus, error) {
	m.gotUserID, m.gotJobID = userID, jobID
	return m.status, m.readErr
}

func (m *mockService) CreatePrompt(_ context.Context, userID string, jobID uuid.UUID, text, callback string) (json.RawMessage, error) {
	m.gotUserID, m.gotJobID = userID, jobID
	m.promptText, m.promptCallback = text, callback
	return m.prompt, m.promptErr
}

func (m *mockService) ListPacks(_ context.Context) ([]json.RawMessage, error) {
	return m.packs, m.packsErr
}

func (m *mockService) Balance(_ context.Context, userID string) (int, error) {
	m.gotUserID = userID
	return m.balance, m.balanceErr
}

// --- mock reconciler ---

type mockReconciler struct {
	authErr error
	got     *training.Callback
	outcome training.Outcome
	err     error
}

func (m *mockReconciler) Authorize(_ string) error { return m.authErr }

func (m *mockReconciler) HandleCallback(_ context.Context, cb training.Callback) (training.Outcome, error) {
	m.got = &cb
	return m.outcome, m.err
}

// --- mock key store ---

type mockKeys struct {
	created *models.APIKey
	err     error
}

func (m *mockKeys) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.created = key
	return m.err
}

// --- helpers ---

// do serves one request through a chi router so URL params resolve. An empty
// userID sends the request unauthenticated.
func do(t *testing.T, method, pattern, target, userID string, body string, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if userID != "" {
		req = req.WithContext(mw.WithSession(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
