package training_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/phototune/internal/cache"
	"github.com/kiranshivaraju/phototune/internal/store"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

// memStore is an in-memory store.Store with the same conditional-write semantics
// as the Postgres store.
type memStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.TrainingJob
	balances    map[string]int
	debits      map[uuid.UUID]int
	images      map[uuid.UUID][]string
	transitions map[uuid.UUID][]*models.JobTransition

	createErr   error
	acceptErr   error
	debitErr    error
	imagesErr   error
	balanceErr  error
	applyErr    error
	createCalls int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:        make(map[uuid.UUID]*models.TrainingJob),
		balances:    make(map[string]int),
		debits:      make(map[uuid.UUID]int),
		images:      make(map[uuid.UUID][]string),
		transitions: make(map[uuid.UUID][]*models.JobTransition),
	}
}

func (s *memStore) Ping(_ context.Context) error { return nil }

func (s *memStore) CreateJob(_ context.Context, userID, name, modelType string, images []string) (*models.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	if len(images) < models.MinSampleImages {
		return nil, store.ErrTooFewImages
	}
	now := time.Now().UTC()
	job := &models.TrainingJob{
		ID: uuid.New(), UserID: userID, Name: name, ModelType: modelType,
		Status: models.JobStatusPending, SampleImageURIs: images, CreatedAt: now, UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (s *memStore) MarkAccepted(_ context.Context, jobID uuid.UUID, userID, externalJobID string) (*models.JobTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptErr != nil {
		return nil, s.acceptErr
	}
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, store.ErrNotFound
	}
	if job.ExternalJobID != nil {
		if *job.ExternalJobID == externalJobID {
			return nil, nil
		}
		return nil, store.ErrAlreadyAccepted
	}
	ext := externalJobID
	job.ExternalJobID = &ext
	if job.Status != models.JobStatusPending {
		return nil, nil
	}
	job.Status = models.JobStatusTraining
	return s.record(jobID, models.JobStatusPending, models.JobStatusTraining, nil), nil
}

func (s *memStore) ApplyProviderStatus(_ context.Context, u store.ProviderUpdate) (*models.JobTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	job, ok := s.jobs[u.JobID]
	if !ok || job.UserID != u.UserID {
		return nil, store.ErrNotFound
	}
	if job.ExternalJobID != nil && u.ExternalJobID != "" && *job.ExternalJobID != u.ExternalJobID {
		return nil, store.ErrStaleTransition
	}
	if !models.CanTransition(job.Status, u.Status) {
		if job.Status == u.Status {
			return nil, nil
		}
		return nil, store.ErrStaleTransition
	}
	from := job.Status
	job.Status = u.Status
	ps := u.ProviderStatus
	job.ProviderStatus = &ps
	job.RemoteError = u.RemoteError
	if job.ExternalJobID == nil && u.ExternalJobID != "" {
		ext := u.ExternalJobID
		job.ExternalJobID = &ext
	}
	return s.record(u.JobID, from, u.Status, &ps), nil
}

func (s *memStore) record(jobID uuid.UUID, from, to models.JobStatus, ps *string) *models.JobTransition {
	tr := &models.JobTransition{ID: uuid.New(), JobID: jobID, FromStatus: from, ToStatus: to, ProviderStatus: ps, CreatedAt: time.Now().UTC()}
	s.transitions[jobID] = append(s.transitions[jobID], tr)
	return tr
}

func (s *memStore) GetJob(_ context.Context, userID string, jobID uuid.UUID) (*models.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) ListJobs(_ context.Context, userID string) ([]*models.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TrainingJob
	for _, j := range s.jobs {
		if j.UserID == userID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListTransitions(_ context.Context, jobID uuid.UUID) ([]*models.JobTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.JobTransition(nil), s.transitions[jobID]...), nil
}

func (s *memStore) Balance(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balances[userID], nil
}

func (s *memStore) TryDebit(_ context.Context, userID string, jobID uuid.UUID, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debitErr != nil {
		return 0, s.debitErr
	}
	if _, ok := s.debits[jobID]; ok {
		return s.balances[userID], store.ErrAlreadyDebited
	}
	if s.balances[userID] < amount {
		return 0, store.ErrInsufficientFunds
	}
	s.balances[userID] -= amount
	s.debits[jobID] = amount
	return s.balances[userID], nil
}

func (s *memStore) AddJobImages(_ context.Context, jobID uuid.UUID, uris []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.imagesErr != nil {
		return s.imagesErr
	}
	s.images[jobID] = append(s.images[jobID], uris...)
	return nil
}

func (s *memStore) ListJobImages(_ context.Context, jobID uuid.UUID) ([]*models.JobImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobImage
	for _, uri := range s.images[jobID] {
		out = append(out, &models.JobImage{ID: uuid.New(), JobID: jobID, URI: uri})
	}
	return out, nil
}

func (s *memStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *memStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }

func (s *memStore) job(id uuid.UUID) models.TrainingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) balance(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) debitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.debits)
}

// --- cache ---

type memCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	statuses map[string]models.JobStatus
	getErr   error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), statuses: make(map[string]models.JobStatus)}
}

func statusKey(userID string, jobID uuid.UUID) string { return cache.JobStatusKey(userID, jobID) }

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	delete(c.statuses, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) SetJobStatus(_ context.Context, userID string, jobID uuid.UUID, status models.JobStatus, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[statusKey(userID, jobID)] = status
	return nil
}

func (c *memCache) GetJobStatus(_ context.Context, userID string, jobID uuid.UUID) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[statusKey(userID, jobID)]
	return st, ok, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (c *memCache) status(userID string, jobID uuid.UUID) (models.JobStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[statusKey(userID, jobID)]
	return st, ok
}

// --- events ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.JobEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e models.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errBoom = errors.New("boom")
