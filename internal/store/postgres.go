package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/phototune/pkg/models"
)

const listJobsLimit = 100

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Training Jobs ---

const jobColumns = `id, user_id, name, model_type, status, external_job_id, provider_status,
	remote_error, sample_image_uris, created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, userID, name, modelType string, images []string) (*models.TrainingJob, error) {
	if len(images) < models.MinSampleImages {
		return nil, fmt.Errorf("%w: got %d, need at least %d", ErrTooFewImages, len(images), models.MinSampleImages)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &models.TrainingJob{
		ID:              uuid.New(),
		UserID:          userID,
		Name:            name,
		ModelType:       modelType,
		Status:          models.JobStatusPending,
		SampleImageURIs: append([]string(nil), images...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO training_jobs (id, user_id, name, model_type, status, sample_image_uris, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.UserID, job.Name, job.ModelType, string(job.Status), job.SampleImageURIs, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, userID string, jobID uuid.UUID) (*models.TrainingJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM training_jobs WHERE id = $1 AND user_id = $2`, jobID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, userID string) ([]*models.TrainingJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM training_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, listJobsLimit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.TrainingJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkAccepted sets external_job_id once and moves a pending job to training. A job a
// callback has already moved past pending keeps its status.
func (s *PostgresStore) MarkAccepted(ctx context.Context, jobID uuid.UUID, userID, externalJobID string) (*models.JobTransition, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mark accepted: %w", err)
	}
	defer tx.Rollback(ctx)

	var from models.JobStatus
	err = tx.QueryRow(ctx,
		`UPDATE training_jobs j
		 SET status = CASE WHEN prev.status = 'pending' THEN 'training' ELSE prev.status END,
		     external_job_id = $3,
		     updated_at = NOW()
		 FROM (SELECT id, status FROM training_jobs WHERE id = $1 AND user_id = $2 FOR UPDATE) prev
		 WHERE j.id = prev.id AND j.external_job_id IS NULL
		 RETURNING prev.status`,
		jobID, userID, externalJobID,
	).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyAccepted(ctx, tx, jobID, userID, externalJobID)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("mark accepted: external id %q: %w", externalJobID, ErrDuplicateKey)
		}
		return nil, fmt.Errorf("mark accepted: %w", err)
	}

	var tr *models.JobTransition
	if from == models.JobStatusPending {
		tr, err = insertTransition(ctx, tx, jobID, from, models.JobStatusTraining, nil)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mark accepted: %w", err)
	}
	return tr, nil
}

// classifyAccepted explains why MarkAccepted matched no row. It never writes.
func (s *PostgresStore) classifyAccepted(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, userID, externalJobID string) error {
	var ext *string
	err := tx.QueryRow(ctx,
		`SELECT external_job_id FROM training_jobs WHERE id = $1 AND user_id = $2`, jobID, userID,
	).Scan(&ext)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job external id: %w", err)
	}
	if ext != nil && *ext == externalJobID {
		return nil
	}
	return ErrAlreadyAccepted
}

func (s *PostgresStore) ApplyProviderStatus(ctx context.Context, u ProviderUpdate) (*models.JobTransition, error) {
	sources := models.TransitionSources(u.Status)
	allowed := make([]string, len(sources))
	for i, st := range sources {
		allowed[i] = string(st)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply provider status: %w", err)
	}
	defer tx.Rollback(ctx)

	var from models.JobStatus
	err = tx.QueryRow(ctx,
		`UPDATE training_jobs j
		 SET status = $3,
		     external_job_id = COALESCE(j.external_job_id, NULLIF($4, '')),
		     provider_status = $5,
		     remote_error = $6,
		     updated_at = NOW()
		 FROM (SELECT id, status FROM training_jobs WHERE id = $1 AND user_id = $2 FOR UPDATE) prev
		 WHERE j.id = prev.id
		   AND prev.status = ANY($7)
		   AND (j.external_job_id IS NULL OR $4 = '' OR j.external_job_id = $4)
		 RETURNING prev.status`,
		u.JobID, u.UserID, string(u.Status), u.ExternalJobID, u.ProviderStatus, u.RemoteError, allowed,
	).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyProviderUpdate(ctx, tx, u)
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("apply provider status: external id %q: %w", u.ExternalJobID, ErrDuplicateKey)
		}
		return nil, fmt.Errorf("apply provider status: %w", err)
	}

	providerStatus := u.ProviderStatus
	tr, err := insertTransition(ctx, tx, u.JobID, from, u.Status, &providerStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply provider status: %w", err)
	}
	return tr, nil
}

// classifyProviderUpdate explains why ApplyProviderStatus matched no row. A repeat of the
// stored status is an idempotent no-op (nil error). It never writes.
func (s *PostgresStore) classifyProviderUpdate(ctx context.Context, tx pgx.Tx, u ProviderUpdate) error {
	var status models.JobStatus
	var ext *string
	err := tx.QueryRow(ctx,
		`SELECT status, external_job_id FROM training_jobs WHERE id = $1 AND user_id = $2`, u.JobID, u.UserID,
	).Scan(&status, &ext)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if ext != nil && u.ExternalJobID != "" && *ext != u.ExternalJobID {
		return fmt.Errorf("%w: external id %q does not match job", ErrStaleTransition, u.ExternalJobID)
	}
	if status == u.Status {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, status, u.Status)
}

func insertTransition(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, from, to models.JobStatus, providerStatus *string) (*models.JobTransition, error) {
	tr := &models.JobTransition{
		ID:             uuid.New(),
		JobID:          jobID,
		FromStatus:     from,
		ToStatus:       to,
		ProviderStatus: providerStatus,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO job_transitions (id, job_id, from_status, to_status, provider_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tr.ID, tr.JobID, string(tr.FromStatus), string(tr.ToStatus), tr.ProviderStatus, tr.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("record transition: %w", err)
	}
	return tr, nil
}

// ListTransitions returns a job's applied transitions, oldest first.
func (s *PostgresStore) ListTransitions(ctx context.Context, jobID uuid.UUID) ([]*models.JobTransition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, from_status, to_status, provider_status, created_at
		 FROM job_transitions WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []*models.JobTransition
	for rows.Next() {
		var tr models.JobTransition
		if err := rows.Scan(&tr.ID, &tr.JobID, &tr.FromStatus, &tr.ToStatus, &tr.ProviderStatus, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, &tr)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*models.TrainingJob, error) {
	var j models.TrainingJob
	if err := row.Scan(&j.ID, &j.UserID, &j.Name, &j.ModelType, &j.Status, &j.ExternalJobID,
		&j.ProviderStatus, &j.RemoteError, &j.SampleImageURIs, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Credits ---

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM credit_accounts WHERE user_id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// TryDebit records the job's debit row and decrements the balance in one transaction.
// The decrement is conditional on balance >= amount, so concurrent debits for one user
// can never overdraw; the debit row's primary key makes a second charge for the same
// job impossible.
func (s *PostgresStore) TryDebit(ctx context.Context, userID string, jobID uuid.UUID, amount int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO credit_debits (job_id, user_id, amount, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (job_id) DO NOTHING`,
		jobID, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("record debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		balance, err := s.Balance(ctx, userID)
		if err != nil {
			return 0, err
		}
		return balance, ErrAlreadyDebited
	}

	var balance int
	err = tx.QueryRow(ctx,
		`UPDATE credit_accounts SET balance = balance - $2, updated_at = NOW()
		 WHERE user_id = $1 AND balance >= $2
		 RETURNING balance`,
		userID, amount,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return balance, nil
}

// --- Images ---

func (s *PostgresStore) AddJobImages(ctx context.Context, jobID uuid.UUID, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(uris))
	for i, uri := range uris {
		rows[i] = []any{uuid.New(), jobID, uri, now}
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"job_images"},
		[]string{"id", "job_id", "uri", "created_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("add job images: %w", err)
	}
	return nil
}

// ListJobImages returns the stored provider images of a job.
func (s *PostgresStore) ListJobImages(ctx context.Context, jobID uuid.UUID) ([]*models.JobImage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, uri, created_at FROM job_images WHERE job_id = $1 ORDER BY created_at, uri`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job images: %w", err)
	}
	defer rows.Close()

	var images []*models.JobImage
	for rows.Next() {
		var img models.JobImage
		if err := rows.Scan(&img.ID, &img.JobID, &img.URI, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job image: %w", err)
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
