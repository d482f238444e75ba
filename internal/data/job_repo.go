package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pressroom/pressroom/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancellable is returned when cancelling a job that has left the queued state.
	ErrJobNotCancellable = errors.New("job cannot be cancelled (already leased or terminal)")
	// ErrJobNotReplayable is returned when replaying a job that is not in the failed state.
	ErrJobNotReplayable = errors.New("job cannot be replayed (must be in failed status)")
	// ErrLeaseNotHeld is returned when a terminal commit races a lost or reassigned lease.
	ErrLeaseNotHeld = errors.New("lease is no longer held")
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job management. The jobs table is
// both the durable store and the queue: reservation happens with
// FOR UPDATE SKIP LOCKED and terminal commits are compare-and-swap on the
// lease owner token.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// badJobID reports whether the database rejected the id text as a UUID.
// A malformed id can never name a job, so id lookups treat it as not found
// instead of surfacing a cast error. Keeps the status API safe to poll with
// arbitrary ids.
func badJobID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation
}

const jobColumns = `
  id,
  kind,
  status,
  priority,
  payload,
  callback_url,
  retry_count,
  max_retries,
  result,
  error_message,
  lease_owner,
  lease_expires_at,
  scheduled_at,
  completed_at,
  created_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload, result             []byte
	callbackURL, errorMessage   sql.NullString
	leaseOwner                  sql.NullString
	leaseExpiresAt, completedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.Priority,
		&d.payload,
		&d.callbackURL,
		&job.RetryCount,
		&job.MaxRetries,
		&d.result,
		&d.errorMessage,
		&d.leaseOwner,
		&d.leaseExpiresAt,
		&job.ScheduledAt,
		&d.completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	job.Result = cloneNullableJSON(d.result)
	job.CallbackURL = cloneNullableString(d.callbackURL)
	job.ErrorMessage = cloneNullableString(d.errorMessage)
	job.LeaseOwner = cloneNullableString(d.leaseOwner)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
