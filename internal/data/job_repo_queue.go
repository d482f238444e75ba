package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pressroom/pressroom/internal/core"
	"github.com/pressroom/pressroom/internal/data/pgxutil"
	"github.com/pressroom/pressroom/internal/domain/model"
	apperrors "github.com/pressroom/pressroom/internal/errors"
)

const defaultMaxRetries = 3

// SQL used by ReserveNext to atomically reserve the next job. Priority is
// age-boosted by one point per minute queued (capped at 40) so low-tier work
// cannot starve behind a steady stream of higher tiers. Within a tier the
// boost is monotonic with age, which keeps FIFO ordering intact.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE kind = $1 AND status = 'queued' AND scheduled_at <= $2
    ORDER BY
      priority + LEAST((EXTRACT(EPOCH FROM ($2::timestamptz - created_at)) / 60)::int, 40) DESC,
      scheduled_at ASC,
      created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'processing',
    lease_owner = $3,
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.kind, j.status, j.priority, j.payload, j.callback_url, j.retry_count, j.max_retries, j.result, j.error_message, j.lease_owner, j.lease_expires_at, j.scheduled_at, j.completed_at, j.created_at, j.updated_at`

// Create inserts a queued job and emits its availability notification in one
// transaction. Nothing is persisted when either step fails.
func (r *JobRepo) Create(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("submit job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			rows, err := tx.Query(ctx, `
              INSERT INTO jobs(id, kind, status, priority, payload, callback_url, max_retries, scheduled_at)
              VALUES ($1,$2,'queued',$3,$4,$5,$6,$7)
              RETURNING `+jobColumns,
				uuid.NewString(),
				req.Kind,
				req.Tier().Weight(),
				[]byte(req.Payload),
				req.CallbackURL,
				maxRetries,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			j, collectErr := collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}

			if notifyErr := notifyJobReady(ctx, tx, j.Kind, j.ID); notifyErr != nil {
				return notifyErr
			}
			job = j
			return nil
		},
	}); txErr != nil {
		return nil, txErr
	}

	return job, nil
}

func notifyJobReady(ctx context.Context, tx pgx.Tx, kind model.JobKind, jobID string) error {
	channel := "job_ready_" + string(kind)
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, jobID); err != nil {
		return fmt.Errorf("send job notification: %w", err)
	}
	return nil
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

// Advisory lock namespace for requeueExpired to avoid cross-kind contention.
const advisoryLockRequeueMajor int64 = 2201

func advisoryLockRequeueMinor(kind model.JobKind) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(kind))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return int64(hashValue)
}

// requeueExpired returns jobs with lapsed leases to the queue. Only one
// sweeper per kind runs at a time; losing the advisory lock is a no-op.
func (r *JobRepo) requeueExpired(ctx context.Context, kind model.JobKind) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			minorKey := advisoryLockRequeueMinor(kind)
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockRequeueMajor, minorKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'queued', lease_owner = NULL, lease_expires_at = NULL
          WHERE kind = $1 AND status = 'processing'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, kind, currentTime.UTC())
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ReserveNext reserves the next available job of the given kind for
// processing. The returned job carries a fresh lease owner token; terminal
// commits must present it.
func (r *JobRepo) ReserveNext(
	ctx context.Context,
	kind model.JobKind,
	leaseSeconds int,
) (*model.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid job kind: %s", kind)
	}

	if requeued, err := r.requeueExpired(ctx, kind); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	} else if requeued > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "requeued expired leases", "kind", kind, "count", requeued)
	}

	leaseOwner := uuid.NewString()

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				kind,
				currentTime.UTC(),
				leaseOwner,
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat extends the lease on a processing job. The caller must still hold
// the lease; an expired-and-requeued job will not match.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID, leaseOwner string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	query := `
		UPDATE jobs
		SET lease_expires_at = $3,
		    updated_at = $4
		WHERE id = $1 AND status = 'processing' AND lease_owner = $2
	`

	res, err := r.DB.ExecContext(ctx, query, jobID, leaseOwner, leaseExpiration, currentTime)
	if err != nil {
		if badJobID(err) {
			return false, ErrJobNotFound
		}
		return false, fmt.Errorf("heartbeat job: %w", apperrors.MapDBError(err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Complete commits a successful result. The update is a compare-and-swap on
// the lease owner: a worker whose lease expired and was reassigned gets
// ErrLeaseNotHeld and its result is discarded.
func (r *JobRepo) Complete(ctx context.Context, p core.CompleteJobParams) error {
	currentTime := r.timeProvider.Now().UTC()

	var result []byte
	if len(p.Result) > 0 {
		result = []byte(p.Result)
	}

	query := `
		UPDATE jobs
		SET status = 'completed',
		    result = $3,
		    completed_at = $4,
		    updated_at = $4,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    error_message = NULL
		WHERE id = $1 AND status = 'processing' AND lease_owner = $2
	`

	res, err := r.DB.ExecContext(ctx, query, p.ID, p.LeaseOwner, result, currentTime)
	if err != nil {
		if badJobID(err) {
			return ErrJobNotFound
		}
		return fmt.Errorf("complete job: %w", apperrors.MapDBError(err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return r.commitMissReason(ctx, p.ID)
	}
	return nil
}

// Fail records a handler failure. With Retry set the job returns to the queue
// with an incremented retry count and a backoff delay; otherwise it becomes
// failed and a dead-letter row is appended in the same transaction. Only the
// retry path increments retry_count, keeping it within max_retries. Both
// paths compare-and-swap on the lease owner.
func (r *JobRepo) Fail(ctx context.Context, p core.FailJobParams) (*model.Job, error) {
	currentTime := r.timeProvider.Now().UTC()

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var (
				rows pgx.Rows
				err  error
			)
			if p.Retry {
				rows, err = tx.Query(ctx, `
				  UPDATE jobs
				  SET status = 'queued',
				      retry_count = retry_count + 1,
				      error_message = $3,
				      scheduled_at = $4,
				      lease_owner = NULL,
				      lease_expires_at = NULL,
				      updated_at = $5
				  WHERE id = $1 AND status = 'processing' AND lease_owner = $2
				  RETURNING `+jobColumns,
					p.ID, p.LeaseOwner, p.ErrorMessage, currentTime.Add(p.RetryDelay), currentTime)
			} else {
				rows, err = tx.Query(ctx, `
				  UPDATE jobs
				  SET status = 'failed',
				      error_message = $3,
				      completed_at = $4,
				      lease_owner = NULL,
				      lease_expires_at = NULL,
				      updated_at = $4
				  WHERE id = $1 AND status = 'processing' AND lease_owner = $2
				  RETURNING `+jobColumns,
					p.ID, p.LeaseOwner, p.ErrorMessage, currentTime)
			}
			if err != nil {
				if badJobID(err) {
					return ErrJobNotFound
				}
				return fmt.Errorf("fail job: %w", apperrors.MapDBError(err))
			}
			j, collectErr := collectJobFromRows(rows)
			rows.Close()
			if errors.Is(collectErr, pgx.ErrNoRows) {
				return r.commitMissReason(ctx, p.ID)
			}
			if badJobID(collectErr) {
				return ErrJobNotFound
			}
			if collectErr != nil {
				return fmt.Errorf("collect failed job: %w", apperrors.MapDBError(collectErr))
			}

			if !p.Retry {
				reason := p.Reason
				if reason == "" {
					reason = p.ErrorMessage
				}
				if _, dlErr := tx.Exec(ctx, `
				  INSERT INTO dead_letters(job_id, kind, reason, retry_count, dead_lettered_at)
				  VALUES ($1,$2,$3,$4,$5)
				`, j.ID, j.Kind, reason, j.RetryCount, currentTime); dlErr != nil {
					return fmt.Errorf("append dead letter: %w", dlErr)
				}
			}

			job = j
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// commitMissReason distinguishes a vanished job from a lost lease after a
// zero-row CAS update.
func (r *JobRepo) commitMissReason(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("re-check job after commit miss: %w", err)
	}
	return ErrLeaseNotHeld
}

// Cancel moves a queued job to cancelled. Jobs that are already leased or
// terminal cannot be cancelled.
func (r *JobRepo) Cancel(ctx context.Context, id string) (*model.Job, error) {
	currentTime := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled',
		    completed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns, id, currentTime)

	job, err := scanJobFromRow(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if badJobID(err) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("cancel job: %w", apperrors.MapDBError(err))
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrJobNotCancellable
}

// Replay returns a failed job to the queue with a reset retry budget. The
// dead-letter rows stay (append-only) but are stamped as replayed, and the
// availability notification fires so an idle worker picks the job up.
func (r *JobRepo) Replay(ctx context.Context, id string) (*model.Job, error) {
	currentTime := r.timeProvider.Now().UTC()

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
			  UPDATE jobs
			  SET status = 'queued',
			      retry_count = 0,
			      error_message = NULL,
			      completed_at = NULL,
			      scheduled_at = $2,
			      updated_at = $2
			  WHERE id = $1 AND status = 'failed'
			  RETURNING `+jobColumns, id, currentTime)
			if qerr != nil {
				if badJobID(qerr) {
					return ErrJobNotFound
				}
				return fmt.Errorf("replay job: %w", apperrors.MapDBError(qerr))
			}
			j, collectErr := collectJobFromRows(rows)
			rows.Close()
			if errors.Is(collectErr, pgx.ErrNoRows) {
				return ErrJobNotReplayable
			}
			if badJobID(collectErr) {
				return ErrJobNotFound
			}
			if collectErr != nil {
				return fmt.Errorf("collect replayed job: %w", apperrors.MapDBError(collectErr))
			}

			if _, execErr := tx.Exec(ctx, `
			  UPDATE dead_letters
			  SET replayed_at = $2
			  WHERE job_id = $1 AND replayed_at IS NULL
			`, id, currentTime); execErr != nil {
				return fmt.Errorf("stamp dead letters: %w", execErr)
			}

			if notifyErr := notifyJobReady(ctx, tx, j.Kind, j.ID); notifyErr != nil {
				return notifyErr
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, ErrJobNotReplayable) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrJobNotReplayable
		}
		return nil, err
	}
	return job, nil
}
