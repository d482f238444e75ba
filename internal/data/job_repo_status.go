package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/pressroom/pressroom/internal/data/pgxutil"
	"github.com/pressroom/pressroom/internal/domain/model"
	apperrors "github.com/pressroom/pressroom/internal/errors"
)

// Stats returns statistics about jobs of the given kind in different states.
func (r *JobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')     AS queued,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    count(*) FILTER (WHERE status = 'cancelled')  AS cancelled
  FROM jobs
  WHERE kind = $1
  `, kind).Scan(
		&s.Queued,
		&s.Processing,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", apperrors.MapDBError(err))
	}
	return &s, nil
}

// QueueDepth returns the number of queued jobs across all kinds. Jobs
// rescheduled into the future still count; they are queued work.
func (r *JobRepo) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM jobs WHERE status = 'queued'
	`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", apperrors.MapDBError(err))
	}
	return depth, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs are available.
func (r *JobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := "job_ready_" + string(kind)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) || badJobID(err) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// QueuePosition returns how many queued jobs would be served before the given
// one. Used for the estimated-completion hint at submission time.
func (r *JobRepo) QueuePosition(ctx context.Context, job *model.Job) (int, error) {
	if job == nil {
		return 0, errors.New("job is required")
	}

	var position int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM jobs
		WHERE kind = $1 AND status = 'queued'
		  AND (priority > $2
		       OR (priority = $2 AND created_at < $3))
	`, job.Kind, job.Priority, job.CreatedAt).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("failed to get queue position: %w", apperrors.MapDBError(err))
	}
	return position, nil
}
