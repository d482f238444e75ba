package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressroom/pressroom/internal/domain/model"
	apperrors "github.com/pressroom/pressroom/internal/errors"
)

// DeadLetterRepo reads the dead-letter log. Writes happen inside
// JobRepo.Fail so the job transition and the dead-letter append share a
// transaction; this repo is the operator-facing read side.
type DeadLetterRepo struct {
	DB *sql.DB
}

// NewDeadLetterRepo creates a new DeadLetterRepo.
func NewDeadLetterRepo(db *sql.DB) *DeadLetterRepo {
	return &DeadLetterRepo{DB: db}
}

const deadLetterColumns = `id, job_id, kind, reason, retry_count, dead_lettered_at, replayed_at`

// List returns dead-letter rows, newest first. includeReplayed keeps rows
// whose jobs have already been sent back to the queue.
func (r *DeadLetterRepo) List(ctx context.Context, includeReplayed bool, limit int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letters
	`
	if !includeReplayed {
		query += ` WHERE replayed_at IS NULL`
	}
	query += ` ORDER BY dead_lettered_at DESC LIMIT $1`

	rows, err := r.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	return scanDeadLetters(rows)
}

// ListByJob returns all dead-letter rows for one job, oldest first.
func (r *DeadLetterRepo) ListByJob(ctx context.Context, jobID string) ([]model.DeadLetter, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE job_id = $1
		ORDER BY dead_lettered_at ASC
	`, jobID)
	if badJobID(err) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("list dead letters by job: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	return scanDeadLetters(rows)
}

func scanDeadLetters(rows *sql.Rows) ([]model.DeadLetter, error) {
	var letters []model.DeadLetter
	for rows.Next() {
		var (
			dl         model.DeadLetter
			replayedAt sql.NullTime
		)
		if err := rows.Scan(&dl.ID, &dl.JobID, &dl.Kind, &dl.Reason, &dl.RetryCount, &dl.DeadLetteredAt, &replayedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		dl.ReplayedAt = cloneNullableTime(replayedAt)
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}
