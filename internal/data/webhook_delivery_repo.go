package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressroom/pressroom/internal/domain/model"
)

// WebhookDeliveryRepo persists webhook delivery attempts. The log is
// append-only; it exists for operator forensics and never feeds back into
// job state.
type WebhookDeliveryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewWebhookDeliveryRepo creates a new WebhookDeliveryRepo.
func NewWebhookDeliveryRepo(db *sql.DB, tp TimeProvider) *WebhookDeliveryRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &WebhookDeliveryRepo{DB: db, timeProvider: tp}
}

// RecordAttempt appends one delivery attempt.
func (r *WebhookDeliveryRepo) RecordAttempt(ctx context.Context, attempt *model.WebhookDeliveryAttempt) error {
	if attempt == nil {
		return errors.New("attempt is required")
	}
	if attempt.JobID == "" || attempt.URL == "" {
		return errors.New("job id and url are required")
	}

	attemptedAt := attempt.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = r.timeProvider.Now().UTC()
	}

	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries(job_id, attempt, url, http_status, succeeded, error, attempted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`,
		attempt.JobID,
		attempt.Attempt,
		attempt.URL,
		attempt.HTTPStatus,
		attempt.Succeeded,
		attempt.Error,
		attemptedAt,
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("record webhook delivery attempt: %w", err)
	}
	return nil
}

// ListByJob returns all delivery attempts for a job, oldest first.
func (r *WebhookDeliveryRepo) ListByJob(ctx context.Context, jobID string) ([]model.WebhookDeliveryAttempt, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, job_id, attempt, url, http_status, succeeded, error, attempted_at
		FROM webhook_deliveries
		WHERE job_id = $1
		ORDER BY attempted_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var attempts []model.WebhookDeliveryAttempt
	for rows.Next() {
		var (
			a          model.WebhookDeliveryAttempt
			httpStatus sql.NullInt64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.JobID, &a.Attempt, &a.URL, &httpStatus, &a.Succeeded, &errMsg, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		if httpStatus.Valid {
			status := int(httpStatus.Int64)
			a.HTTPStatus = &status
		}
		a.Error = cloneNullableString(errMsg)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook deliveries: %w", err)
	}
	return attempts, nil
}
