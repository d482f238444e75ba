package job

import (
	"errors"
	"time"

	apperrors "github.com/pressroom/pressroom/internal/errors"
)

// ErrInvalidBackoffBase indicates the configured backoff base is not positive.
var ErrInvalidBackoffBase = errors.New("backoff base must be positive")

// FailureDisposition is the outcome of classifying a handler failure.
type FailureDisposition string

const (
	// DispositionRetry reschedules the job with a backoff delay.
	DispositionRetry FailureDisposition = "retry"
	// DispositionDeadLetter marks the job failed and appends a dead-letter record.
	DispositionDeadLetter FailureDisposition = "dead_letter"
)

// RetryPolicy decides what happens to a job after a handler failure:
// retry with exponential backoff while the error is retryable and budget
// remains, dead-letter otherwise.
type RetryPolicy struct {
	base time.Duration
	cap  time.Duration
}

// NewRetryPolicy constructs a RetryPolicy. cap <= 0 disables the ceiling.
func NewRetryPolicy(base, cap time.Duration) (*RetryPolicy, error) {
	if base <= 0 {
		return nil, ErrInvalidBackoffBase
	}
	return &RetryPolicy{base: base, cap: cap}, nil
}

// FailureDecision captures the outcome of classifying a failure.
type FailureDecision struct {
	Disposition FailureDisposition
	// Delay before the job becomes leasable again. Zero for dead-letter.
	Delay time.Duration
	// Retryable records whether the error itself was retryable, regardless
	// of remaining budget. Used for dead-letter reasons and metrics.
	Retryable bool
}

// Decide classifies err for a job that has already recorded retryCount
// attempts out of maxRetries. The count passed in is the value BEFORE this
// failure is recorded; retryCount < maxRetries means budget remains.
func (p *RetryPolicy) Decide(err error, retryCount, maxRetries int) FailureDecision {
	retryable := apperrors.Retryable(err)
	if !retryable || retryCount >= maxRetries {
		return FailureDecision{Disposition: DispositionDeadLetter, Retryable: retryable}
	}
	return FailureDecision{
		Disposition: DispositionRetry,
		Delay:       p.Backoff(retryCount),
		Retryable:   true,
	}
}

// Backoff returns base * 2^retryCount capped at the configured ceiling.
func (p *RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// Shift saturates well before overflow for any realistic retry budget.
	const maxShift = 32
	if retryCount > maxShift {
		retryCount = maxShift
	}
	d := p.base << uint(retryCount)
	if d <= 0 {
		d = p.cap
	}
	if p.cap > 0 && d > p.cap {
		d = p.cap
	}
	return d
}
