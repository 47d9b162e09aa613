package webhook

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Job is one queued notification. Attempt counts failed deliveries.
type Job struct {
	ID          string        `json:"id"`
	MerchantID  string        `json:"merchant_id"`
	Payload     Payload       `json:"payload"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
}

func (j Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// NextDelay is the wait before the next attempt: base, 2*base, 4*base, ...
func (j Job) NextDelay() time.Duration {
	if j.Attempt <= 1 {
		return j.BackoffBase
	}
	return j.BackoffBase << uint(j.Attempt-1)
}

// RetryPolicy is stamped onto every job at enqueue time.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func (p RetryPolicy) NewJob(merchantID string, payload Payload) Job {
	return Job{
		ID:          uuid.NewString(),
		MerchantID:  merchantID,
		Payload:     payload,
		MaxAttempts: p.MaxAttempts,
		BackoffBase: p.BackoffBase,
		EnqueuedAt:  time.Now(),
	}
}

// backOff yields exactly the NextDelay schedule for a job's remaining retries.
func (j Job) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = j.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	retries := j.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}
