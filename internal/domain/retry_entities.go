package domain

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy constants from the worker's processing algorithm.
const (
	MaxRetries      = 5
	MaxQuotaRetries = 10

	DefaultRetryBase = 1 * time.Second
	DefaultRetryCap  = 10 * time.Minute
)

// Policy selects which retry budget and backoff a failure is governed by.
type Policy string

const (
	// PolicyDefault governs 5xx, connection errors, and timeouts.
	PolicyDefault Policy = "default"
	// PolicyQuota governs resource-exhaustion and HTTP 429 responses.
	PolicyQuota Policy = "quota"
)

// RetryState travels with a WorkItem on the broker rather than living in an
// external store, so retry decisions survive broker redelivery.
type RetryState struct {
	Attempt int    `json:"attempt"`
	Policy  Policy `json:"policy,omitempty"`
}

// MaxAttempts returns the retry budget for the state's policy.
func (r RetryState) MaxAttempts() int {
	if r.Policy == PolicyQuota {
		return MaxQuotaRetries
	}
	return MaxRetries
}

// Exhausted reports whether the retry budget for this policy has been spent.
func (r RetryState) Exhausted() bool {
	return r.Attempt >= r.MaxAttempts()
}

// NextDelay computes the default-policy backoff delay for attempt.
func NextDelay(attempt int) time.Duration {
	return NextDelayWithConfig(attempt, DefaultRetryBase, DefaultRetryCap)
}

// NextDelayWithConfig computes the attempt'th exponential-backoff-with-jitter
// delay for base/cap, via cenkalti/backoff/v4's ExponentialBackOff interval
// and randomization math, applied here to the re-enqueue delay rather than to
// a blocking retry loop. A fresh BackOff is driven attempt+1 times since
// NextBackOff's internal interval advances one step per call.
func NextDelayWithConfig(attempt int, base, cap time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = cap
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0 // the retry budget is governed by attempt count, not elapsed time
	b.Reset()

	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// FailureClass is the outcome of classifying a failure from a Dispatcher call.
type FailureClass struct {
	Retryable bool
	Policy    Policy
	Reason    string // set when terminal, e.g. "validation_error", "resource_exhaustion"
}

// ClassifyHTTPStatus implements the classification table for HTTP-shaped
// errors returned by the Dispatcher's Execute/CheckCapacity calls.
func ClassifyHTTPStatus(status int) FailureClass {
	switch {
	case status == 429:
		return FailureClass{Retryable: true, Policy: PolicyQuota}
	case status == 408:
		return FailureClass{Retryable: true, Policy: PolicyDefault}
	case status >= 400 && status < 500:
		return FailureClass{Retryable: false, Reason: "validation_error"}
	case status >= 500:
		return FailureClass{Retryable: true, Policy: PolicyDefault}
	default:
		return FailureClass{Retryable: true, Policy: PolicyDefault}
	}
}

// DLQEntry is the shape pushed to the dead-letter queue once a retry budget
// is exhausted.
type DLQEntry struct {
	TaskID        string         `json:"task_id"`
	Name          string         `json:"name"`
	EvaluationID  string         `json:"evaluation_id"`
	Args          map[string]any `json:"args"`
	ExceptionType string         `json:"exception_class"`
	Traceback     string         `json:"traceback"`
	Retries       int            `json:"retries"`
	Metadata      map[string]any `json:"metadata"`
	MovedAt       time.Time      `json:"moved_at"`
}
