// Package retry applies an exponential backoff policy with jitter around
// exchange calls. Only transient venue errors are retried.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sawpanic/densityrun/internal/config"
	"github.com/sawpanic/densityrun/internal/venue"
)

// Policy is a retry schedule: MaxAttempts total calls, delays growing from
// Base to Max, each randomized by +/- Jitter.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      float64
}

// FromConfig converts configured retry settings into a Policy
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		Base:        time.Duration(c.BaseMS) * time.Millisecond,
		Max:         time.Duration(c.MaxMS) * time.Millisecond,
		Jitter:      c.Jitter,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Base
	exp.MaxInterval = p.Max
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Notify is called before each retry with the failed attempt number, its
// error and the wait before the next attempt.
type Notify func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, fails permanently, exhausts the policy or
// ctx is done. It returns the result and the number of attempts made.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), notify Notify) (T, int, error) {
	attempts := 0
	operation := func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err != nil && !venue.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempts, err, wait)
		}
	}

	v, err := backoff.RetryNotifyWithData(operation, p.backOff(ctx), onRetry)
	return v, attempts, err
}
