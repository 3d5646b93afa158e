// Package retry wraps bounded exponential backoff for remote calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Policy bounds how often and how patiently a failing call is retried.
type Policy struct {
	MaxRetries      uint64        `yaml:"maxRetries" json:"maxRetries"`
	InitialInterval time.Duration `yaml:"initialInterval" json:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval" json:"maxInterval"`
}

// DefaultPolicy is used for idempotent reads and branch cleanup.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// AtMost returns a copy of the policy whose retry budget does not exceed n. A
// policy that never retries keeps doing so.
func (p Policy) AtMost(n uint64) Policy {
	p.MaxRetries = min(p.MaxRetries, n)
	return p
}

// Do runs op until it succeeds, returns an error rejected by retryable, or the
// retry budget is spent. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		zerolog.Ctx(ctx).Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying after transient error")
	})
}
