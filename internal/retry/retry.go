// Package retry holds the single retry policy applied to every remote call
// the pipeline makes: page fetches and embedding requests.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

// Policy is exponential backoff with jitter and an attempt cap.
type Policy struct {
	// MaxAttempts includes the first attempt. Values below 1 mean 1.
	MaxAttempts int

	// InitialInterval is the delay before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps a single delay.
	MaxInterval time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter is the randomisation factor in [0, 1].
	Jitter float64
}

// Default returns the policy used when nothing is configured:
// three attempts, starting at 500ms and doubling.
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// FromSettings builds a policy from retry settings, keeping defaults for
// unset fields.
func FromSettings(s domain.RetrySettings) Policy {
	p := Default()
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	if s.InitialInterval > 0 {
		p.InitialInterval = s.InitialInterval
	}
	if s.MaxInterval > 0 {
		p.MaxInterval = s.MaxInterval
	}
	return p
}

// Permanent marks err as not worth retrying. Do returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Do runs op until it succeeds, returns a permanent error, the attempt cap
// is reached, or ctx is done. It returns the number of attempts made and
// the last error.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		return op(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("retry %s: attempt %d failed (%v), waiting %s", name, attempts, err, wait)
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	return attempts, err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}
