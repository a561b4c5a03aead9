package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff for worker spawn attempts.
// Spawning is the only thing retried here: once a worker starts, its outcome
// is judged by the task's status, and stalls go to the operator, never to a
// retry loop.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default spawn retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// spawnGuard wraps subprocess creation with a circuit breaker and jittered
// exponential backoff. Repeated spawn failures (missing binary, fork limits)
// trip the breaker so a broken worker command fails fast instead of melting
// every wave.
type spawnGuard struct {
	cb    *gobreaker.CircuitBreaker
	retry RetryConfig
}

func newSpawnGuard(name string, retry RetryConfig, log zerolog.Logger) *spawnGuard {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("worker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("worker spawn breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// User cancellation is not a worker failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	return &spawnGuard{cb: cb, retry: retry}
}

// spawn runs start with retry and breaker protection.
func (g *spawnGuard) spawn(ctx context.Context, start func() (*run, error)) (*run, error) {
	var out *run

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := g.cb.Execute(func() (interface{}, error) {
			return start()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		out = result.(*run)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.retry.InitialInterval
	policy.MaxInterval = g.retry.MaxInterval
	policy.MaxElapsedTime = g.retry.MaxElapsedTime
	policy.Multiplier = g.retry.Multiplier
	policy.RandomizationFactor = g.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}
