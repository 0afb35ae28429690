package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while the breaker rejects provider calls.
var ErrCircuitOpen = errors.New("model provider circuit breaker is open")

type GuardConfig struct {
	// Timeout bounds every provider call. Default 20s.
	Timeout time.Duration
	// RequestsPerSec is the sustained provider call rate. Default 5.
	RequestsPerSec float64
	// MaxFailures consecutive failures open the breaker. Default 3.
	MaxFailures uint32
	// OpenFor is how long the breaker stays open. Default 30s.
	OpenFor time.Duration
}

// Guard bounds provider calls: a rate limiter, a circuit breaker and a
// per-call timeout that surfaces as ErrTimeout.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "model-provider",
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// a missing credential says nothing about provider health
			return err == nil || errors.Is(err, ErrNotConfigured)
		},
	}

	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Guard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
		timeout: cfg.Timeout,
	}
}

// Do runs fn with the guard's deadline applied to ctx.
func Do[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(callCtx); err != nil {
		// Wait fails early when the next token comes after the deadline.
		if errors.Is(ctx.Err(), context.Canceled) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: rate limiter: %v", ErrTimeout, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrCircuitOpen
		}
		return zero, classify(callCtx, err)
	}
	return result.(T), nil
}

// State reports the breaker state: "closed", "open" or "half-open".
func (g *Guard) State() string {
	return g.breaker.State().String()
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrNotConfigured) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
