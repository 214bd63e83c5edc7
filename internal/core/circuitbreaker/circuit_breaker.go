package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/metrics"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings tunes when the breaker trips and how long it stays open.
type Settings struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
	// Benign errors are returned to the caller but do not count as failures.
	Benign func(error) bool
}

// DefaultSettings trips after 3 requests with at least 60% failures.
var DefaultSettings = Settings{
	MinRequests:  3,
	FailureRatio: 0.6,
	OpenTimeout:  30 * time.Second,
}

// CircuitBreaker guards calls to a best-effort dependency. A caller whose
// own context ends is never counted against the dependency.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(name string) *CircuitBreaker {
	return NewWithSettings(name, DefaultSettings)
}

func NewWithSettings(name string, s Settings) *CircuitBreaker {
	metrics.SetBreakerState(name, int(gobreaker.StateClosed))

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return s.Benign != nil && s.Benign(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})}
}

// Execute runs fn unless the breaker is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := cb.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.cb.State()
}
