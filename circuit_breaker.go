package meterd

import (
	"log/slog"
	"time"

	"github.com/gasmeter/meterd/store"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards access to one state field. Once a field keeps
// failing the breaker opens and requests for it are answered with an error
// without touching the file, until the breaker lets a probe through.
//
// *gobreaker.CircuitBreaker[string] implements it.
type CircuitBreaker interface {
	Execute(req func() (string, error)) (string, error)
	State() gobreaker.State
}

// CircuitBreakerState is the state of a field's circuit breaker.
type CircuitBreakerState = gobreaker.State

// NewCircuitBreakerConfig returns a function that creates circuit breakers
// for the state fields. A breaker trips once it has seen at least 3 requests
// in the interval and 60% of them failed. State changes are logged to
// logger when it is not nil.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration, logger *slog.Logger) func(store.Field) CircuitBreaker {
	return func(field store.Field) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        field.String(),
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		if logger != nil {
			settings.OnStateChange = func(name string, from, to gobreaker.State) {
				logger.Warn("meterd: circuit breaker state changed", "field", name, "from", from.String(), "to", to.String())
			}
		}
		return gobreaker.NewCircuitBreaker[string](settings)
	}
}
