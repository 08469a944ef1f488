package router

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// breakerRegistry hands out one gobreaker.CircuitBreaker per venue,
// lazily created on first use, grounded on the teacher's
// CircuitBreakerFactory get-or-create pattern
// (internal/architecture/fx/resilience/circuit_breaker.go) but pared
// to what the router needs: an open breaker fails fast with
// ErrVenue without attempting the network call (spec §4.G "additions").
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings gobreaker.Settings
	logger   *zap.Logger
}

func newBreakerRegistry(maxRequests uint32, interval, timeout time.Duration, logger *zap.Logger) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: gobreaker.Settings{
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 10 && failureRatio >= 0.5
			},
		},
		logger: logger,
	}
}

func (b *breakerRegistry) breakerFor(venue string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[venue]; ok {
		return cb
	}
	settings := b.settings
	settings.Name = venue
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		b.logger.Warn("venue circuit breaker state change",
			zap.String("venue", name), zap.String("from", from.String()), zap.String("to", to.String()))
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	b.breakers[venue] = cb
	return cb
}
