package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/itemcf/internal/config"
	"github.com/temcen/itemcf/pkg/models"
)

// sourceBreaker guards one external source. Any failure, including a
// rejected call while the circuit is open, surfaces as ErrSourceUnavailable.
type sourceBreaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

func newSourceBreaker[T any](name string, cfg config.CircuitBreakerConfig, metrics *Metrics, logger *logrus.Logger) *sourceBreaker[T] {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 3
	}

	metrics.SetBreakerState(name, breakerStateValue(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Cancellation by the caller says nothing about the source's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"source": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("Source circuit breaker state changed")
			metrics.SetBreakerState(name, breakerStateValue(to))
		},
	})

	return &sourceBreaker[T]{name: name, cb: cb}
}

func (b *sourceBreaker[T]) call(fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w: %w", b.name, ErrSourceUnavailable, err)
	}
	return result, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// GuardedProductSource wraps a ProductSource with a circuit breaker.
type GuardedProductSource struct {
	next    ProductSource
	breaker *sourceBreaker[[]models.Product]
}

func NewGuardedProductSource(next ProductSource, cfg config.CircuitBreakerConfig, metrics *Metrics, logger *logrus.Logger) *GuardedProductSource {
	return &GuardedProductSource{
		next:    next,
		breaker: newSourceBreaker[[]models.Product]("products", cfg, metrics, logger),
	}
}

func (g *GuardedProductSource) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	return g.breaker.call(func() ([]models.Product, error) {
		return g.next.ListActiveProducts(ctx)
	})
}

// GuardedInteractionSource wraps an InteractionSource with a circuit breaker.
type GuardedInteractionSource struct {
	next    InteractionSource
	breaker *sourceBreaker[[]models.InteractionEvent]
}

func NewGuardedInteractionSource(next InteractionSource, cfg config.CircuitBreakerConfig, metrics *Metrics, logger *logrus.Logger) *GuardedInteractionSource {
	return &GuardedInteractionSource{
		next:    next,
		breaker: newSourceBreaker[[]models.InteractionEvent]("interactions", cfg, metrics, logger),
	}
}

func (g *GuardedInteractionSource) ListInteractionEvents(ctx context.Context) ([]models.InteractionEvent, error) {
	return g.breaker.call(func() ([]models.InteractionEvent, error) {
		return g.next.ListInteractionEvents(ctx)
	})
}

// GuardedActivitySource wraps a RecentActivitySource with a circuit breaker.
type GuardedActivitySource struct {
	next    RecentActivitySource
	breaker *sourceBreaker[[]int64]
}

func NewGuardedActivitySource(next RecentActivitySource, cfg config.CircuitBreakerConfig, metrics *Metrics, logger *logrus.Logger) *GuardedActivitySource {
	return &GuardedActivitySource{
		next:    next,
		breaker: newSourceBreaker[[]int64]("recent_activity", cfg, metrics, logger),
	}
}

func (g *GuardedActivitySource) RecentActivity(ctx context.Context, userID int64, limit int) ([]int64, error) {
	return g.breaker.call(func() ([]int64, error) {
		return g.next.RecentActivity(ctx, userID, limit)
	})
}
