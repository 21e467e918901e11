package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/metrics"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

// ErrProviderUnavailable is returned while the breaker is open and the
// provider is not being called
var ErrProviderUnavailable = errors.New("dataset provider unavailable")

// BreakerConfig configures a circuit breaker around a provider
type BreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold uint32
	// MaxRequests allowed through while half-open
	MaxRequests uint32
	// Interval clears the failure counts while closed (0 never clears)
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration
}

// Breaker stops calling a failing provider until it has had time to recover.
// Provider errors pass through unchanged; an open breaker fails fast with
// ErrProviderUnavailable. Cancellation by the caller is not a failure.
type Breaker struct {
	Provider
	cb *gobreaker.CircuitBreaker[[]models.Record]
}

// BreakerBox is Breaker for providers that also implement BoxProvider
type BreakerBox struct {
	*Breaker
	box BoxProvider
}

// NewBreaker wraps p. The result implements BoxProvider when p does.
func NewBreaker(p Provider, cfg BreakerConfig) Provider {
	b := newBreaker(p, cfg)
	if bp, ok := p.(BoxProvider); ok {
		return &BreakerBox{Breaker: b, box: bp}
	}
	return b
}

func newBreaker(p Provider, cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "provider"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	log := logging.With("breaker")
	gauge := metrics.ProviderBreakerState.WithLabelValues(cfg.Name)
	gauge.Set(float64(gobreaker.StateClosed))

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			gauge.Set(float64(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("provider breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Breaker{
		Provider: p,
		cb:       gobreaker.NewCircuitBreaker[[]models.Record](settings),
	}
}

// GetAll forwards to the wrapped provider unless the breaker is open
func (b *Breaker) GetAll(ctx context.Context) ([]models.Record, error) {
	return b.execute(func() ([]models.Record, error) {
		return b.Provider.GetAll(ctx)
	})
}

// State reports the breaker state: closed, half-open or open
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) execute(fn func() ([]models.Record, error)) ([]models.Record, error) {
	records, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return records, err
}

// Within forwards to the wrapped provider unless the breaker is open
func (b *BreakerBox) Within(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	return b.execute(func() ([]models.Record, error) {
		return b.box.Within(ctx, box)
	})
}
