package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/asteroid-belt/trophysync/internal/log"
	"github.com/asteroid-belt/trophysync/internal/metrics"
)

// BreakerConfig configures a BreakerClient. Zero values take defaults.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // concurrent probes while half-open
	Interval     time.Duration // count reset window while closed
	Timeout      time.Duration // open -> half-open delay
	MinRequests  uint32        // requests needed before tripping
	FailureRatio float64       // trip threshold
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Name == "" {
		c.Name = "steam-api"
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MinRequests == 0 {
		c.MinRequests = 10
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.6
	}
	return c
}

// BreakerClient wraps a Client with a circuit breaker. Only transport
// failures count against the breaker; API rejections are the caller's
// problem, not the provider's health.
type BreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

var _ Client = (*BreakerClient)(nil)

// NewBreakerClient wraps client with a circuit breaker.
func NewBreakerClient(client Client, cfg BreakerConfig) *BreakerClient {
	cfg = cfg.withDefaults()
	name := cfg.Name

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				log.Warn().Str("breaker", name).Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).Msg("opening circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},

		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransport(err)
		},
	})

	return &BreakerClient{client: client, cb: cb, name: name}
}

// State returns the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			log.Debug().Str("breaker", b.name).Str("op", op).Msg("request rejected")
			// Rejections are retryable once the breaker recovers.
			return nil, &TransportError{Op: op, Err: err}
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// castResult type-asserts a breaker result.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (b *BreakerClient) ListOwnedGames(ctx context.Context, accountID string) ([]GameSummary, error) {
	return castResult[[]GameSummary](b.execute("owned_games", func() (interface{}, error) {
		return b.client.ListOwnedGames(ctx, accountID)
	}))
}

func (b *BreakerClient) ListUserAchievements(ctx context.Context, accountID string, appID int64) ([]AchievementState, error) {
	return castResult[[]AchievementState](b.execute("player_achievements", func() (interface{}, error) {
		return b.client.ListUserAchievements(ctx, accountID, appID)
	}))
}

func (b *BreakerClient) GetGlobalPercentages(ctx context.Context, appID int64) (map[string]float64, error) {
	return castResult[map[string]float64](b.execute("global_percentages", func() (interface{}, error) {
		return b.client.GetGlobalPercentages(ctx, appID)
	}))
}

func (b *BreakerClient) GetSchema(ctx context.Context, appID int64) ([]AchievementDef, error) {
	return castResult[[]AchievementDef](b.execute("schema", func() (interface{}, error) {
		return b.client.GetSchema(ctx, appID)
	}))
}
