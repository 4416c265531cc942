package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Francosimon53/secureagent-sub018/internal/domain"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig tunes BreakerChannelManager. Zero fields use defaults.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// BreakerChannelManager fails fast with domain.ErrStoreUnavailable while the
// wrapped ChannelManager keeps failing, instead of stalling every route call.
type BreakerChannelManager struct {
	inner   domain.ChannelManager
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerChannelManager wraps inner with a circuit breaker.
func NewBreakerChannelManager(inner domain.ChannelManager, cfg BreakerConfig, logger *slog.Logger) *BreakerChannelManager {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "channel-store",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Caller cancellation says nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &BreakerChannelManager{inner: inner, breaker: cb}
}

func (b *BreakerChannelManager) StoreMessage(ctx context.Context, msg domain.AgentMessage) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.inner.StoreMessage(ctx, msg)
	})
	return b.translate("ChannelManager.StoreMessage", err)
}

func (b *BreakerChannelManager) GetParticipants(ctx context.Context, channelID string) ([]string, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		return b.inner.GetParticipants(ctx, channelID)
	})
	if err != nil {
		return nil, b.translate("ChannelManager.GetParticipants", err)
	}
	ids, _ := res.([]string)
	return ids, nil
}

// State reports the breaker state ("closed", "half-open" or "open").
func (b *BreakerChannelManager) State() string {
	return b.breaker.State().String()
}

func (b *BreakerChannelManager) translate(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewSubSystemError(domain.SubSystemStore, op, domain.ErrStoreUnavailable, err.Error())
	}
	return err
}
