package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/telemetry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// RetryConfig defines retry behavior for remote registry calls
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableStatus []int
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		BackoffFactor:   2.0,
		RetryableStatus: []int{http.StatusTooManyRequests, 500, 502, 503, 504},
	}
}

// Retrying decorates a Remote with a client-side rate limit and retries
// with exponential backoff. Failures are wrapped in registry.ErrRemote.
type Retrying struct {
	next    Remote
	cfg     RetryConfig
	limiter *rate.Limiter
}

// NewRetrying wraps next. requestsPerSecond <= 0 disables the limiter.
func NewRetrying(next Remote, cfg RetryConfig, requestsPerSecond float64) *Retrying {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Retrying{next: next, cfg: cfg, limiter: rate.NewLimiter(limit, 1)}
}

func (r *Retrying) List(ctx context.Context, tenant api.Snowflake) ([]Registered, error) {
	var out []Registered
	err := r.do(ctx, "list", tenant, func(ctx context.Context) (err error) {
		out, err = r.next.List(ctx, tenant)
		return err
	})
	return out, err
}

func (r *Retrying) Create(ctx context.Context, tenant api.Snowflake, cmd *registry.Command) (Registered, error) {
	var out Registered
	err := r.do(ctx, "create", tenant, func(ctx context.Context) (err error) {
		out, err = r.next.Create(ctx, tenant, cmd)
		return err
	})
	return out, err
}

func (r *Retrying) Delete(ctx context.Context, tenant api.Snowflake, commandID string) error {
	return r.do(ctx, "delete", tenant, func(ctx context.Context) error {
		return r.next.Delete(ctx, tenant, commandID)
	})
}

func (r *Retrying) do(ctx context.Context, op string, tenant api.Snowflake, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = fn(ctx)
		telemetry.RemoteOperations.WithLabelValues(op, telemetry.Outcome(lastErr)).Inc()
		if lastErr == nil {
			return nil
		}
		if !r.shouldRetry(lastErr) || attempt == r.cfg.MaxRetries {
			break
		}

		delay := r.calculateDelay(attempt)
		log.Warn().
			Err(lastErr).
			Str("op", op).
			Str("tenant", tenant.String()).
			Int("attempt", attempt+1).
			Int("max_retries", r.cfg.MaxRetries).
			Dur("delay", delay).
			Msg("remote command call failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if errors.Is(lastErr, registry.ErrRemote) {
		return lastErr
	}
	return fmt.Errorf("%w: %s: %w", registry.ErrRemote, op, lastErr)
}

// shouldRetry retries listed statuses and transport errors without a status.
func (r *Retrying) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return true
	}
	for _, code := range r.cfg.RetryableStatus {
		if se.Status == code {
			return true
		}
	}
	return false
}

// calculateDelay calculates exponential backoff delay with jitter
func (r *Retrying) calculateDelay(attempt int) time.Duration {
	delay := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.BackoffFactor, float64(attempt))

	// +/-25% jitter
	delay += delay * 0.25 * (2*rand.Float64() - 1)

	if delay > float64(r.cfg.MaxDelay) {
		delay = float64(r.cfg.MaxDelay)
	}
	return time.Duration(delay)
}
