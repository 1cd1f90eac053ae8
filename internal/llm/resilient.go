package llm

import (
	"context"
	"log/slog"

	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/pkg/schema"
)

// ResilientGenerator decorates a Generator with retries and a circuit breaker.
type ResilientGenerator struct {
	next    Generator
	policy  RetryPolicy
	breaker *CircuitBreaker
	hub     streaming.EventHub
	logger  *slog.Logger
}

// NewResilientGenerator wraps next. hub may be nil; when set, breaker
// transitions are published on it.
func NewResilientGenerator(next Generator, policy RetryPolicy, breaker *CircuitBreaker, hub streaming.EventHub, logger *slog.Logger) *ResilientGenerator {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientGenerator{next: next, policy: policy, breaker: breaker, hub: hub, logger: logger}
}

// Breaker exposes the circuit breaker for status reporting.
func (r *ResilientGenerator) Breaker() *CircuitBreaker {
	return r.breaker
}

// Generate implements Generator.
func (r *ResilientGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := WaitForBackoff(ctx, ComputeBackoff(r.policy, attempt-1)); err != nil {
				return "", err
			}
		}

		if err := r.breaker.Allow(); err != nil {
			return "", err
		}

		out, err := r.next.Generate(ctx, prompt)
		if err == nil {
			if r.breaker.State() != CircuitClosed {
				r.publish(ctx, schema.EventCircuitBreakerClose)
			}
			r.breaker.RecordSuccess()
			return out, nil
		}

		lastErr = err
		if r.breaker.RecordFailure() == CircuitOpen {
			r.logger.WarnContext(ctx, "generation circuit opened", "error", err)
			r.publish(ctx, schema.EventCircuitBreakerOpen)
		}
		if !IsRetryableError(err) {
			return "", err
		}
		r.logger.DebugContext(ctx, "generation failed, retrying", "attempt", attempt+1, "error", err)
	}

	if r.policy.MaxAttempts == 1 {
		return "", lastErr
	}
	return "", schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"generation failed after %d attempts", r.policy.MaxAttempts).WithCause(lastErr)
}

func (r *ResilientGenerator) publish(ctx context.Context, eventType string) {
	if r.hub == nil {
		return
	}
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		Topic:     streaming.TopicUpstream,
		EventType: eventType,
		Payload:   r.breaker.Stats(),
	})
}
