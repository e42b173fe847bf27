package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/errs"
	"pos-sync-service/internal/logger"
)

type circuit struct {
	isOpen              bool
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// CircuitSnapshot is the observable state of one breaker.
type CircuitSnapshot struct {
	IsOpen              bool
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// RetryWithCircuitBreaker wraps Retry with a breaker keyed by operation
// identity. While open and within the cooldown it fails fast without
// invoking the operation; after the cooldown exactly one trial runs
// half-open. Any success resets the breaker.
func (r *Orchestrator) RetryWithCircuitBreaker(ctx context.Context, key string, op Operation, opts Options) Result {
	r.mu.Lock()
	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{}
		r.circuits[key] = c
	}
	if c.isOpen {
		if r.now().Sub(c.openedAt) < r.circuitTimeout || c.probing {
			r.mu.Unlock()
			return Result{
				Success: false,
				Err:     errs.New(errs.KindServer, "circuit open for "+key),
			}
		}
		// Half-open: let exactly one trial through.
		c.probing = true
	}
	r.mu.Unlock()

	result := r.Retry(ctx, op, opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	c.probing = false
	if result.Success {
		c.isOpen = false
		c.consecutiveFailures = 0
		return result
	}

	c.consecutiveFailures++
	if c.isOpen || c.consecutiveFailures >= r.circuitThreshold {
		c.isOpen = true
		c.openedAt = r.now()
		logger.Log.Warn("Circuit opened",
			zap.String("key", key),
			zap.Int("consecutiveFailures", c.consecutiveFailures),
		)
	}
	return result
}

// Circuit returns a snapshot of the breaker for key, if one exists.
func (r *Orchestrator) Circuit(key string) (CircuitSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[key]
	if !ok {
		return CircuitSnapshot{}, false
	}
	return CircuitSnapshot{
		IsOpen:              c.isOpen,
		ConsecutiveFailures: c.consecutiveFailures,
		OpenedAt:            c.openedAt,
	}, true
}
