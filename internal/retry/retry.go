package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/errs"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/network"
)

// Operation is a single retryable unit of work.
type Operation func(ctx context.Context) (any, error)

// Options configures one Retry invocation. Zero values fall back to the
// defaults in withDefaults.
type Options struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	BackoffFactor       float64
	Jitter              bool
	RetryCondition      func(error) bool
	OnRetryAttempt      func(attempt int, err error, delay time.Duration)
	RetryOnNetworkError bool
	NetworkWaitTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = 2
	}
	if o.RetryCondition == nil {
		o.RetryCondition = DefaultRetryCondition
	}
	if o.NetworkWaitTimeout <= 0 {
		o.NetworkWaitTimeout = 10 * time.Second
	}
	return o
}

// Result is the outcome of a retried operation. Callers branch on
// Success; failures are never surfaced as panics.
type Result struct {
	Success    bool
	Data       any
	Err        error
	Attempts   int
	TotalDelay time.Duration
	Skipped    bool
}

// DefaultRetryCondition retries network-ish, rate-limit, and 5xx-class
// failures. Auth and validation errors are never retried.
func DefaultRetryCondition(err error) bool {
	return errs.IsRetryable(err)
}

// Orchestrator executes operations with bounded retry, exponential
// backoff, and a per-key circuit breaker.
type Orchestrator struct {
	observer *network.Observer

	mu       sync.Mutex
	rng      *rand.Rand
	circuits map[string]*circuit

	circuitThreshold int
	circuitTimeout   time.Duration
	now              func() time.Time
}

func NewOrchestrator(observer *network.Observer, circuitThreshold int, circuitTimeout time.Duration) *Orchestrator {
	if circuitThreshold <= 0 {
		circuitThreshold = 5
	}
	if circuitTimeout <= 0 {
		circuitTimeout = time.Minute
	}
	return &Orchestrator{
		observer:         observer,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		circuits:         make(map[string]*circuit),
		circuitThreshold: circuitThreshold,
		circuitTimeout:   circuitTimeout,
		now:              time.Now,
	}
}

// Retry runs op up to MaxAttempts times. The first success wins; a
// failed attempt is retried only while RetryCondition holds.
func (r *Orchestrator) Retry(ctx context.Context, op Operation, opts Options) Result {
	opts = opts.withDefaults()

	var result Result
	for result.Attempts < opts.MaxAttempts {
		if opts.RetryOnNetworkError && r.observer != nil && !r.observer.IsOnline() {
			// The attempt proceeds even when the wait times out.
			_ = r.observer.WaitForConnection(ctx, opts.NetworkWaitTimeout)
		}

		data, err := op(ctx)
		result.Attempts++
		if err == nil {
			result.Success = true
			result.Data = data
			return result
		}
		result.Err = err

		if !opts.RetryCondition(err) || result.Attempts >= opts.MaxAttempts {
			return result
		}

		delay := r.backoffDelay(result.Attempts, opts)
		if opts.OnRetryAttempt != nil {
			opts.OnRetryAttempt(result.Attempts, err, delay)
		}
		logger.Log.Debug("Retrying operation",
			zap.Int("attempt", result.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		result.TotalDelay += delay
		if err := sleep(ctx, delay); err != nil {
			result.Err = err
			return result
		}
	}
	return result
}

func (r *Orchestrator) backoffDelay(attempt int, opts Options) time.Duration {
	d := float64(opts.BaseDelay) * math.Pow(opts.BackoffFactor, float64(attempt-1))
	if d > float64(opts.MaxDelay) {
		d = float64(opts.MaxDelay)
	}
	if opts.Jitter {
		r.mu.Lock()
		// ±20%
		d *= 0.8 + 0.4*r.rng.Float64()
		r.mu.Unlock()
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
