package retry

import (
	"context"
	"sync"
	"time"
)

// BatchOptions configures RetryBatch. Operations run in windows of
// Concurrency; short-circuit checks happen between windows.
type BatchOptions struct {
	Options
	Concurrency        int
	StopOnFirstSuccess bool
	StopOnFirstError   bool
}

// BatchResult aggregates the per-operation results in input order.
// Operations skipped by a short-circuit carry Skipped=true.
type BatchResult struct {
	Results       []Result
	Succeeded     int
	Failed        int
	Skipped       int
	TotalAttempts int
	TotalDelay    time.Duration
}

// RetryBatch retries N independent operations with bounded concurrency.
func (r *Orchestrator) RetryBatch(ctx context.Context, ops []Operation, opts BatchOptions) BatchResult {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	out := BatchResult{Results: make([]Result, len(ops))}
	stopped := false

	for start := 0; start < len(ops); start += concurrency {
		if stopped {
			for i := start; i < len(ops); i++ {
				out.Results[i] = Result{Skipped: true}
			}
			break
		}

		end := start + concurrency
		if end > len(ops) {
			end = len(ops)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out.Results[i] = r.Retry(ctx, ops[i], opts.Options)
			}(i)
		}
		wg.Wait()

		for i := start; i < end; i++ {
			if out.Results[i].Success {
				if opts.StopOnFirstSuccess {
					stopped = true
				}
			} else if opts.StopOnFirstError {
				stopped = true
			}
		}
	}

	for _, res := range out.Results {
		out.TotalAttempts += res.Attempts
		out.TotalDelay += res.TotalDelay
		switch {
		case res.Skipped:
			out.Skipped++
		case res.Success:
			out.Succeeded++
		default:
			out.Failed++
		}
	}
	return out
}
