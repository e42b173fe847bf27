package queue

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/errs"
	"pos-sync-service/internal/logger"
)

// ProcessQueue performs one drain: items are processed in priority order,
// FIFO within a priority, each attempted at most once per drain. If a
// drain is already active the call is a no-op, not a queued wait — the
// TryLock is the mutual exclusion the whole sync core relies on, so two
// near-simultaneous triggers can never both start draining.
func (q *Queue) ProcessQueue(ctx context.Context) error {
	if !q.drainMu.TryLock() {
		logger.Log.Debug("Drain already in progress, skipping")
		return nil
	}
	defer q.drainMu.Unlock()

	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()
	if handler == nil {
		logger.Log.Warn("ProcessQueue called without a handler")
		return nil
	}

	attempted := make(map[string]bool)
	processed, failed := 0, 0

	for {
		item := q.takeNext(attempted)
		if item == nil {
			break
		}

		err := handler.Apply(ctx, item)
		if err == nil {
			if _, rmErr := q.Remove(ctx, item.ID); rmErr != nil {
				logger.Log.Error("Failed to persist queue after success", zap.Error(rmErr))
			}
			processed++
			continue
		}

		failed++
		attempted[item.ID] = true
		classified := errs.Classify(err)

		if !classified.Retryable {
			q.dropItem(ctx, item.ID, "non-retryable: "+classified.Error())
			continue
		}

		retries := q.bumpRetry(ctx, item.ID)
		if retries < 0 {
			continue // removed concurrently
		}
		if retries >= q.cfg.MaxRetryCount {
			q.dropItem(ctx, item.ID, "max retries exhausted")
			continue
		}

		logger.Log.Debug("Queue item failed, requeued",
			zap.String("id", item.ID),
			zap.Int("retryCount", retries),
			zap.Error(err),
		)

		backoff := time.Duration(retries) * q.cfg.DrainBackoff
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
	}

	if processed > 0 || failed > 0 {
		logger.Log.Info("Drain finished",
			zap.Int("processed", processed),
			zap.Int("failed", failed),
			zap.Int("remaining", q.Size()),
		)
	}
	return nil
}

// takeNext returns a copy of the highest-priority unattempted item, or
// nil when the drain pass is complete.
func (q *Queue) takeNext(attempted map[string]bool) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sortLocked()
	for _, item := range q.items {
		if !attempted[item.ID] {
			cp := *item
			return &cp
		}
	}
	return nil
}

// sortLocked applies the drain order: priority rank ascending, then FIFO
// by enqueue time. The sort is stable so equal keys keep insert order.
func (q *Queue) sortLocked() {
	items := q.items
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
}

// bumpRetry increments the item's retry count and moves it to the tail
// of the queue. Returns the new count, or -1 if the item vanished.
func (q *Queue) bumpRetry(ctx context.Context, id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			item.RetryCount++
			q.items = append(append(q.items[:i], q.items[i+1:]...), item)
			if err := q.persistLocked(ctx); err != nil {
				logger.Log.Error("Failed to persist queue after retry bump", zap.Error(err))
			}
			return item.RetryCount
		}
	}
	return -1
}

func (q *Queue) dropItem(ctx context.Context, id, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			q.deadLetterLocked(*item, reason)
			q.items = append(q.items[:i], q.items[i+1:]...)
			if err := q.persistLocked(ctx); err != nil {
				logger.Log.Error("Failed to persist queue after drop", zap.Error(err))
			}
			logger.Log.Warn("Dropped queue item",
				zap.String("id", id),
				zap.String("reason", reason),
			)
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
