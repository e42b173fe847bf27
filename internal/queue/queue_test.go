package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/crypto"
	"pos-sync-service/internal/errs"
	"pos-sync-service/internal/storage"
	"pos-sync-service/internal/store"
)

func mustCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher("hunter2", []byte("queue-test"))
	require.NoError(t, err)
	return c
}

func testQueue(t *testing.T, cfg Config) (*Queue, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	if cfg.DrainBackoff == 0 {
		cfg.DrainBackoff = time.Millisecond
	}
	q := New(mem, storage.NewEnvelope(nil), cfg)
	return q, mem
}

// recorder captures the order items were applied in and fails on demand.
type recorder struct {
	mu      sync.Mutex
	applied []string
	fail    func(item *Item) error
}

func (r *recorder) Apply(ctx context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(item); err != nil {
			return err
		}
	}
	r.applied = append(r.applied, item.RecordID)
	return nil
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func enqueue(t *testing.T, q *Queue, recordID string, p Priority) *Item {
	t.Helper()
	item, err := q.Add(context.Background(), Item{
		Collection: store.Orders,
		Operation:  OpCreate,
		RecordID:   recordID,
		Data:       json.RawMessage(`{"id":"` + recordID + `"}`),
		Priority:   p,
	})
	require.NoError(t, err)
	return item
}

func TestAddAssignsIdentity(t *testing.T) {
	q, _ := testQueue(t, Config{})

	item := enqueue(t, q, "order-1", PriorityNormal)
	assert.NotEmpty(t, item.ID)
	assert.NotEmpty(t, item.IdempotencyKey)
	assert.NotEqual(t, item.ID, item.IdempotencyKey)
	assert.False(t, item.EnqueuedAt.IsZero())
	assert.Zero(t, item.RetryCount)
}

func TestDrainOrderPriorityThenFIFO(t *testing.T) {
	q, _ := testQueue(t, Config{})

	enqueue(t, q, "low-1", PriorityLow)
	enqueue(t, q, "normal-1", PriorityNormal)
	enqueue(t, q, "high-1", PriorityHigh)
	enqueue(t, q, "normal-2", PriorityNormal)
	enqueue(t, q, "high-2", PriorityHigh)

	rec := &recorder{}
	q.SetHandler(rec)
	require.NoError(t, q.ProcessQueue(context.Background()))

	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "normal-2", "low-1"}, rec.order())
	assert.Zero(t, q.Size())
}

func TestProcessQueueTwiceIsIdempotent(t *testing.T) {
	q, _ := testQueue(t, Config{})
	enqueue(t, q, "order-1", PriorityNormal)

	rec := &recorder{}
	q.SetHandler(rec)
	require.NoError(t, q.ProcessQueue(context.Background()))
	require.NoError(t, q.ProcessQueue(context.Background()))

	assert.Equal(t, []string{"order-1"}, rec.order())
	assert.Zero(t, q.Size())
}

func TestConcurrentTriggersSingleDrain(t *testing.T) {
	q, _ := testQueue(t, Config{})
	for i := 0; i < 20; i++ {
		enqueue(t, q, "order", PriorityNormal)
	}

	rec := &recorder{}
	q.SetHandler(rec)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.ProcessQueue(context.Background())
		}()
	}
	wg.Wait()

	// Drains may overlap in wall time but every item is applied once.
	assert.Len(t, rec.order(), 20)
	assert.Zero(t, q.Size())
}

func TestRetryableFailureRequeuesThenDeadLetters(t *testing.T) {
	q, _ := testQueue(t, Config{MaxRetryCount: 2})
	enqueue(t, q, "order-1", PriorityNormal)

	rec := &recorder{fail: func(item *Item) error {
		return errs.New(errs.KindNetwork, "connection dropped")
	}}
	q.SetHandler(rec)

	// First drain: one failed attempt, item requeued with retryCount 1.
	require.NoError(t, q.ProcessQueue(context.Background()))
	require.Equal(t, 1, q.Size())
	assert.Empty(t, q.DeadLetters())

	// Second drain reaches MaxRetryCount: dropped to the dead letters.
	require.NoError(t, q.ProcessQueue(context.Background()))
	assert.Zero(t, q.Size())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "order-1", dead[0].Item.RecordID)
	assert.Equal(t, 2, dead[0].Item.RetryCount)
	assert.Contains(t, dead[0].Reason, "max retries")
}

func TestNonRetryableFailureDropsImmediately(t *testing.T) {
	q, _ := testQueue(t, Config{MaxRetryCount: 5})
	enqueue(t, q, "order-1", PriorityNormal)

	rec := &recorder{fail: func(item *Item) error {
		return errs.New(errs.KindInvalidData, "payload failed validation")
	}}
	q.SetHandler(rec)

	require.NoError(t, q.ProcessQueue(context.Background()))
	assert.Zero(t, q.Size())
	require.Len(t, q.DeadLetters(), 1)
	assert.Contains(t, q.DeadLetters()[0].Reason, "non-retryable")
}

func TestCapacityEvictsOldestLowFirst(t *testing.T) {
	q, _ := testQueue(t, Config{MaxSize: 3})

	oldLow := enqueue(t, q, "low-old", PriorityLow)
	enqueue(t, q, "low-new", PriorityLow)
	enqueue(t, q, "normal", PriorityNormal)

	enqueue(t, q, "incoming", PriorityHigh)

	stats := q.Stats()
	assert.Equal(t, 3, stats.Size)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, oldLow.ID, dead[0].Item.ID)
	assert.Contains(t, dead[0].Reason, "capacity")
}

func TestCapacityRejectsWhenNoLowPriority(t *testing.T) {
	q, _ := testQueue(t, Config{MaxSize: 2})

	enqueue(t, q, "normal-1", PriorityNormal)
	enqueue(t, q, "high-1", PriorityHigh)

	_, err := q.Add(context.Background(), Item{
		Collection: store.Orders,
		Operation:  OpCreate,
		RecordID:   "overflow",
		Priority:   PriorityNormal,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindQueueFull, errs.Classify(err).Kind)
	assert.Equal(t, 2, q.Size())
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	q, mem := testQueue(t, Config{})
	enqueue(t, q, "order-1", PriorityHigh)
	enqueue(t, q, "order-2", PriorityNormal)

	// A new queue over the same storage sees the same items.
	restored := New(mem, storage.NewEnvelope(nil), Config{})
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, 2, restored.Size())

	stats := restored.Stats()
	assert.Equal(t, 1, stats.High)
	assert.Equal(t, 1, stats.Normal)
}

func TestLoadDropsExpiredItems(t *testing.T) {
	q, mem := testQueue(t, Config{ItemTTL: time.Hour})
	q.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	enqueue(t, q, "stale", PriorityNormal)

	q.now = time.Now
	enqueue(t, q, "fresh", PriorityNormal)

	restored := New(mem, storage.NewEnvelope(nil), Config{ItemTTL: time.Hour})
	require.NoError(t, restored.Load(context.Background()))

	assert.Equal(t, 1, restored.Size())
	rec := &recorder{}
	restored.SetHandler(rec)
	require.NoError(t, restored.ProcessQueue(context.Background()))
	assert.Equal(t, []string{"fresh"}, rec.order())
}

func TestRemoveAndPrioritize(t *testing.T) {
	q, _ := testQueue(t, Config{})
	a := enqueue(t, q, "a", PriorityNormal)
	b := enqueue(t, q, "b", PriorityNormal)

	ok, err := q.Remove(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Remove(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = q.Prioritize(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, q.Stats().High)
}

func TestOnEnqueueFiresOnlyWhenOnline(t *testing.T) {
	q, _ := testQueue(t, Config{})

	online := false
	triggered := 0
	q.SetOnlineCheck(func() bool { return online })
	q.SetOnEnqueue(func() { triggered++ })

	enqueue(t, q, "offline-add", PriorityNormal)
	assert.Zero(t, triggered)

	online = true
	enqueue(t, q, "online-add", PriorityNormal)
	assert.Equal(t, 1, triggered)
}

func TestEncryptedPersistenceRoundTrip(t *testing.T) {
	mem := storage.NewMemory()
	env := storage.NewEnvelope(mustCipher(t))
	q := New(mem, env, Config{})

	_, err := q.Add(context.Background(), Item{
		Collection: store.MenuItems,
		Operation:  OpUpdate,
		RecordID:   "item-7",
		Data:       json.RawMessage(`{"price":9.5}`),
	})
	require.NoError(t, err)

	restored := New(mem, storage.NewEnvelope(mustCipher(t)), Config{})
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, 1, restored.Size())
}
