package syncer

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/conflict"
	"pos-sync-service/internal/network"
	"pos-sync-service/internal/notify"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/retry"
	"pos-sync-service/internal/storage"
	"pos-sync-service/internal/store"
)

type fakeTransport struct {
	mu     sync.Mutex
	pushes [][]PushBatch
	pull   *PullResult
}

func (f *fakeTransport) Push(ctx context.Context, batches []PushBatch) (*PushAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, batches)

	serverIDs := make(map[string]string)
	applied := 0
	for _, batch := range batches {
		for _, item := range batch.Items {
			applied++
			if item.Operation == queue.OpCreate {
				serverIDs[item.RecordID] = "srv-" + item.RecordID
			}
		}
	}
	return &PushAck{Applied: applied, ServerIDs: serverIDs}, nil
}

// Pull hands out the staged fixture exactly once; later cycles see an
// empty delta, like a real backend would after the cursor advanced.
func (f *fakeTransport) Pull(ctx context.Context, since time.Time) (*PullResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pull != nil {
		p := f.pull
		f.pull = nil
		return p, nil
	}
	return &PullResult{ServerTime: time.Now().UTC()}, nil
}

func (f *fakeTransport) stagePull(p *PullResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pull = p
}

func (f *fakeTransport) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeTransport) lastPush() []PushBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		return nil
	}
	return f.pushes[len(f.pushes)-1]
}

func (f *fakeTransport) allPushes() [][]PushBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]PushBatch(nil), f.pushes...)
}

type harness struct {
	orch      *Orchestrator
	queue     *queue.Queue
	transport *fakeTransport
	observer  *network.Observer
	registry  *store.Registry
}

func newHarness(t *testing.T, strategy conflict.Strategy) *harness {
	t.Helper()

	registry := store.NewRegistry()
	for _, c := range []store.Collection{store.Orders, store.MenuItems, store.Staff} {
		registry.Register(c, store.NewMemoryRepository(c))
	}

	mem := storage.NewMemory()
	q := queue.New(mem, storage.NewEnvelope(nil), queue.Config{DrainBackoff: time.Millisecond})
	observer := network.NewObserver(5 * time.Millisecond)
	transport := &fakeTransport{}
	retrier := retry.NewOrchestrator(observer, 5, time.Minute)
	resolver := conflict.NewResolver(registry, strategy)
	notifier := notify.NewLogNotifier(8)
	t.Cleanup(notifier.Close)

	orch := New(Config{
		Retry: retry.Options{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		NetworkWaitTimeout: 50 * time.Millisecond,
	}, Deps{
		Queue:     q,
		Resolver:  resolver,
		Transport: transport,
		Registry:  registry,
		Retrier:   retrier,
		Observer:  observer,
		Notifier:  notifier,
		Storage:   mem,
	})

	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	t.Cleanup(func() {
		cancel()
		orch.Stop()
	})

	return &harness{orch: orch, queue: q, transport: transport, observer: observer, registry: registry}
}

func (h *harness) seed(t *testing.T, c store.Collection, id, serverID string, status store.SyncStatus, data string) {
	t.Helper()
	repo, err := h.registry.Get(c)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), &store.Record{
		ID:         id,
		ServerID:   serverID,
		Collection: c,
		Data:       json.RawMessage(data),
		SyncStatus: status,
	}))
}

func TestOfflineEnqueueThenReconnectPushesOnce(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins)

	// Offline: enqueue must not trigger any push.
	_, err := h.queue.Add(context.Background(), queue.Item{
		Collection: store.Orders,
		Operation:  queue.OpCreate,
		RecordID:   "order-1",
		Data:       json.RawMessage(`{"id":"order-1","status":"new","lastModified":100}`),
	})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, h.transport.pushCount())

	h.observer.Report(network.Status{IsOnline: true, Quality: network.QualityGood})

	require.Eventually(t, func() bool {
		return h.transport.pushCount() == 1 && h.queue.Size() == 0
	}, 2*time.Second, 10*time.Millisecond)

	push := h.transport.lastPush()
	require.Len(t, push, 1)
	require.Len(t, push[0].Items, 1)
	assert.Equal(t, "order-1", push[0].Items[0].RecordID)
	assert.NotEmpty(t, push[0].Items[0].IdempotencyKey)

	require.Eventually(t, func() bool {
		return h.orch.GetState().LastSyncAt != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusIdle, h.orch.GetState().Status)
}

func TestTwoOfflineUpdatesApplyInOrder(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins)
	h.seed(t, store.Orders, "order-1", "srv-order-1", store.StatusPending, `{"id":"order-1","status":"new"}`)

	for _, status := range []string{"confirmed", "ready"} {
		_, err := h.queue.Add(context.Background(), queue.Item{
			Collection: store.Orders,
			Operation:  queue.OpUpdate,
			RecordID:   "order-1",
			Data:       json.RawMessage(`{"id":"order-1","status":"` + status + `"}`),
		})
		require.NoError(t, err)
	}

	h.observer.Report(network.Status{IsOnline: true, Quality: network.QualityGood})

	require.Eventually(t, func() bool {
		return h.transport.pushCount() == 2 && h.queue.Size() == 0
	}, 2*time.Second, 10*time.Millisecond)

	last := h.transport.lastPush()
	require.Len(t, last, 1)
	assert.Contains(t, string(last[0].Items[0].Data), `"status":"ready"`)
}

func TestPullAppliesServerChanges(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins)

	h.transport.stagePull(&PullResult{
		Changes: map[store.Collection]CollectionChanges{
			store.Staff: {
				Created: []RemoteRecord{{
					ServerID:  "srv-s1",
					Data:      json.RawMessage(`{"id":"s1","name":"Dana","role":"server","active":true}`),
					UpdatedAt: time.Now().UTC(),
				}},
			},
		},
		ServerTime: time.Now().UTC(),
	})
	h.observer.Report(network.Status{IsOnline: true, Quality: network.QualityGood})

	repo, err := h.registry.Get(store.Staff)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := repo.FindByServerID(context.Background(), "srv-s1")
		return err == nil && rec != nil && rec.SyncStatus == store.StatusSynced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPullConflictMergesAndRequeues(t *testing.T) {
	h := newHarness(t, conflict.Merge)

	// Local price edit, newer than the server's concurrent change.
	h.seed(t, store.MenuItems, "m7", "srv-m7", store.StatusPending,
		`{"id":"m7","name":"Margherita","price":11,"available":true,"lastModified":200}`)

	h.transport.stagePull(&PullResult{
		Changes: map[store.Collection]CollectionChanges{
			store.MenuItems: {
				Updated: []RemoteRecord{{
					ServerID:  "srv-m7",
					Data:      json.RawMessage(`{"id":"m7","name":"Margherita","price":9.5,"available":false,"updatedAt":100}`),
					UpdatedAt: time.UnixMilli(100).UTC(),
				}},
			},
		},
		ServerTime: time.Now().UTC(),
	})
	h.observer.Report(network.Status{IsOnline: true, Quality: network.QualityGood})

	// The newer local price edit survives, the server availability flag
	// is preserved.
	repo, err := h.registry.Get(store.MenuItems)
	require.NoError(t, err)
	var merged store.MenuItem
	require.Eventually(t, func() bool {
		rec, err := repo.Find(context.Background(), "m7")
		if err != nil || rec == nil {
			return false
		}
		return json.Unmarshal(rec.Data, &merged) == nil && merged.Price == 11.0
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, merged.Available)

	// The surviving local value is re-queued and eventually re-pushed.
	require.Eventually(t, func() bool {
		for _, push := range h.transport.allPushes() {
			for _, batch := range push {
				for _, item := range batch.Items {
					if item.RecordID == "m7" && strings.Contains(string(item.Data), `"price":11`) {
						return true
					}
				}
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncWhileOfflineIsNoOp(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins)

	require.NoError(t, h.orch.Sync(context.Background(), Options{Reason: "test"}))
	assert.Zero(t, h.transport.pushCount())
	assert.Equal(t, StatusOffline, h.orch.GetState().Status)
}

func TestStatePublicationDeliversCopies(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins)

	var mu sync.Mutex
	var transitions []Status
	unsubscribe := h.orch.Subscribe(func(newState, prevState State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, newState.Status)
		// Mutating the snapshot must not affect the orchestrator.
		newState.Status = "garbage"
	})
	defer unsubscribe()

	h.observer.Report(network.Status{IsOnline: true, Quality: network.QualityGood})

	seen := func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]Status(nil), transitions...)
	}
	require.Eventually(t, func() bool {
		s := seen()
		var sawSyncing, sawIdle bool
		for _, status := range s {
			sawSyncing = sawSyncing || status == StatusSyncing
			sawIdle = sawIdle || status == StatusIdle
		}
		return sawSyncing && sawIdle
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotEqual(t, Status("garbage"), h.orch.GetState().Status)
}

func TestServerDeleteApplied(t *testing.T) {
	h := newHarness(t, conflict.LastWriteWins)

	h.seed(t, store.Orders, "o1", "srv-o1", store.StatusSynced, `{"id":"o1"}`)
	h.transport.stagePull(&PullResult{
		Changes: map[store.Collection]CollectionChanges{
			store.Orders: {
				Deleted: []RemoteTombstone{{ServerID: "srv-o1", DeletedAt: time.Now().UTC()}},
			},
		},
		ServerTime: time.Now().UTC(),
	})
	h.observer.Report(network.Status{IsOnline: true, Quality: network.QualityGood})

	repo, err := h.registry.Get(store.Orders)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := repo.Find(context.Background(), "o1")
		return err == nil && rec != nil && rec.Deleted
	}, 2*time.Second, 10*time.Millisecond)
}
