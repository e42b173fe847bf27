package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/conflict"
	"pos-sync-service/internal/errs"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/network"
	"pos-sync-service/internal/notify"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/retry"
	"pos-sync-service/internal/storage"
	"pos-sync-service/internal/store"
)

const cursorKey = "sync_cursor"

// Options controls one sync invocation.
type Options struct {
	Force    bool
	PushOnly bool
	PullOnly bool
	Reason   string
}

// Config tunes the orchestrator's retry behavior.
type Config struct {
	Retry              retry.Options
	NetworkWaitTimeout time.Duration
}

// Deps are the collaborators the orchestrator coordinates. All are
// constructed at the composition root and passed in; the orchestrator
// holds the only logical sync pipeline in the process.
type Deps struct {
	Queue     *queue.Queue
	Resolver  *conflict.Resolver
	Transport Transport
	Registry  *store.Registry
	Retrier   *retry.Orchestrator
	Observer  *network.Observer
	Notifier  notify.Notifier
	Storage   storage.Storage
}

// Orchestrator sequences push/pull cycles and publishes SyncState. All
// triggers (network reconnect, timer, background wake, manual calls)
// funnel through Sync so the single-flight guard is always respected.
type Orchestrator struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex // guards state + subs
	state   State
	subs    map[int]func(newState, prevState State)
	nextSub int

	syncMu sync.Mutex // single sync cycle in flight

	trigger     chan struct{}
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.NetworkWaitTimeout <= 0 {
		cfg.NetworkWaitTimeout = 10 * time.Second
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		state:   State{Status: StatusIdle},
		subs:    make(map[int]func(State, State)),
		trigger: make(chan struct{}, 1),
	}
}

// Start wires the queue and network triggers and launches the trigger
// loop. It must be called once before any sync activity.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.deps.Queue.SetHandler(queue.HandlerFunc(o.applyQueueItem))
	o.deps.Queue.SetOnlineCheck(o.deps.Observer.IsOnline)
	o.deps.Queue.SetOnEnqueue(o.Trigger)

	o.unsubscribe = o.deps.Observer.Subscribe(func(st network.Status) {
		o.setState(func(s *State) { s.IsOnline = st.IsOnline })
		if st.IsOnline {
			logger.Log.Info("Connectivity restored, requesting sync")
			o.Trigger()
		}
	})

	o.setState(func(s *State) { s.IsOnline = o.deps.Observer.IsOnline() })

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-o.trigger:
				if err := o.Sync(runCtx, Options{Reason: "trigger"}); err != nil {
					logger.Log.Error("Triggered sync failed", zap.Error(err))
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Stop prevents new cycles from starting. An in-flight cycle runs to
// completion; there is no mid-flight cancellation.
func (o *Orchestrator) Stop() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Trigger requests a sync cycle without blocking. Coalesces with any
// already-pending request.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// HandleBackgroundWake is the OS background-wake entry point.
func (o *Orchestrator) HandleBackgroundWake(ctx context.Context) error {
	return o.Sync(ctx, Options{Reason: "background_wake"})
}

func (o *Orchestrator) ForceSync(ctx context.Context) error {
	return o.Sync(ctx, Options{Force: true, Reason: "manual"})
}

func (o *Orchestrator) SyncPush(ctx context.Context) error {
	return o.Sync(ctx, Options{PushOnly: true, Reason: "manual_push"})
}

func (o *Orchestrator) SyncPull(ctx context.Context) error {
	return o.Sync(ctx, Options{PullOnly: true, Reason: "manual_pull"})
}

// Sync runs one push/pull cycle. Already-syncing calls are no-ops unless
// forced; offline calls surface a notice and return without a cycle.
func (o *Orchestrator) Sync(ctx context.Context, opts Options) error {
	if !o.deps.Observer.IsOnline() {
		logger.Log.Info("Sync requested while offline", zap.String("reason", opts.Reason))
		notify.Info(o.deps.Notifier, "Offline", "Changes will sync when you're back online")
		o.setState(func(s *State) { s.IsOnline = false })
		return nil
	}

	if opts.Force {
		o.syncMu.Lock()
	} else if !o.syncMu.TryLock() {
		logger.Log.Warn("Sync already in progress, skipping", zap.String("reason", opts.Reason))
		return nil
	}
	defer o.syncMu.Unlock()

	logger.Log.Info("Sync cycle starting", zap.String("reason", opts.Reason))
	o.setState(func(s *State) {
		s.Status = StatusSyncing
		s.LastError = ""
		s.Progress = nil
	})

	err := o.runCycle(ctx, opts)
	if err != nil {
		classified := errs.Classify(err)
		o.setState(func(s *State) {
			s.Status = StatusError
			s.LastError = classified.Error()
			s.Progress = nil
		})
		if classified.Retryable {
			notify.Info(o.deps.Notifier, "Sync Issue", "Sync will retry in the background")
		} else {
			notify.Warn(o.deps.Notifier, "Sync Failed", classified.Message)
		}
		logger.Log.Error("Sync cycle failed",
			zap.String("kind", string(classified.Kind)),
			zap.Bool("retryable", classified.Retryable),
			zap.Error(err),
		)
		return classified
	}

	pending, countErr := o.deps.Registry.CountDirty(ctx)
	if countErr != nil {
		logger.Log.Warn("Failed to count dirty records", zap.Error(countErr))
	}
	now := time.Now().UTC()
	o.setState(func(s *State) {
		s.Status = StatusIdle
		s.LastSyncAt = &now
		s.PendingChanges = pending
		s.Progress = nil
	})
	logger.Log.Info("Sync cycle finished", zap.Int("pendingChanges", pending))
	return nil
}

func (o *Orchestrator) runCycle(ctx context.Context, opts Options) error {
	if !opts.PullOnly {
		if err := o.deps.Queue.ProcessQueue(ctx); err != nil {
			return err
		}
	}
	if !opts.PushOnly {
		if err := o.pullAndApply(ctx); err != nil {
			return err
		}
	}
	return nil
}

// applyQueueItem is the queue drain handler: it validates the payload
// through the collection codec, pushes a single-item batch through the
// circuit breaker, and reflects the ack into the local record store.
func (o *Orchestrator) applyQueueItem(ctx context.Context, item *queue.Item) error {
	if item.Operation != queue.OpDelete {
		codec, err := o.deps.Registry.Codec(item.Collection)
		if err != nil {
			return errs.Wrap(errs.KindClient, "unknown collection", err)
		}
		if _, err := codec.Decode(item.Data); err != nil {
			return errs.Wrap(errs.KindInvalidData, "payload failed validation", err)
		}
	}

	batch := []PushBatch{{
		Collection: item.Collection,
		Items: []PushItem{{
			Operation:      item.Operation,
			RecordID:       item.RecordID,
			Data:           item.Data,
			IdempotencyKey: item.IdempotencyKey,
		}},
	}}

	result := o.deps.Retrier.RetryWithCircuitBreaker(ctx, "push:"+string(item.Collection),
		func(ctx context.Context) (any, error) {
			return o.deps.Transport.Push(ctx, batch)
		}, o.pushRetryOptions())
	if !result.Success {
		return result.Err
	}
	ack := result.Data.(*PushAck)

	repo, err := o.deps.Registry.Get(item.Collection)
	if err != nil {
		return errs.Wrap(errs.KindClient, "unknown collection", err)
	}

	switch item.Operation {
	case queue.OpCreate:
		if serverID, ok := ack.ServerIDs[item.RecordID]; ok {
			if err := repo.SetServerID(ctx, item.RecordID, serverID); err != nil {
				logger.Log.Error("Failed to record server id", zap.Error(err))
			}
		}
		return repo.SetSyncStatus(ctx, item.RecordID, store.StatusSynced)
	case queue.OpUpdate:
		return repo.SetSyncStatus(ctx, item.RecordID, store.StatusSynced)
	default:
		return nil
	}
}

func (o *Orchestrator) pushRetryOptions() retry.Options {
	opts := o.cfg.Retry
	opts.RetryOnNetworkError = true
	if opts.NetworkWaitTimeout <= 0 {
		opts.NetworkWaitTimeout = o.cfg.NetworkWaitTimeout
	}
	return opts
}

func (o *Orchestrator) pullAndApply(ctx context.Context) error {
	since := o.loadCursor(ctx)

	result := o.deps.Retrier.Retry(ctx, func(ctx context.Context) (any, error) {
		return o.deps.Transport.Pull(ctx, since)
	}, o.pushRetryOptions())
	if !result.Success {
		return result.Err
	}
	pull := result.Data.(*PullResult)

	updates, deletes := flatten(pull)
	det, err := o.deps.Resolver.DetectConflicts(ctx, updates, deletes)
	if err != nil {
		return err
	}

	total := len(det.Apply) + len(det.Deletes) + len(det.Conflicts) + len(det.DeleteConflicts)
	current := 0
	step := func(message string) {
		current++
		o.setState(func(s *State) {
			s.Progress = &Progress{Current: current, Total: total, Message: message}
		})
	}

	for _, change := range det.Apply {
		if err := o.applyServerChange(ctx, change); err != nil {
			return err
		}
		step("applying server changes")
	}

	for _, del := range det.Deletes {
		if err := o.applyServerDelete(ctx, del); err != nil {
			return err
		}
		step("applying server deletes")
	}

	resolutions, err := o.deps.Resolver.ResolveConflicts(ctx, det.Conflicts)
	if err != nil {
		return err
	}
	for _, res := range resolutions {
		if err := o.applyResolution(ctx, res); err != nil {
			return err
		}
		step("resolving conflicts")
	}

	for _, dc := range det.DeleteConflicts {
		if err := o.applyDeleteResolution(ctx, dc); err != nil {
			return err
		}
		step("resolving delete conflicts")
	}

	cursor := pull.ServerTime
	if cursor.IsZero() {
		cursor = time.Now().UTC()
	}
	o.saveCursor(ctx, cursor)
	return nil
}

// flatten orders pull changes deterministically by collection name.
func flatten(pull *PullResult) ([]conflict.ServerChange, []conflict.ServerDelete) {
	collections := make([]store.Collection, 0, len(pull.Changes))
	for c := range pull.Changes {
		collections = append(collections, c)
	}
	sort.Slice(collections, func(i, j int) bool { return collections[i] < collections[j] })

	var updates []conflict.ServerChange
	var deletes []conflict.ServerDelete
	for _, c := range collections {
		changes := pull.Changes[c]
		for _, rec := range changes.Created {
			updates = append(updates, conflict.ServerChange{
				Collection: c, ServerID: rec.ServerID, Data: rec.Data, UpdatedAt: rec.UpdatedAt,
			})
		}
		for _, rec := range changes.Updated {
			updates = append(updates, conflict.ServerChange{
				Collection: c, ServerID: rec.ServerID, Data: rec.Data, UpdatedAt: rec.UpdatedAt,
			})
		}
		for _, tomb := range changes.Deleted {
			deletes = append(deletes, conflict.ServerDelete{
				Collection: c, ServerID: tomb.ServerID, DeletedAt: tomb.DeletedAt,
			})
		}
	}
	return updates, deletes
}

func (o *Orchestrator) applyServerChange(ctx context.Context, change conflict.ServerChange) error {
	repo, err := o.deps.Registry.Get(change.Collection)
	if err != nil {
		return err
	}
	existing, err := repo.FindByServerID(ctx, change.ServerID)
	if err != nil {
		return err
	}
	if existing == nil {
		return repo.Create(ctx, &store.Record{
			ID:           change.ServerID,
			ServerID:     change.ServerID,
			Collection:   change.Collection,
			Data:         change.Data,
			SyncStatus:   store.StatusSynced,
			LastModified: change.UpdatedAt,
			UpdatedAt:    change.UpdatedAt,
		})
	}
	return repo.Update(ctx, existing.ID, change.Data, store.StatusSynced)
}

func (o *Orchestrator) applyServerDelete(ctx context.Context, del conflict.ServerDelete) error {
	repo, err := o.deps.Registry.Get(del.Collection)
	if err != nil {
		return err
	}
	existing, err := repo.FindByServerID(ctx, del.ServerID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return repo.MarkDeleted(ctx, existing.ID)
}

func (o *Orchestrator) applyResolution(ctx context.Context, res conflict.Resolution) error {
	repo, err := o.deps.Registry.Get(res.Info.Collection)
	if err != nil {
		return err
	}

	status := store.StatusSynced
	if res.KeepLocal {
		status = store.StatusPending
	}
	if err := repo.Update(ctx, res.Info.LocalID, res.Data, status); err != nil {
		return err
	}

	if res.KeepLocal {
		// The surviving local value diverges from the server: re-queue it.
		if _, err := o.deps.Queue.Add(ctx, queue.Item{
			Collection: res.Info.Collection,
			Operation:  queue.OpUpdate,
			RecordID:   res.Info.LocalID,
			Data:       res.Data,
			Priority:   queue.PriorityHigh,
		}); err != nil {
			return err
		}
	}

	logger.Log.Info("Conflict resolved",
		zap.String("collection", string(res.Info.Collection)),
		zap.String("localId", res.Info.LocalID),
		zap.String("decision", res.Decision),
	)
	return nil
}

func (o *Orchestrator) applyDeleteResolution(ctx context.Context, dc conflict.DeleteInfo) error {
	repo, err := o.deps.Registry.Get(dc.Collection)
	if err != nil {
		return err
	}

	if o.deps.Resolver.ResolveDelete(dc) {
		return repo.MarkDeleted(ctx, dc.LocalID)
	}

	// Local record survives the server delete: re-push it so the backend
	// resurrects the record.
	if err := repo.SetSyncStatus(ctx, dc.LocalID, store.StatusPending); err != nil {
		return err
	}
	_, err = o.deps.Queue.Add(ctx, queue.Item{
		Collection: dc.Collection,
		Operation:  queue.OpUpdate,
		RecordID:   dc.LocalID,
		Data:       dc.LocalData,
		Priority:   queue.PriorityHigh,
	})
	return err
}

func (o *Orchestrator) loadCursor(ctx context.Context) time.Time {
	raw, err := o.deps.Storage.GetString(ctx, cursorKey)
	if err != nil || raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		logger.Log.Warn("Invalid sync cursor, resetting", zap.String("cursor", raw))
		return time.Time{}
	}
	return ts
}

func (o *Orchestrator) saveCursor(ctx context.Context, ts time.Time) {
	if err := o.deps.Storage.SetString(ctx, cursorKey, ts.UTC().Format(time.RFC3339Nano)); err != nil {
		logger.Log.Error("Failed to persist sync cursor", zap.Error(err))
	}
}

// GetState returns an immutable snapshot of the current sync state.
func (o *Orchestrator) GetState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.QueueSize = o.deps.Queue.Size()
	return o.state.display()
}

// Subscribe registers a state listener receiving (new, previous) value
// copies on every change. Returns a disposer.
func (o *Orchestrator) Subscribe(fn func(newState, prevState State)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// setState mutates the state under the lock and publishes copies to
// subscribers outside it. Each subscriber sees a consistent (new, prev)
// pair; no partial states can be observed.
func (o *Orchestrator) setState(mutate func(*State)) {
	o.mu.Lock()
	prev := o.state.display()
	mutate(&o.state)
	o.state.QueueSize = o.deps.Queue.Size()
	next := o.state.display()
	subs := make([]func(State, State), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(next.clone(), prev.clone())
	}
}
