package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-service/internal/errs"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/storage"
	"pos-sync-service/internal/store"
)

// Operation is the kind of pending local mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Priority orders queue processing. Lower rank drains first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Item is one pending mutation awaiting transmission. The idempotency
// key travels with every push attempt so the backend can dedupe a
// retried create after a partial success.
type Item struct {
	ID             string           `json:"id"`
	Collection     store.Collection `json:"collection"`
	Operation      Operation        `json:"operation"`
	RecordID       string           `json:"recordId"`
	Data           json.RawMessage  `json:"data,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey"`
	EnqueuedAt     time.Time        `json:"enqueuedAt"`
	RetryCount     int              `json:"retryCount"`
	Priority       Priority         `json:"priority"`
}

// Handler executes an item's effect against the backend.
type Handler interface {
	Apply(ctx context.Context, item *Item) error
}

type HandlerFunc func(ctx context.Context, item *Item) error

func (f HandlerFunc) Apply(ctx context.Context, item *Item) error { return f(ctx, item) }

// DeadLetter is an item dropped from the active queue, retained only for
// diagnostic inspection.
type DeadLetter struct {
	Item      Item      `json:"item"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"droppedAt"`
}

type Config struct {
	MaxSize         int
	MaxRetryCount   int
	ItemTTL         time.Duration
	DrainBackoff    time.Duration
	DeadLetterLimit int
	StorageKey      string
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.MaxRetryCount <= 0 {
		c.MaxRetryCount = 5
	}
	if c.ItemTTL <= 0 {
		c.ItemTTL = 7 * 24 * time.Hour
	}
	if c.DrainBackoff <= 0 {
		c.DrainBackoff = time.Second
	}
	if c.DeadLetterLimit <= 0 {
		c.DeadLetterLimit = 50
	}
	if c.StorageKey == "" {
		c.StorageKey = "mutation_queue"
	}
	return c
}

// Queue is the durable, priority-ordered mutation queue. Every change to
// the in-memory slice is persisted through the storage envelope before
// the mutating call returns.
type Queue struct {
	mu      sync.Mutex // guards items, dead, persistence
	drainMu sync.Mutex // single active drain

	items []*Item
	dead  []DeadLetter

	storage  storage.Storage
	envelope *storage.Envelope
	cfg      Config

	handler   Handler
	isOnline  func() bool
	onEnqueue func()
	now       func() time.Time
}

func New(st storage.Storage, envelope *storage.Envelope, cfg Config) *Queue {
	return &Queue{
		storage:  st,
		envelope: envelope,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// SetHandler installs the effect executor used by ProcessQueue.
func (q *Queue) SetHandler(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// SetOnlineCheck installs the connectivity probe consulted after Add.
func (q *Queue) SetOnlineCheck(fn func() bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.isOnline = fn
}

// SetOnEnqueue installs the callback fired after a successful online
// enqueue, typically to request a sync cycle.
func (q *Queue) SetOnEnqueue(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEnqueue = fn
}

// Load restores the queue from durable storage, dropping items older
// than the configured TTL before any processing is attempted.
func (q *Queue) Load(ctx context.Context) error {
	blob, err := q.storage.GetString(ctx, q.cfg.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	if blob == "" {
		return nil
	}

	payload, err := q.envelope.Decode(blob)
	if err != nil {
		return fmt.Errorf("failed to decode queue blob: %w", err)
	}

	var items []*Item
	if err := json.Unmarshal(payload, &items); err != nil {
		return fmt.Errorf("failed to unmarshal queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.cfg.ItemTTL)
	kept := items[:0]
	expired := 0
	for _, item := range items {
		if item.EnqueuedAt.Before(cutoff) {
			expired++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept

	if expired > 0 {
		logger.Log.Info("Dropped expired queue items", zap.Int("expired", expired))
		return q.persistLocked(ctx)
	}
	logger.Log.Info("Loaded mutation queue", zap.Int("size", len(q.items)))
	return nil
}

// Add enqueues a mutation. ID, idempotency key, timestamp, and a zero
// retry count are assigned here; the caller only supplies the payload
// fields. Returns the stored item.
func (q *Queue) Add(ctx context.Context, item Item) (*Item, error) {
	items, err := q.AddBatch(ctx, []Item{item})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// AddBatch enqueues several mutations atomically; either all fit (after
// low-priority eviction) or none are added.
func (q *Queue) AddBatch(ctx context.Context, items []Item) ([]*Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	q.mu.Lock()
	if err := q.makeRoomLocked(len(items)); err != nil {
		q.mu.Unlock()
		return nil, err
	}

	added := make([]*Item, 0, len(items))
	for i := range items {
		it := items[i]
		it.ID = uuid.New().String()
		it.IdempotencyKey = uuid.New().String()
		it.EnqueuedAt = q.now()
		it.RetryCount = 0
		q.items = append(q.items, &it)
		added = append(added, &it)
	}

	if err := q.persistLocked(ctx); err != nil {
		// Roll the append back so memory matches storage.
		q.items = q.items[:len(q.items)-len(added)]
		q.mu.Unlock()
		return nil, err
	}
	online := q.isOnline
	notify := q.onEnqueue
	q.mu.Unlock()

	logger.Log.Debug("Enqueued mutations", zap.Int("count", len(added)))

	if notify != nil && (online == nil || online()) {
		notify()
	}
	return added, nil
}

// makeRoomLocked enforces the capacity bound: evict the oldest low
// priority items until n new items fit, or reject with QueueFullError.
func (q *Queue) makeRoomLocked(n int) error {
	overflow := len(q.items) + n - q.cfg.MaxSize
	if overflow <= 0 {
		return nil
	}

	var low []*Item
	for _, item := range q.items {
		if item.Priority == PriorityLow {
			low = append(low, item)
		}
	}
	if len(low) < overflow {
		return errs.New(errs.KindQueueFull, fmt.Sprintf("queue at capacity (%d)", q.cfg.MaxSize))
	}

	sort.SliceStable(low, func(i, j int) bool { return low[i].EnqueuedAt.Before(low[j].EnqueuedAt) })
	evict := make(map[string]bool, overflow)
	for _, item := range low[:overflow] {
		evict[item.ID] = true
	}

	kept := q.items[:0]
	for _, item := range q.items {
		if evict[item.ID] {
			q.deadLetterLocked(*item, "evicted for capacity")
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	logger.Log.Warn("Evicted low priority items", zap.Int("evicted", overflow))
	return nil
}

// Remove deletes an item by id. Returns whether it was present.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true, q.persistLocked(ctx)
		}
	}
	return false, nil
}

// Prioritize promotes an item to high priority.
func (q *Queue) Prioritize(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == id {
			item.Priority = PriorityHigh
			return true, q.persistLocked(ctx)
		}
	}
	return false, nil
}

// Stats is a point-in-time summary of the queue.
type Stats struct {
	Size        int        `json:"size"`
	High        int        `json:"high"`
	Normal      int        `json:"normal"`
	Low         int        `json:"low"`
	Oldest      *time.Time `json:"oldest,omitempty"`
	DeadLetters int        `json:"deadLetters"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Size: len(q.items), DeadLetters: len(q.dead)}
	for _, item := range q.items {
		switch item.Priority {
		case PriorityHigh:
			s.High++
		case PriorityLow:
			s.Low++
		default:
			s.Normal++
		}
		if s.Oldest == nil || item.EnqueuedAt.Before(*s.Oldest) {
			t := item.EnqueuedAt
			s.Oldest = &t
		}
	}
	return s
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DeadLetters returns a copy of the dead-letter ring, newest last.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *Queue) deadLetterLocked(item Item, reason string) {
	q.dead = append(q.dead, DeadLetter{Item: item, Reason: reason, DroppedAt: q.now()})
	if len(q.dead) > q.cfg.DeadLetterLimit {
		q.dead = q.dead[len(q.dead)-q.cfg.DeadLetterLimit:]
	}
}

func (q *Queue) persistLocked(ctx context.Context) error {
	payload, err := json.Marshal(q.items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	blob, err := q.envelope.Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encode queue blob: %w", err)
	}
	if err := q.storage.SetString(ctx, q.cfg.StorageKey, blob); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}
