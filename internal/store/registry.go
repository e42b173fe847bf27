package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Repository is the per-collection CRUD surface of the local record
// store. Dirty records (pending/conflict) are the ones awaiting sync.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, id string, data json.RawMessage, status SyncStatus) error
	Find(ctx context.Context, id string) (*Record, error)
	FindByServerID(ctx context.Context, serverID string) (*Record, error)
	MarkDeleted(ctx context.Context, id string) error
	SetServerID(ctx context.Context, id, serverID string) error
	SetSyncStatus(ctx context.Context, id string, status SyncStatus) error
	CountDirty(ctx context.Context) (int, error)
	ListDirty(ctx context.Context) ([]*Record, error)
}

// Codec decodes a collection's opaque payload into its domain struct.
// Decoding happens only at apply-time, never while an item sits queued.
type Codec interface {
	Decode(data json.RawMessage) (any, error)
}

type codecFunc func(json.RawMessage) (any, error)

func (f codecFunc) Decode(data json.RawMessage) (any, error) { return f(data) }

func decodeInto[T any](data json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return &v, nil
}

// Registry maps collections to their typed repositories and codecs,
// replacing string-keyed dynamic dispatch with an explicit lookup.
type Registry struct {
	mu     sync.RWMutex
	repos  map[Collection]Repository
	codecs map[Collection]Codec
}

func NewRegistry() *Registry {
	return &Registry{
		repos: make(map[Collection]Repository),
		codecs: map[Collection]Codec{
			Orders:    codecFunc(decodeInto[Order]),
			MenuItems: codecFunc(decodeInto[MenuItem]),
			Staff:     codecFunc(decodeInto[StaffMember]),
		},
	}
}

func (r *Registry) Register(c Collection, repo Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos[c] = repo
}

func (r *Registry) RegisterCodec(c Collection, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c] = codec
}

func (r *Registry) Get(c Collection) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[c]
	if !ok {
		return nil, fmt.Errorf("no repository registered for collection %q", c)
	}
	return repo, nil
}

func (r *Registry) Codec(c Collection) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codec, ok := r.codecs[c]
	if !ok {
		return nil, fmt.Errorf("no codec registered for collection %q", c)
	}
	return codec, nil
}

// Collections returns the registered collections in stable order.
func (r *Registry) Collections() []Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collection, 0, len(r.repos))
	for c := range r.repos {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CountDirty sums dirty records across all registered collections.
func (r *Registry) CountDirty(ctx context.Context) (int, error) {
	total := 0
	for _, c := range r.Collections() {
		repo, err := r.Get(c)
		if err != nil {
			return 0, err
		}
		n, err := repo.CountDirty(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
