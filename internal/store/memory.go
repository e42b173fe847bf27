package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used by tests and by
// callers that do not need durability.
type MemoryRepository struct {
	mu         sync.Mutex
	collection Collection
	records    map[string]*Record
}

func NewMemoryRepository(c Collection) *MemoryRepository {
	return &MemoryRepository{
		collection: c,
		records:    make(map[string]*Record),
	}
}

func (m *MemoryRepository) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("record %s already exists in %s", rec.ID, m.collection)
	}
	cp := *rec
	cp.Collection = m.collection
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	if cp.LastModified.IsZero() {
		cp.LastModified = cp.UpdatedAt
	}
	m.records[cp.ID] = &cp
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, id string, data json.RawMessage, status SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s not found in %s", id, m.collection)
	}
	rec.Data = append(json.RawMessage(nil), data...)
	rec.SyncStatus = status
	rec.LastModified = time.Now().UTC()
	rec.UpdatedAt = rec.LastModified
	return nil
}

func (m *MemoryRepository) Find(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRepository) FindByServerID(ctx context.Context, serverID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ServerID == serverID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) MarkDeleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.Deleted = true
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryRepository) SetServerID(ctx context.Context, id, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.ServerID = serverID
	}
	return nil
}

func (m *MemoryRepository) SetSyncStatus(ctx context.Context, id string, status SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.SyncStatus = status
	}
	return nil
}

func (m *MemoryRepository) CountDirty(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if !rec.Deleted && (rec.SyncStatus == StatusPending || rec.SyncStatus == StatusConflict) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListDirty(ctx context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, rec := range m.records {
		if !rec.Deleted && (rec.SyncStatus == StatusPending || rec.SyncStatus == StatusConflict) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.Before(out[j].LastModified) })
	return out, nil
}
