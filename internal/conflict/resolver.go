package conflict

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/store"
)

// Strategy selects how a detected conflict is resolved.
type Strategy string

const (
	ServerWins    Strategy = "server_wins"
	ClientWins    Strategy = "client_wins"
	LastWriteWins Strategy = "last_write_wins"
	Merge         Strategy = "merge"
	Manual        Strategy = "manual"
)

func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case ServerWins, ClientWins, LastWriteWins, Merge, Manual:
		return Strategy(s)
	default:
		return LastWriteWins
	}
}

// ServerChange is one created/updated record pulled from the backend.
type ServerChange struct {
	Collection store.Collection
	ServerID   string
	Data       json.RawMessage
	UpdatedAt  time.Time
}

// ServerDelete is one tombstone pulled from the backend.
type ServerDelete struct {
	Collection store.Collection
	ServerID   string
	DeletedAt  time.Time
}

// Info is a detected divergence between a locally pending mutation and
// the server's view of the same record. Transient: consumed immediately
// by ResolveConflicts, never persisted.
type Info struct {
	ID            string
	Collection    store.Collection
	LocalID       string
	ServerID      string
	LocalData     json.RawMessage
	ServerData    json.RawMessage
	LocalModified time.Time
	ServerUpdated time.Time
	Strategy      Strategy
}

// DeleteInfo is a detected divergence between a locally pending mutation
// and a server-side delete of the same record.
type DeleteInfo struct {
	ID            string
	Collection    store.Collection
	LocalID       string
	ServerID      string
	LocalData     json.RawMessage
	LocalModified time.Time
	DeletedAt     time.Time
	Strategy      Strategy
}

// Detection partitions a pull into directly-applicable changes and
// conflicts that need resolution.
type Detection struct {
	Apply           []ServerChange
	Deletes         []ServerDelete
	Conflicts       []Info
	DeleteConflicts []DeleteInfo
}

// Resolution is the outcome for one conflict. KeepLocal means the local
// value survived (in full or merged) and must be re-pushed.
type Resolution struct {
	Info      Info
	Data      json.RawMessage
	KeepLocal bool
	Decision  string
}

// ManualResolver supplies an externally chosen resolution. Returning
// ok=false falls back to the server value.
type ManualResolver func(info Info) (data json.RawMessage, keepLocal bool, ok bool)

// ManualDeleteResolver supplies an externally chosen delete decision.
type ManualDeleteResolver func(info DeleteInfo) (shouldDelete bool, ok bool)

// Resolver detects and resolves conflicts. Given identical inputs and
// strategy it always produces the same output: no randomness, no
// wall-clock reads beyond the timestamps embedded in the records.
type Resolver struct {
	registry      *store.Registry
	strategy      Strategy
	overrides     map[store.Collection]Strategy
	mergers       map[store.Collection]Merger
	manual        ManualResolver
	manualDelete  ManualDeleteResolver
	deleteGrace   time.Duration
}

type ResolverOption func(*Resolver)

func WithStrategyOverride(c store.Collection, s Strategy) ResolverOption {
	return func(r *Resolver) { r.overrides[c] = s }
}

func WithMerger(c store.Collection, m Merger) ResolverOption {
	return func(r *Resolver) { r.mergers[c] = m }
}

func WithManualResolver(m ManualResolver) ResolverOption {
	return func(r *Resolver) { r.manual = m }
}

func WithManualDeleteResolver(m ManualDeleteResolver) ResolverOption {
	return func(r *Resolver) { r.manualDelete = m }
}

func WithDeleteGraceWindow(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.deleteGrace = d }
}

func NewResolver(registry *store.Registry, strategy Strategy, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry:    registry,
		strategy:    strategy,
		overrides:   make(map[store.Collection]Strategy),
		mergers:     defaultMergers(),
		deleteGrace: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) strategyFor(c store.Collection) Strategy {
	if s, ok := r.overrides[c]; ok {
		return s
	}
	return r.strategy
}

// DetectConflicts walks server-pulled changes. An update whose matching
// local record is still pending or conflict-flagged becomes a conflict;
// a delete whose local record is dirty becomes a delete conflict. All
// other changes pass through for direct application.
func (r *Resolver) DetectConflicts(ctx context.Context, updates []ServerChange, deletes []ServerDelete) (*Detection, error) {
	det := &Detection{}

	for _, change := range updates {
		repo, err := r.registry.Get(change.Collection)
		if err != nil {
			return nil, err
		}
		local, err := repo.FindByServerID(ctx, change.ServerID)
		if err != nil {
			return nil, err
		}
		if local == nil || local.SyncStatus == store.StatusSynced {
			det.Apply = append(det.Apply, change)
			continue
		}
		det.Conflicts = append(det.Conflicts, Info{
			ID:            uuid.New().String(),
			Collection:    change.Collection,
			LocalID:       local.ID,
			ServerID:      change.ServerID,
			LocalData:     local.Data,
			ServerData:    change.Data,
			LocalModified: local.LastModified,
			ServerUpdated: change.UpdatedAt,
			Strategy:      r.strategyFor(change.Collection),
		})
	}

	for _, del := range deletes {
		repo, err := r.registry.Get(del.Collection)
		if err != nil {
			return nil, err
		}
		local, err := repo.FindByServerID(ctx, del.ServerID)
		if err != nil {
			return nil, err
		}
		if local == nil || local.SyncStatus == store.StatusSynced {
			det.Deletes = append(det.Deletes, del)
			continue
		}
		det.DeleteConflicts = append(det.DeleteConflicts, DeleteInfo{
			ID:            uuid.New().String(),
			Collection:    del.Collection,
			LocalID:       local.ID,
			ServerID:      del.ServerID,
			LocalData:     local.Data,
			LocalModified: local.LastModified,
			DeletedAt:     del.DeletedAt,
			Strategy:      r.strategyFor(del.Collection),
		})
	}

	if len(det.Conflicts) > 0 || len(det.DeleteConflicts) > 0 {
		logger.Log.Info("Conflicts detected",
			zap.Int("updates", len(det.Conflicts)),
			zap.Int("deletes", len(det.DeleteConflicts)),
		)
	}
	return det, nil
}

// ResolveConflicts resolves each conflict with its strategy.
func (r *Resolver) ResolveConflicts(ctx context.Context, conflicts []Info) ([]Resolution, error) {
	out := make([]Resolution, 0, len(conflicts))
	for _, info := range conflicts {
		out = append(out, r.resolve(info))
	}
	return out, nil
}

func (r *Resolver) resolve(info Info) Resolution {
	switch info.Strategy {
	case ServerWins:
		return Resolution{Info: info, Data: info.ServerData, Decision: "server_wins"}

	case ClientWins:
		return Resolution{Info: info, Data: info.LocalData, KeepLocal: true, Decision: "client_wins"}

	case LastWriteWins:
		// Strictly-greater local timestamp wins; ties favor the server.
		if localTimestamp(info).After(serverTimestamp(info)) {
			return Resolution{Info: info, Data: info.LocalData, KeepLocal: true, Decision: "lww_local"}
		}
		return Resolution{Info: info, Data: info.ServerData, Decision: "lww_server"}

	case Merge:
		merged := r.merge(info)
		return Resolution{Info: info, Data: merged, KeepLocal: true, Decision: "merge"}

	case Manual:
		if r.manual != nil {
			if data, keepLocal, ok := r.manual(info); ok {
				return Resolution{Info: info, Data: data, KeepLocal: keepLocal, Decision: "manual"}
			}
		}
		return Resolution{Info: info, Data: info.ServerData, Decision: "manual_default_server"}

	default:
		return Resolution{Info: info, Data: info.ServerData, Decision: "server_wins"}
	}
}

func (r *Resolver) merge(info Info) json.RawMessage {
	local := decodeMap(info.LocalData)
	server := decodeMap(info.ServerData)
	if local == nil {
		return info.ServerData
	}
	if server == nil {
		return info.LocalData
	}

	merger, ok := r.mergers[info.Collection]
	if !ok {
		merger = MergerFunc(DefaultMerge)
	}
	merged := merger.Merge(local, server)

	data, err := json.Marshal(merged)
	if err != nil {
		logger.Log.Error("Failed to marshal merged record", zap.Error(err))
		return info.ServerData
	}
	return data
}

// ResolveDelete decides whether a server-side delete should be applied
// over a locally pending edit. Under last-write-wins the local edit
// survives only if it happened after the grace window following the
// server delete.
func (r *Resolver) ResolveDelete(info DeleteInfo) bool {
	switch info.Strategy {
	case ServerWins:
		return true
	case ClientWins:
		return false
	case Manual:
		if r.manualDelete != nil {
			if shouldDelete, ok := r.manualDelete(info); ok {
				return shouldDelete
			}
		}
		return true
	default: // LastWriteWins and Merge
		localModified := info.LocalModified
		if ts, ok := timestampField(info.LocalData, "lastModified"); ok {
			localModified = ts
		}
		return !localModified.After(info.DeletedAt.Add(r.deleteGrace))
	}
}

// localTimestamp prefers the payload's lastModified field, falling back
// to the record metadata.
func localTimestamp(info Info) time.Time {
	if ts, ok := timestampField(info.LocalData, "lastModified"); ok {
		return ts
	}
	return info.LocalModified
}

func serverTimestamp(info Info) time.Time {
	if ts, ok := timestampField(info.ServerData, "updatedAt"); ok {
		return ts
	}
	return info.ServerUpdated
}

// timestampField reads a timestamp out of an opaque payload.
func timestampField(data json.RawMessage, key string) (time.Time, bool) {
	m := decodeMap(data)
	if m == nil {
		return time.Time{}, false
	}
	return mapTimestamp(m, key)
}

func decodeMap(data json.RawMessage) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
