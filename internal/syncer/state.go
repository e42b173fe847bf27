package syncer

import "time"

// Status is the orchestrator's lifecycle state. Offline is orthogonal:
// it supersedes idle/error for display whenever connectivity is down.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// State is the observable sync status. Subscribers always receive value
// copies, never a live reference.
type State struct {
	Status         Status     `json:"status"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	PendingChanges int        `json:"pendingChanges"`
	QueueSize      int        `json:"queueSize"`
	IsOnline       bool       `json:"isOnline"`
	LastError      string     `json:"lastError,omitempty"`
	Progress       *Progress  `json:"progress,omitempty"`
}

// clone deep-copies the state so published snapshots cannot tear.
func (s State) clone() State {
	cp := s
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		cp.LastSyncAt = &t
	}
	if s.Progress != nil {
		p := *s.Progress
		cp.Progress = &p
	}
	return cp
}

// display applies the offline override: a down link masks idle/error but
// never an in-flight cycle.
func (s State) display() State {
	cp := s.clone()
	if !cp.IsOnline && cp.Status != StatusSyncing {
		cp.Status = StatusOffline
	}
	return cp
}
