package syncer

import (
	"context"
	"encoding/json"
	"time"

	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/store"
)

// PushItem is one mutation in a push batch. The idempotency key lets the
// backend dedupe a retried create after a partial success.
type PushItem struct {
	Operation      queue.Operation `json:"operation"`
	RecordID       string          `json:"recordId"`
	Data           json.RawMessage `json:"data,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// PushBatch groups push items per collection.
type PushBatch struct {
	Collection store.Collection `json:"collection"`
	Items      []PushItem       `json:"items"`
}

// PushAck is the backend's acknowledgement. ServerIDs maps local record
// ids to their server-assigned ids for creates.
type PushAck struct {
	Applied   int               `json:"applied"`
	ServerIDs map[string]string `json:"serverIds,omitempty"`
}

// RemoteRecord is one created/updated record in a pull response.
type RemoteRecord struct {
	ServerID  string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// RemoteTombstone is one deleted record in a pull response.
type RemoteTombstone struct {
	ServerID  string    `json:"id"`
	DeletedAt time.Time `json:"deletedAt"`
}

// CollectionChanges is the three-array pull payload for one collection.
type CollectionChanges struct {
	Created []RemoteRecord    `json:"created"`
	Updated []RemoteRecord    `json:"updated"`
	Deleted []RemoteTombstone `json:"deleted"`
}

// PullResult is everything that changed on the backend since a cursor.
type PullResult struct {
	Changes    map[store.Collection]CollectionChanges `json:"changes"`
	ServerTime time.Time                              `json:"serverTime"`
}

// Transport is the backend sync wire protocol.
type Transport interface {
	Push(ctx context.Context, batches []PushBatch) (*PushAck, error)
	Pull(ctx context.Context, since time.Time) (*PullResult, error)
}
