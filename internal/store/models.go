package store

import (
	"encoding/json"
	"time"
)

// Collection identifies an entity type in the local record store.
type Collection string

const (
	Orders    Collection = "orders"
	MenuItems Collection = "menu_items"
	Staff     Collection = "staff"
)

// SyncStatus flags a record's position in the sync lifecycle. Pending and
// Conflict records are "dirty": they carry local edits the backend has
// not acknowledged.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// Record is one row in the local record store. Data is the opaque
// serialized domain payload; it is decoded only at apply-time through
// the collection's codec.
type Record struct {
	ID           string          `db:"id"`
	ServerID     string          `db:"server_id"`
	Collection   Collection      `db:"collection"`
	Data         json.RawMessage `db:"data"`
	SyncStatus   SyncStatus      `db:"sync_status"`
	LastModified time.Time       `db:"last_modified"`
	UpdatedAt    time.Time       `db:"updated_at"`
	Deleted      bool            `db:"deleted"`
}

// Order is the domain shape of an orders payload.
type Order struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Items        []OrderLine `json:"items"`
	Total        float64     `json:"total"`
	LastModified int64       `json:"lastModified"`
}

type OrderLine struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// MenuItem is the domain shape of a menu_items payload.
type MenuItem struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Price          float64  `json:"price"`
	Available      bool     `json:"available"`
	Customizations []string `json:"customizations,omitempty"`
	LastModified   int64    `json:"lastModified"`
}

// StaffMember is the domain shape of a staff payload.
type StaffMember struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Active       bool   `json:"active"`
	LastModified int64  `json:"lastModified"`
}
