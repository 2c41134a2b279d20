// Package store implements the local record store: durable, per-entity-kind
// keyed storage with a parent-id secondary index and sync metadata.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Payload field names reserved for sync metadata. They are never sent to the
// remote authority; CleanPayload strips them defensively before transmission.
const (
	MetaSynced         = "synced"
	MetaLocalUpdatedAt = "localUpdatedAt"
	MetaSyncedAt       = "syncedAt"
)

// Record is a domain payload plus synchronization metadata.
//
// A record with Synced=false must have a corresponding sync queue entry (or be
// freshly created and not yet queued); the queue is the authoritative
// "needs work" signal and Synced is a fast read-path hint.
type Record struct {
	ID             string         `json:"id"`
	StoreName      string         `json:"store_name"`
	ParentID       string         `json:"parent_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	Synced         bool           `json:"synced"`
	LocalUpdatedAt int64          `json:"local_updated_at"` // unix milliseconds
	SyncedAt       *int64         `json:"synced_at,omitempty"`
}

// NewRecordID generates a client-side record ID for offline creates. The same
// UUID identifies the record locally and at the remote authority.
func NewRecordID() string {
	return uuid.NewString()
}

// NowMillis returns the current time as unix milliseconds, the common epoch
// representation both sides of a conflict comparison must use.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// CleanPayload returns a copy of the payload with sync metadata fields
// removed, ready for transmission to the remote authority.
func (r *Record) CleanPayload() map[string]any {
	clean := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		switch k {
		case MetaSynced, MetaLocalUpdatedAt, MetaSyncedAt:
			continue
		}
		clean[k] = v
	}
	// The id always travels with the payload so the remote upsert is keyed.
	clean["id"] = r.ID
	return clean
}

// MarshalPayload serializes the payload for storage.
func (r *Record) MarshalPayload() ([]byte, error) {
	if r.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Payload)
}

// UnmarshalPayload deserializes a stored payload into the record.
func (r *Record) UnmarshalPayload(data []byte) error {
	if len(data) == 0 {
		r.Payload = map[string]any{}
		return nil
	}
	return json.Unmarshal(data, &r.Payload)
}
