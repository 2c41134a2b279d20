// Package queue implements the durable FIFO of pending mutations and the
// drain loop that replays them against the remote authority.
package queue

import (
	"encoding/json"
	"time"

	"github.com/fieldsync/fieldsync/internal/ulid"
)

// Action is the kind of mutation queued for replay.
type Action string

const (
	// ActionCreate queues a first write of a record
	ActionCreate Action = "create"
	// ActionUpdate queues a change to an existing record
	ActionUpdate Action = "update"
	// ActionDelete queues a record removal
	ActionDelete Action = "delete"
)

// Mutation is one queued write. The id is a ULID, so lexicographic order on id
// is enqueue order; draining by id ascending gives FIFO replay for free.
type Mutation struct {
	ID         string         `json:"id"`
	StoreName  string         `json:"store_name"`
	RecordID   string         `json:"record_id"`
	ProjectID  string         `json:"project_id,omitempty"`
	Action     Action         `json:"action"`
	Payload    map[string]any `json:"payload,omitempty"`
	RetryCount int            `json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewMutation creates a mutation with a fresh queue id. The payload is the
// clean record snapshot at enqueue time; delete mutations carry none.
func NewMutation(storeName, recordID, projectID string, action Action, payload map[string]any) *Mutation {
	return &Mutation{
		ID:         ulid.MutationID(),
		StoreName:  storeName,
		RecordID:   recordID,
		ProjectID:  projectID,
		Action:     action,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
}

// MarshalPayload serializes the payload for storage.
func (m *Mutation) MarshalPayload() ([]byte, error) {
	if m.Payload == nil {
		return nil, nil
	}
	return json.Marshal(m.Payload)
}

// UnmarshalPayload deserializes a stored payload into the mutation.
func (m *Mutation) UnmarshalPayload(data []byte) error {
	if len(data) == 0 {
		m.Payload = nil
		return nil
	}
	return json.Unmarshal(data, &m.Payload)
}
