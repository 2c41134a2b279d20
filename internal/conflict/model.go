// Package conflict implements detection and resolution of local/remote record
// divergence. A conflict is not an error: it is a control-flow branch that
// blocks a queued mutation until an explicit resolution arrives.
package conflict

import (
	"time"

	"github.com/fieldsync/fieldsync/internal/ulid"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	// UseLocal pushes the local snapshot verbatim, overwriting the server.
	UseLocal Strategy = "use_local"
	// UseServer discards the local change and pulls the server snapshot.
	UseServer Strategy = "use_server"
	// Merge takes the server snapshot as base and overlays chosen local fields.
	Merge Strategy = "merge"
)

// Resolution is the explicit answer to a pending conflict.
type Resolution struct {
	Strategy Strategy
	// Fields lists the payload fields taken from the local side when the
	// strategy is Merge. Ignored otherwise.
	Fields []string
}

// FieldDiff describes one field where the local and server snapshots differ
// materially (deep-equality failure).
type FieldDiff struct {
	Field       string `json:"field"`
	LocalValue  any    `json:"local_value"`
	ServerValue any    `json:"server_value"`
}

// Record is a detected conflict held until resolved. Conflicts are not
// persisted across restarts; an unresolved conflict simply leaves its queue
// item pending for the next session to re-detect.
type Record struct {
	ID            string         `json:"id"`
	StoreName     string         `json:"store_name"`
	RecordID      string         `json:"record_id"`
	MutationID    string         `json:"mutation_id,omitempty"`
	LocalVersion  map[string]any `json:"local_version"`
	ServerVersion map[string]any `json:"server_version"`
	FieldDiffs    []FieldDiff    `json:"field_diffs"`
	DetectedAt    time.Time      `json:"detected_at"`
}

// NewRecord creates a conflict record with a fresh conflict id.
func NewRecord(storeName, recordID, mutationID string, local, server map[string]any, diffs []FieldDiff) *Record {
	return &Record{
		ID:            ulid.ConflictID(),
		StoreName:     storeName,
		RecordID:      recordID,
		MutationID:    mutationID,
		LocalVersion:  local,
		ServerVersion: server,
		FieldDiffs:    diffs,
		DetectedAt:    time.Now(),
	}
}

// Resolved is the outcome of resolving a conflict.
type Resolved struct {
	Conflict *Record
	Strategy Strategy
	// Final is the payload that settles the conflict.
	Final map[string]any
	// PushRemote reports whether Final must be upserted to the remote
	// authority (true for UseLocal and Merge; false for UseServer, where the
	// server snapshot is pulled into the local store instead).
	PushRemote bool
}

// MergePayloads builds the Merge result: the server snapshot as base with the
// chosen fields overlaid from the local snapshot. Fields absent from the
// local snapshot are deleted from the result so "take local" always wins.
func MergePayloads(local, server map[string]any, fields []string) map[string]any {
	merged := make(map[string]any, len(server)+len(fields))
	for k, v := range server {
		merged[k] = v
	}
	for _, f := range fields {
		if v, ok := local[f]; ok {
			merged[f] = v
		} else {
			delete(merged, f)
		}
	}
	return merged
}
