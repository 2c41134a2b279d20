// Package sync orchestrates offline-first writes: local store, durable queue,
// conflict handling, and the triggers that start a drain.
package sync

import (
	"time"

	"github.com/fieldsync/fieldsync/internal/ulid"
)

// Type names what started a sync pass.
type Type string

const (
	// TypeManual is an explicit user-requested sync
	TypeManual Type = "manual"
	// TypePeriodic is the interval timer firing while online
	TypePeriodic Type = "periodic"
	// TypeReconnect is a connectivity regain
	TypeReconnect Type = "reconnect"
	// TypeBackground is an OS background execution slot
	TypeBackground Type = "background"
)

// Log records one sync pass or one permanent per-item failure, for the status
// surface and for debugging sessions that happened offline in the field.
type Log struct {
	ID           string    `json:"id"`
	SyncType     Type      `json:"sync_type"`
	StoreName    string    `json:"store_name"`
	RecordID     string    `json:"record_id,omitempty"`
	Success      bool      `json:"success"`
	ErrorType    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ItemsSynced  int       `json:"items_synced"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// StoreNameAll marks a log row covering a whole drain pass rather than a
// single store.
const StoreNameAll = "all"

// NewLog creates a sync log entry with a fresh id.
func NewLog(syncType Type, storeName string, startedAt time.Time) *Log {
	return &Log{
		ID:        ulid.SyncLogID(),
		SyncType:  syncType,
		StoreName: storeName,
		StartedAt: startedAt,
	}
}

// Complete stamps the completion time and outcome.
func (l *Log) Complete(success bool, itemsSynced int) *Log {
	l.Success = success
	l.ItemsSynced = itemsSynced
	l.CompletedAt = time.Now()
	return l
}

// Failed stamps the completion time with an error classification.
func (l *Log) Failed(errorType, message string) *Log {
	l.Success = false
	l.ErrorType = errorType
	l.ErrorMessage = message
	l.CompletedAt = time.Now()
	return l
}
