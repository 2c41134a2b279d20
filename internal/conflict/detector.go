package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldsync/fieldsync/internal/loggy"
	"github.com/fieldsync/fieldsync/internal/remote"
)

var (
	// ErrConflictNotFound is returned when resolving an unknown conflict id
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrUnknownStrategy is returned for a resolution with no valid strategy
	ErrUnknownStrategy = errors.New("unknown resolution strategy")
)

// Detector checks queued mutations against the remote authority before they
// are pushed, and holds detected conflicts until they are explicitly resolved.
//
// Resolution is request/response: Check hands back a conflict record, and a
// later Resolve call with the chosen strategy settles it. There is no global
// resolution callback.
type Detector struct {
	authority remote.Authority
	logger    *loggy.Logger

	mu      sync.Mutex
	pending map[string]*Record
}

// NewDetector creates a new conflict detector
func NewDetector(authority remote.Authority, logger *loggy.Logger) *Detector {
	return &Detector{
		authority: authority,
		logger:    logger,
		pending:   make(map[string]*Record),
	}
}

// Check fetches the current remote snapshot for the record and decides whether
// pushing the local payload would silently overwrite a newer remote change.
//
// Returns (nil, nil) when there is no conflict and the caller may proceed with
// a normal upsert. Returns the registered conflict record when resolution is
// required; the caller must not write anything until Resolve is called.
// Any fetch failure other than not-found propagates: no-conflict is never
// assumed on error.
func (d *Detector) Check(ctx context.Context, table, storeName, mutationID string, localPayload map[string]any, lastSyncedAt int64) (*Record, error) {
	recordID, _ := localPayload["id"].(string)

	server, err := d.authority.FetchByID(ctx, table, recordID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// Nothing on the remote side yet: the common offline-create case.
			return nil, nil
		}
		return nil, fmt.Errorf("fetching remote snapshot for %s/%s: %w", table, recordID, err)
	}

	remoteUpdated, ok := timestampMillis(server[remote.UpdatedAtField])
	if !ok {
		d.logger.Warn("Remote record carries no usable last-modified timestamp",
			"table", table, "record_id", recordID)
	}

	diffs := diffPayloads(localPayload, server)

	if remoteUpdated <= lastSyncedAt || len(diffs) == 0 {
		return nil, nil
	}

	rec := NewRecord(storeName, recordID, mutationID, localPayload, server, diffs)

	d.mu.Lock()
	d.pending[rec.ID] = rec
	d.mu.Unlock()

	d.logger.Info("Conflict detected",
		"conflict_id", rec.ID,
		"store", storeName,
		"record_id", recordID,
		"fields", len(diffs),
	)

	return rec, nil
}

// Resolve settles a pending conflict with the given resolution and removes it
// from the pending set. The caller applies the returned outcome (remote upsert
// for UseLocal/Merge, local pull for UseServer).
func (d *Detector) Resolve(id string, res Resolution) (*Resolved, error) {
	d.mu.Lock()
	rec, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}

	switch res.Strategy {
	case UseLocal:
		return &Resolved{
			Conflict:   rec,
			Strategy:   UseLocal,
			Final:      rec.LocalVersion,
			PushRemote: true,
		}, nil
	case UseServer:
		return &Resolved{
			Conflict:   rec,
			Strategy:   UseServer,
			Final:      rec.ServerVersion,
			PushRemote: false,
		}, nil
	case Merge:
		return &Resolved{
			Conflict:   rec,
			Strategy:   Merge,
			Final:      MergePayloads(rec.LocalVersion, rec.ServerVersion, res.Fields),
			PushRemote: true,
		}, nil
	default:
		// Put the conflict back: an invalid resolution must not lose it.
		d.mu.Lock()
		d.pending[id] = rec
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, res.Strategy)
	}
}

// Get returns a pending conflict by id.
func (d *Detector) Get(id string) (*Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.pending[id]
	return rec, ok
}

// Pending returns all unresolved conflicts, oldest first.
func (d *Detector) Pending() []*Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*Record, 0, len(d.pending))
	for _, rec := range d.pending {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasPendingFor reports whether the record already has an unresolved conflict.
// Drain passes skip such records instead of re-detecting.
func (d *Detector) HasPendingFor(storeName, recordID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range d.pending {
		if rec.StoreName == storeName && rec.RecordID == recordID {
			return true
		}
	}
	return false
}

// diffPayloads compares the two snapshots excluding the server bookkeeping
// timestamp, which differs by construction and is not a material field.
func diffPayloads(local, server map[string]any) []FieldDiff {
	diffs := Diff(local, server)
	out := diffs[:0]
	for _, diff := range diffs {
		if diff.Field == remote.UpdatedAtField {
			continue
		}
		out = append(out, diff)
	}
	return out
}

// timestampMillis coerces a remote last-modified value into UTC milliseconds.
// Both sides of a conflict comparison must use a common epoch representation;
// beyond accepting RFC3339 strings no timezone guessing is done.
func timestampMillis(v any) (int64, bool) {
	if ms, ok := asFloat(v); ok {
		return int64(ms), true
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
