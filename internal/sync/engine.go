package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldsync/fieldsync/internal/conflict"
	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/loggy"
	"github.com/fieldsync/fieldsync/internal/netmon"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/remote"
	"github.com/fieldsync/fieldsync/internal/store"
)

// ErrOffline is returned when a sync pass is requested without connectivity.
// The queue keeps the work; nothing is lost.
var ErrOffline = errors.New("offline: sync deferred")

// Scope carries the explicit ambient identifiers of a write. Every operation
// that needs a project or device id receives it here rather than reading
// process-wide state.
type Scope struct {
	ProjectID string
	DeviceID  string
}

// Engine is the coordination point for offline-first writes and sync passes.
//
// Every write takes the same path regardless of connectivity: durable local
// put, durable queue append, then an immediate drain attempt when online. The
// only difference offline makes is that the drain waits.
type Engine struct {
	records   *store.Service
	queue     queue.Repository
	drainer   *queue.Drainer
	detector  *conflict.Detector
	authority remote.Authority
	monitor   *netmon.Monitor
	logs      Repository
	registry  *entity.Registry
	logger    *loggy.Logger

	interval     time.Duration
	backgroundCh chan struct{}
}

// NewEngine creates a sync engine.
func NewEngine(records *store.Service, queueRepo queue.Repository, drainer *queue.Drainer, detector *conflict.Detector, authority remote.Authority, monitor *netmon.Monitor, logs Repository, registry *entity.Registry, interval time.Duration, logger *loggy.Logger) *Engine {
	return &Engine{
		records:      records,
		queue:        queueRepo,
		drainer:      drainer,
		detector:     detector,
		authority:    authority,
		monitor:      monitor,
		logs:         logs,
		registry:     registry,
		logger:       logger,
		interval:     interval,
		backgroundCh: make(chan struct{}, 1),
	}
}

// Write performs the offline-first write for any entity kind: durable local
// put, queue append, and an opportunistic drain when online. The returned
// record carries the generated id for offline creates.
//
// The local put and the enqueue both complete before any network activity, so
// a crash or disconnect at any point leaves the write recoverable.
func (e *Engine) Write(ctx context.Context, scope Scope, kind entity.Kind, payload map[string]any) (*store.Record, error) {
	spec, err := e.registry.ByKind(kind)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		payload = map[string]any{}
	}
	if spec.ParentField == "project_id" && scope.ProjectID != "" {
		if _, ok := payload[spec.ParentField]; !ok {
			payload[spec.ParentField] = scope.ProjectID
		}
	}

	id, _ := payload["id"].(string)
	action := queue.ActionCreate
	if id != "" {
		if _, err := e.records.Get(ctx, kind, id); err == nil {
			action = queue.ActionUpdate
		} else if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, err
		}
	}

	rec := &store.Record{ID: id, Payload: payload}
	rec, err = e.records.Put(ctx, kind, rec, true)
	if err != nil {
		return nil, err
	}

	mut := queue.NewMutation(spec.StoreName, rec.ID, scope.ProjectID, action, rec.CleanPayload())
	if err := e.queue.Enqueue(ctx, mut); err != nil {
		return nil, fmt.Errorf("enqueueing %s mutation: %w", action, err)
	}

	e.drainIfOnline(ctx, TypeManual)

	return rec, nil
}

// Delete removes the record locally and queues the remote removal. Pending
// mutations for the record are left in place and replayed in order; the
// trailing delete makes the remote end state correct either way.
func (e *Engine) Delete(ctx context.Context, scope Scope, kind entity.Kind, id string) error {
	spec, err := e.registry.ByKind(kind)
	if err != nil {
		return err
	}

	if err := e.records.Delete(ctx, kind, id); err != nil {
		return err
	}

	mut := queue.NewMutation(spec.StoreName, id, scope.ProjectID, queue.ActionDelete, nil)
	if err := e.queue.Enqueue(ctx, mut); err != nil {
		return fmt.Errorf("enqueueing delete mutation: %w", err)
	}

	e.drainIfOnline(ctx, TypeManual)

	return nil
}

// Sync runs one drain pass now. Returns ErrOffline without touching the queue
// when there is no connectivity, and ErrDrainInProgress when a pass is
// already running.
func (e *Engine) Sync(ctx context.Context, syncType Type) (*queue.DrainResult, error) {
	if !e.monitor.Online() {
		return nil, ErrOffline
	}

	started := time.Now()

	result, err := e.drainer.Drain(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrDrainInProgress) {
			return nil, err
		}
		e.record(ctx, NewLog(syncType, StoreNameAll, started).Failed(string(remote.Classify(err)), err.Error()))
		return result, err
	}

	e.record(ctx, NewLog(syncType, StoreNameAll, started).Complete(result.Failed == 0, result.Synced))

	for _, failure := range result.Failures {
		if !failure.Permanent {
			continue
		}
		log := NewLog(syncType, failure.StoreName, started)
		log.RecordID = failure.RecordID
		e.record(ctx, log.Failed(string(failure.ErrorType), failure.Message))
	}

	return result, nil
}

// RetryAll zeroes retry counts so exhausted-in-progress items get a fresh
// budget, then runs a pass.
func (e *Engine) RetryAll(ctx context.Context) (*queue.DrainResult, error) {
	if err := e.queue.ResetRetries(ctx); err != nil {
		return nil, err
	}
	return e.Sync(ctx, TypeManual)
}

// ResolveConflict settles a pending conflict and applies the outcome on both
// sides: the final payload lands in the local store, the queued mutation is
// retired, and for local-winning strategies the result is pushed remotely.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, res conflict.Resolution) (*conflict.Resolved, error) {
	resolved, err := e.detector.Resolve(conflictID, res)
	if err != nil {
		return nil, err
	}

	rec := resolved.Conflict
	spec, err := e.registry.ByStore(rec.StoreName)
	if err != nil {
		return nil, err
	}

	if resolved.PushRemote {
		if err := e.authority.Upsert(ctx, spec.RemoteTable, resolved.Final); err != nil {
			return nil, fmt.Errorf("pushing resolved record: %w", err)
		}
	}

	now := store.NowMillis()
	local := &store.Record{
		ID:             rec.RecordID,
		Payload:        resolved.Final,
		Synced:         true,
		LocalUpdatedAt: now,
		SyncedAt:       &now,
	}
	if _, err := e.records.Put(ctx, spec.Kind, local, false); err != nil {
		return nil, fmt.Errorf("storing resolved record: %w", err)
	}

	if rec.MutationID != "" {
		if err := e.queue.Delete(ctx, rec.MutationID); err != nil {
			e.logger.Warn("Failed to retire resolved mutation", "mutation_id", rec.MutationID, "error", err)
		}
	}

	e.logger.Info("Conflict resolved",
		"conflict_id", rec.ID,
		"store", rec.StoreName,
		"record_id", rec.RecordID,
		"strategy", resolved.Strategy,
	)

	return resolved, nil
}

// Status is the aggregate sync state surfaced to the user.
type Status struct {
	Connection       netmon.Status  `json:"connection"`
	QueueDepth       int            `json:"queue_depth"`
	QueueByStore     map[string]int `json:"queue_by_store"`
	PendingConflicts int            `json:"pending_conflicts"`
	DrainInFlight    bool           `json:"drain_in_flight"`
	LastSync         *Log           `json:"last_sync,omitempty"`
}

// Status reports connectivity, queue depth, pending conflicts, and the last
// completed pass.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	depth, err := e.queue.Count(ctx)
	if err != nil {
		return nil, err
	}

	byStore, err := e.queue.CountsByStore(ctx)
	if err != nil {
		return nil, err
	}

	last, err := e.logs.Latest(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		Connection:       e.monitor.Status(),
		QueueDepth:       depth,
		QueueByStore:     byStore,
		PendingConflicts: len(e.detector.Pending()),
		DrainInFlight:    e.drainer.InFlight(),
		LastSync:         last,
	}, nil
}

// Conflicts returns the unresolved conflicts, oldest first.
func (e *Engine) Conflicts() []*conflict.Record {
	return e.detector.Pending()
}

// Conflict returns one unresolved conflict by id.
func (e *Engine) Conflict(id string) (*conflict.Record, bool) {
	return e.detector.Get(id)
}

// Queue returns all queued mutations in replay order.
func (e *Engine) Queue(ctx context.Context) ([]*queue.Mutation, error) {
	return e.queue.ListOrdered(ctx)
}

// TriggerBackground requests a background-slot sync pass, the hook an OS
// scheduler or cron entry would call. Non-blocking; coalesces with any pass
// already requested.
func (e *Engine) TriggerBackground() {
	select {
	case e.backgroundCh <- struct{}{}:
	default:
	}
}

// Run drives the automatic triggers until the context is canceled: the
// connectivity monitor, the periodic interval, and background requests.
// Blocks; run in a goroutine.
func (e *Engine) Run(ctx context.Context) {
	transitions, cancel := e.monitor.Subscribe()
	defer cancel()

	go e.monitor.Run(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case status := <-transitions:
			if status.Connected {
				e.drainIfOnline(ctx, TypeReconnect)
			}

		case <-ticker.C:
			e.drainIfOnline(ctx, TypePeriodic)

		case <-e.backgroundCh:
			e.drainIfOnline(ctx, TypeBackground)
		}
	}
}

// drainIfOnline runs a pass when connected, swallowing the expected
// no-op outcomes. Write paths call it so a sync failure never fails a write.
func (e *Engine) drainIfOnline(ctx context.Context, syncType Type) {
	if !e.monitor.Online() {
		return
	}

	if _, err := e.Sync(ctx, syncType); err != nil &&
		!errors.Is(err, queue.ErrDrainInProgress) && !errors.Is(err, ErrOffline) {
		e.logger.Warn("Sync pass failed", "type", syncType, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, log *Log) {
	if err := e.logs.Insert(ctx, log); err != nil {
		e.logger.Warn("Failed to record sync log", "error", err)
	}
}
