package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fieldsync/fieldsync/internal/conflict"
	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/loggy"
	"github.com/fieldsync/fieldsync/internal/remote"
	"github.com/fieldsync/fieldsync/internal/store"
)

// ErrDrainInProgress is returned when a drain is requested while another one
// is still running. Drains never overlap.
var ErrDrainInProgress = errors.New("drain already in progress")

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed int           `json:"processed"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Skipped   int           `json:"skipped"`
	Failures  []ItemFailure `json:"failures,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ItemFailure describes one mutation that could not be pushed.
type ItemFailure struct {
	MutationID string           `json:"mutation_id"`
	StoreName  string           `json:"store_name"`
	RecordID   string           `json:"record_id"`
	Action     Action           `json:"action"`
	ErrorType  remote.ErrorType `json:"error_type"`
	Message    string           `json:"message"`
	// Permanent marks a mutation dropped after exhausting its retries.
	Permanent bool `json:"permanent"`
}

// Drainer replays queued mutations against the remote authority, oldest first.
//
// A drain is strictly sequential: one mutation in flight at a time, and at
// most one drain pass running at a time. Per-record order is preserved by
// skipping later mutations of a record once an earlier one fails or conflicts;
// for ordered kinds the whole store is held back instead.
type Drainer struct {
	repo       Repository
	records    *store.Service
	authority  remote.Authority
	detector   *conflict.Detector
	registry   *entity.Registry
	logger     *loggy.Logger
	maxRetries int
	drainDelay time.Duration

	inFlight atomic.Bool
}

// NewDrainer creates a new queue drainer
func NewDrainer(repo Repository, records *store.Service, authority remote.Authority, detector *conflict.Detector, registry *entity.Registry, maxRetries int, drainDelay time.Duration, logger *loggy.Logger) *Drainer {
	return &Drainer{
		repo:       repo,
		records:    records,
		authority:  authority,
		detector:   detector,
		registry:   registry,
		logger:     logger,
		maxRetries: maxRetries,
		drainDelay: drainDelay,
	}
}

// InFlight reports whether a drain pass is currently running.
func (d *Drainer) InFlight() bool {
	return d.inFlight.Load()
}

// Drain replays the queue in enqueue order. Returns ErrDrainInProgress if
// another pass is already running.
func (d *Drainer) Drain(ctx context.Context) (*DrainResult, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer d.inFlight.Store(false)

	started := time.Now()

	muts, err := d.repo.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}

	result := &DrainResult{}
	blockedRecords := make(map[string]bool)
	blockedStores := make(map[string]bool)

	for _, mut := range muts {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(started)
			return result, err
		}

		recordKey := mut.StoreName + "/" + mut.RecordID
		if blockedStores[mut.StoreName] || blockedRecords[recordKey] {
			result.Skipped++
			continue
		}

		result.Processed++

		spec, err := d.registry.ByStore(mut.StoreName)
		if err != nil {
			// A mutation for an unregistered store cannot ever succeed.
			d.dropPermanently(ctx, mut, result, remote.ErrorTypeClient, err)
			continue
		}

		outcome, err := d.push(ctx, spec, mut)
		switch {
		case err != nil:
			d.recordFailure(ctx, mut, result, err)
			d.block(spec, mut, blockedRecords, blockedStores, recordKey)
		case outcome == outcomeConflict:
			result.Conflicts++
			d.block(spec, mut, blockedRecords, blockedStores, recordKey)
		default:
			if err := d.repo.Delete(ctx, mut.ID); err != nil {
				d.logger.Error("Failed to remove drained mutation", "mutation_id", mut.ID, "error", err)
			}
			result.Synced++

			if delay := d.delayFor(spec); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					result.Duration = time.Since(started)
					return result, ctx.Err()
				}
			}
		}
	}

	result.Duration = time.Since(started)

	d.logger.Info("Drain pass complete",
		"processed", result.Processed,
		"synced", result.Synced,
		"failed", result.Failed,
		"conflicts", result.Conflicts,
		"skipped", result.Skipped,
		"duration", result.Duration,
	)

	return result, nil
}

type pushOutcome int

const (
	outcomeSynced pushOutcome = iota
	outcomeConflict
)

// push sends one mutation to the remote authority. Creates and updates are
// conflict-checked first; deletes are not, since deleting an already-deleted
// record is a success either way.
func (d *Drainer) push(ctx context.Context, spec entity.Spec, mut *Mutation) (pushOutcome, error) {
	switch mut.Action {
	case ActionDelete:
		if err := d.authority.DeleteByID(ctx, spec.RemoteTable, mut.RecordID); err != nil {
			return 0, err
		}
		return outcomeSynced, nil

	case ActionCreate, ActionUpdate:
		if d.detector.HasPendingFor(mut.StoreName, mut.RecordID) {
			return outcomeConflict, nil
		}

		lastSyncedAt := d.lastSyncedAt(ctx, spec, mut.RecordID)

		conflictRec, err := d.detector.Check(ctx, spec.RemoteTable, mut.StoreName, mut.ID, mut.Payload, lastSyncedAt)
		if err != nil {
			return 0, err
		}
		if conflictRec != nil {
			return outcomeConflict, nil
		}

		if err := d.authority.Upsert(ctx, spec.RemoteTable, mut.Payload); err != nil {
			return 0, err
		}

		if err := d.records.MarkSyncedByStore(ctx, mut.StoreName, mut.RecordID); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			d.logger.Warn("Failed to mark record synced", "store", mut.StoreName, "record_id", mut.RecordID, "error", err)
		}
		return outcomeSynced, nil

	default:
		return 0, fmt.Errorf("unknown queue action %q", mut.Action)
	}
}

// lastSyncedAt returns the record's last confirmed sync time in unix
// milliseconds, or zero when the record has never synced.
func (d *Drainer) lastSyncedAt(ctx context.Context, spec entity.Spec, recordID string) int64 {
	rec, err := d.records.Get(ctx, spec.Kind, recordID)
	if err != nil || rec.SyncedAt == nil {
		return 0
	}
	return *rec.SyncedAt
}

// recordFailure applies the retry policy to a failed push: bounded retries,
// then the mutation is dropped and reported as a permanent failure.
func (d *Drainer) recordFailure(ctx context.Context, mut *Mutation, result *DrainResult, pushErr error) {
	errType := remote.Classify(pushErr)
	retries := mut.RetryCount + 1

	if retries >= d.maxRetries {
		d.dropPermanently(ctx, mut, result, errType, pushErr)
		return
	}

	if err := d.repo.UpdateRetry(ctx, mut.ID, retries, pushErr.Error()); err != nil {
		d.logger.Error("Failed to update retry count", "mutation_id", mut.ID, "error", err)
	}

	result.Failed++
	result.Failures = append(result.Failures, ItemFailure{
		MutationID: mut.ID,
		StoreName:  mut.StoreName,
		RecordID:   mut.RecordID,
		Action:     mut.Action,
		ErrorType:  errType,
		Message:    pushErr.Error(),
	})

	d.logger.Warn("Mutation push failed, will retry",
		"mutation_id", mut.ID,
		"store", mut.StoreName,
		"record_id", mut.RecordID,
		"retry", retries,
		"max_retries", d.maxRetries,
		"error_type", errType,
		"error", pushErr,
	)
}

func (d *Drainer) dropPermanently(ctx context.Context, mut *Mutation, result *DrainResult, errType remote.ErrorType, pushErr error) {
	if err := d.repo.Delete(ctx, mut.ID); err != nil {
		d.logger.Error("Failed to remove exhausted mutation", "mutation_id", mut.ID, "error", err)
	}

	result.Failed++
	result.Failures = append(result.Failures, ItemFailure{
		MutationID: mut.ID,
		StoreName:  mut.StoreName,
		RecordID:   mut.RecordID,
		Action:     mut.Action,
		ErrorType:  errType,
		Message:    pushErr.Error(),
		Permanent:  true,
	})

	d.logger.Error("Mutation failed permanently",
		"mutation_id", mut.ID,
		"store", mut.StoreName,
		"record_id", mut.RecordID,
		"retries", mut.RetryCount,
		"error_type", errType,
		"error", pushErr,
	)
}

func (d *Drainer) block(spec entity.Spec, mut *Mutation, blockedRecords, blockedStores map[string]bool, recordKey string) {
	if spec.Ordered {
		blockedStores[mut.StoreName] = true
		return
	}
	blockedRecords[recordKey] = true
}

func (d *Drainer) delayFor(spec entity.Spec) time.Duration {
	if !spec.Ordered {
		return 0
	}
	if spec.DrainDelay > 0 {
		return spec.DrainDelay
	}
	return d.drainDelay
}
