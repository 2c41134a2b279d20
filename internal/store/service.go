package store

import (
	"context"
	"fmt"

	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/loggy"
)

// WriteGate is consulted before any dirty (offline) write is accepted.
// The quota monitor implements it; at the danger level it refuses writes
// with a quota-exceeded error instead of letting local storage grow unbounded.
type WriteGate interface {
	AllowDirtyWrite(ctx context.Context) error
}

// nopGate admits every write; used when no quota monitor is configured.
type nopGate struct{}

func (nopGate) AllowDirtyWrite(context.Context) error { return nil }

// Service provides typed access to the local record store.
// The store is schema-agnostic: payload validation is not its concern, only
// infrastructure failures (quota, storage) propagate as errors.
type Service struct {
	repo     Repository
	registry *entity.Registry
	gate     WriteGate
	logger   *loggy.Logger
}

// NewService creates a new store service
func NewService(repo Repository, registry *entity.Registry, gate WriteGate, logger *loggy.Logger) *Service {
	if gate == nil {
		gate = nopGate{}
	}
	return &Service{
		repo:     repo,
		registry: registry,
		gate:     gate,
		logger:   logger,
	}
}

// Put upserts a record for the given kind. When markDirty is true the record
// is stamped with the current local time, flagged unsynced, and counted
// against the storage quota.
func (s *Service) Put(ctx context.Context, kind entity.Kind, record *Record, markDirty bool) (*Record, error) {
	spec, err := s.registry.ByKind(kind)
	if err != nil {
		return nil, err
	}

	if record.ID == "" {
		record.ID = NewRecordID()
	}
	record.StoreName = spec.StoreName

	if spec.ParentField != "" {
		if parent, ok := record.Payload[spec.ParentField].(string); ok {
			record.ParentID = parent
		}
	}

	if markDirty {
		if err := s.gate.AllowDirtyWrite(ctx); err != nil {
			return nil, err
		}
		record.Synced = false
		record.LocalUpdatedAt = NowMillis()
	} else if record.LocalUpdatedAt == 0 {
		record.LocalUpdatedAt = NowMillis()
	}

	if err := s.repo.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("putting %s record: %w", kind, err)
	}

	return record, nil
}

// Get returns the record or ErrRecordNotFound. No side effects.
func (s *Service) Get(ctx context.Context, kind entity.Kind, id string) (*Record, error) {
	spec, err := s.registry.ByKind(kind)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, spec.StoreName, id)
}

// GetByParent returns all records indexed under the given parent id.
func (s *Service) GetByParent(ctx context.Context, kind entity.Kind, parentID string) ([]*Record, error) {
	spec, err := s.registry.ByKind(kind)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByParent(ctx, spec.StoreName, parentID)
}

// GetAll returns every record of a kind. Full scan; used sparingly.
func (s *Service) GetAll(ctx context.Context, kind entity.Kind) ([]*Record, error) {
	spec, err := s.registry.ByKind(kind)
	if err != nil {
		return nil, err
	}
	return s.repo.GetAll(ctx, spec.StoreName)
}

// Delete removes the record locally. Coordinating any queued mutation for the
// record is the sync engine's responsibility.
func (s *Service) Delete(ctx context.Context, kind entity.Kind, id string) error {
	spec, err := s.registry.ByKind(kind)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, spec.StoreName, id)
}

// MarkSynced flags the record as confirmed persisted on the remote authority.
func (s *Service) MarkSynced(ctx context.Context, kind entity.Kind, id string) error {
	spec, err := s.registry.ByKind(kind)
	if err != nil {
		return err
	}
	return s.repo.MarkSynced(ctx, spec.StoreName, id, NowMillis())
}

// MarkSyncedByStore is MarkSynced keyed by store name, for callers that carry
// queue mutations rather than kinds.
func (s *Service) MarkSyncedByStore(ctx context.Context, storeName, id string) error {
	if _, err := s.registry.ByStore(storeName); err != nil {
		return err
	}
	return s.repo.MarkSynced(ctx, storeName, id, NowMillis())
}

// PendingCount returns the number of unsynced records for a kind.
func (s *Service) PendingCount(ctx context.Context, kind entity.Kind) (int, error) {
	spec, err := s.registry.ByKind(kind)
	if err != nil {
		return 0, err
	}
	return s.repo.CountPending(ctx, spec.StoreName)
}

// TotalPending returns the number of unsynced records across all kinds.
func (s *Service) TotalPending(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range s.registry.Kinds() {
		count, err := s.PendingCount(ctx, kind)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

// UsageByStore exposes per-store payload byte usage for the quota monitor.
func (s *Service) UsageByStore(ctx context.Context) (map[string]int64, error) {
	return s.repo.UsageByStore(ctx)
}

// Registry returns the entity registry the service was built with.
func (s *Service) Registry() *entity.Registry {
	return s.registry
}
