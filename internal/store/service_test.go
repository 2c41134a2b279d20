package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/loggy"
)

// memRepository implements Repository in memory for testing
type memRepository struct {
	records map[string]*Record
}

func newMemRepository() *memRepository {
	return &memRepository{records: make(map[string]*Record)}
}

func key(storeName, id string) string { return storeName + "/" + id }

func (m *memRepository) Put(ctx context.Context, record *Record) error {
	clone := *record
	m.records[key(record.StoreName, record.ID)] = &clone
	return nil
}

func (m *memRepository) Get(ctx context.Context, storeName, id string) (*Record, error) {
	rec, ok := m.records[key(storeName, id)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (m *memRepository) GetByParent(ctx context.Context, storeName, parentID string) ([]*Record, error) {
	var out []*Record
	for _, rec := range m.records {
		if rec.StoreName == storeName && rec.ParentID == parentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRepository) GetAll(ctx context.Context, storeName string) ([]*Record, error) {
	var out []*Record
	for _, rec := range m.records {
		if rec.StoreName == storeName {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRepository) Delete(ctx context.Context, storeName, id string) error {
	delete(m.records, key(storeName, id))
	return nil
}

func (m *memRepository) MarkSynced(ctx context.Context, storeName, id string, syncedAt int64) error {
	rec, ok := m.records[key(storeName, id)]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Synced = true
	rec.SyncedAt = &syncedAt
	return nil
}

func (m *memRepository) CountPending(ctx context.Context, storeName string) (int, error) {
	count := 0
	for _, rec := range m.records {
		if rec.StoreName == storeName && !rec.Synced {
			count++
		}
	}
	return count, nil
}

func (m *memRepository) UsageByStore(ctx context.Context) (map[string]int64, error) {
	usage := make(map[string]int64)
	for _, rec := range m.records {
		data, _ := rec.MarshalPayload()
		usage[rec.StoreName] += int64(len(data))
	}
	return usage, nil
}

// refusingGate implements WriteGate and always refuses
type refusingGate struct{ err error }

func (g refusingGate) AllowDirtyWrite(context.Context) error { return g.err }

func newTestService(gate WriteGate) (*Service, *memRepository) {
	repo := newMemRepository()
	return NewService(repo, entity.Default(), gate, loggy.NewNoopLogger()), repo
}

func TestService_Put_GeneratesID(t *testing.T) {
	svc, _ := newTestService(nil)

	rec, err := svc.Put(context.Background(), entity.KindBudgetItem,
		&Record{Payload: map[string]any{"total": 100, "project_id": "p1"}}, true)

	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "budget_items", rec.StoreName)
	assert.Equal(t, "p1", rec.ParentID)
	assert.False(t, rec.Synced)
	assert.NotZero(t, rec.LocalUpdatedAt)
}

func TestService_Put_MessageParent(t *testing.T) {
	svc, _ := newTestService(nil)

	rec, err := svc.Put(context.Background(), entity.KindMessage,
		&Record{Payload: map[string]any{"body": "hi", "conversation_id": "c9"}}, true)

	require.NoError(t, err)
	assert.Equal(t, "c9", rec.ParentID)
}

func TestService_Put_GateRefusal(t *testing.T) {
	gateErr := errors.New("storage full")
	svc, repo := newTestService(refusingGate{err: gateErr})

	_, err := svc.Put(context.Background(), entity.KindBudgetItem,
		&Record{Payload: map[string]any{"total": 100}}, true)

	assert.ErrorIs(t, err, gateErr)
	assert.Empty(t, repo.records)
}

func TestService_Put_CleanWriteBypassesGate(t *testing.T) {
	// Non-dirty writes (sync pulls) must land even when the gate refuses,
	// otherwise a full device could never reconcile with the server.
	svc, repo := newTestService(refusingGate{err: errors.New("storage full")})

	_, err := svc.Put(context.Background(), entity.KindBudgetItem,
		&Record{ID: "r1", Payload: map[string]any{"total": 100}, Synced: true}, false)

	require.NoError(t, err)
	assert.Len(t, repo.records, 1)
}

func TestService_UnknownKind(t *testing.T) {
	svc, _ := newTestService(nil)

	_, err := svc.Put(context.Background(), entity.Kind("gadget"), &Record{}, true)
	assert.ErrorIs(t, err, entity.ErrUnknownKind)

	_, err = svc.Get(context.Background(), entity.Kind("gadget"), "r1")
	assert.ErrorIs(t, err, entity.ErrUnknownKind)
}

func TestService_MarkSynced(t *testing.T) {
	svc, _ := newTestService(nil)

	rec, err := svc.Put(context.Background(), entity.KindDiaryEntry,
		&Record{Payload: map[string]any{"text": "poured slab", "project_id": "p1"}}, true)
	require.NoError(t, err)

	require.NoError(t, svc.MarkSynced(context.Background(), entity.KindDiaryEntry, rec.ID))

	got, err := svc.Get(context.Background(), entity.KindDiaryEntry, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)
	require.NotNil(t, got.SyncedAt)
}

func TestService_TotalPending(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Put(ctx, entity.KindBudgetItem, &Record{Payload: map[string]any{"project_id": "p1"}}, true)
	require.NoError(t, err)
	_, err = svc.Put(ctx, entity.KindDrawing, &Record{Payload: map[string]any{"project_id": "p1"}}, true)
	require.NoError(t, err)

	total, err := svc.TotalPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestRecord_CleanPayload(t *testing.T) {
	rec := &Record{
		ID: "r1",
		Payload: map[string]any{
			"total":            100,
			MetaSynced:         false,
			MetaLocalUpdatedAt: int64(5),
			MetaSyncedAt:       nil,
		},
	}

	clean := rec.CleanPayload()

	assert.Equal(t, "r1", clean["id"])
	assert.Equal(t, 100, clean["total"])
	assert.NotContains(t, clean, MetaSynced)
	assert.NotContains(t, clean, MetaLocalUpdatedAt)
	assert.NotContains(t, clean, MetaSyncedAt)
}
