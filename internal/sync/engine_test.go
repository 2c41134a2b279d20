package sync

import (
	"context"
	"sort"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/fieldsync/internal/conflict"
	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/loggy"
	"github.com/fieldsync/fieldsync/internal/netmon"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/remote"
	"github.com/fieldsync/fieldsync/internal/store"
)

// memStore implements store.Repository in memory for testing
type memStore struct {
	mu      stdsync.Mutex
	records map[string]*store.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*store.Record)}
}

func skey(storeName, id string) string { return storeName + "/" + id }

func (m *memStore) Put(ctx context.Context, record *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[skey(record.StoreName, record.ID)] = &clone
	return nil
}

func (m *memStore) Get(ctx context.Context, storeName, id string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[skey(storeName, id)]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return rec, nil
}

func (m *memStore) GetByParent(ctx context.Context, storeName, parentID string) ([]*store.Record, error) {
	return nil, nil
}

func (m *memStore) GetAll(ctx context.Context, storeName string) ([]*store.Record, error) {
	return nil, nil
}

func (m *memStore) Delete(ctx context.Context, storeName, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, skey(storeName, id))
	return nil
}

func (m *memStore) MarkSynced(ctx context.Context, storeName, id string, syncedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[skey(storeName, id)]
	if !ok {
		return store.ErrRecordNotFound
	}
	rec.Synced = true
	rec.SyncedAt = &syncedAt
	return nil
}

func (m *memStore) CountPending(ctx context.Context, storeName string) (int, error) {
	return 0, nil
}

func (m *memStore) UsageByStore(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

// memQueue implements queue.Repository in memory for testing
type memQueue struct {
	mu   stdsync.Mutex
	muts map[string]*queue.Mutation
}

func newMemQueue() *memQueue {
	return &memQueue{muts: make(map[string]*queue.Mutation)}
}

func (m *memQueue) Enqueue(ctx context.Context, mut *queue.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *mut
	m.muts[mut.ID] = &clone
	return nil
}

func (m *memQueue) ListOrdered(ctx context.Context) ([]*queue.Mutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*queue.Mutation, 0, len(m.muts))
	for _, mut := range m.muts {
		out = append(out, mut)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memQueue) Get(ctx context.Context, id string) (*queue.Mutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mut, ok := m.muts[id]
	if !ok {
		return nil, queue.ErrMutationNotFound
	}
	return mut, nil
}

func (m *memQueue) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.muts, id)
	return nil
}

func (m *memQueue) DeleteByRecord(ctx context.Context, storeName, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mut := range m.muts {
		if mut.StoreName == storeName && mut.RecordID == recordID {
			delete(m.muts, id)
		}
	}
	return nil
}

func (m *memQueue) UpdateRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mut, ok := m.muts[id]
	if !ok {
		return queue.ErrMutationNotFound
	}
	mut.RetryCount = retryCount
	mut.LastError = lastError
	return nil
}

func (m *memQueue) ResetRetries(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mut := range m.muts {
		mut.RetryCount = 0
		mut.LastError = ""
	}
	return nil
}

func (m *memQueue) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.muts), nil
}

func (m *memQueue) CountsByStore(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, mut := range m.muts {
		counts[mut.StoreName]++
	}
	return counts, nil
}

// memLogs implements Repository in memory for testing
type memLogs struct {
	mu   stdsync.Mutex
	logs []*Log
}

func (m *memLogs) Insert(ctx context.Context, log *Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memLogs) Latest(ctx context.Context) (*Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].StoreName == StoreNameAll {
			return m.logs[i], nil
		}
	}
	return nil, nil
}

func (m *memLogs) List(ctx context.Context, limit int) ([]*Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs, nil
}

func (m *memLogs) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// fakeAuthority implements remote.Authority in memory for testing
type fakeAuthority struct {
	mu      stdsync.Mutex
	records map[string]map[string]any
	upserts []string
	deletes []string
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{records: make(map[string]map[string]any)}
}

func (f *fakeAuthority) FetchByID(ctx context.Context, table, id string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[table+"/"+id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return rec, nil
}

func (f *fakeAuthority) Upsert(ctx context.Context, table string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := payload["id"].(string)
	f.records[table+"/"+id] = payload
	f.upserts = append(f.upserts, id)
	return nil
}

func (f *fakeAuthority) DeleteByID(ctx context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, table+"/"+id)
	f.deletes = append(f.deletes, id)
	return nil
}

// fakeProbe implements netmon.Probe with a switchable answer
type fakeProbe struct {
	reachable atomic.Bool
}

func (f *fakeProbe) Reachable(ctx context.Context) bool {
	return f.reachable.Load()
}

type engineFixture struct {
	engine    *Engine
	records   *store.Service
	queue     *memQueue
	logs      *memLogs
	authority *fakeAuthority
	probe     *fakeProbe
	monitor   *netmon.Monitor
}

func newEngineFixture(t *testing.T, online bool) *engineFixture {
	t.Helper()

	logger := loggy.NewNoopLogger()
	registry := entity.Default()

	records := store.NewService(newMemStore(), registry, nil, logger)
	q := newMemQueue()
	logs := &memLogs{}
	authority := newFakeAuthority()
	detector := conflict.NewDetector(authority, logger)
	drainer := queue.NewDrainer(q, records, authority, detector, registry, 3, 0, logger)

	probe := &fakeProbe{}
	probe.reachable.Store(online)
	monitor := netmon.NewMonitor(probe, time.Minute, logger)
	monitor.Refresh(context.Background())

	engine := NewEngine(records, q, drainer, detector, authority, monitor, logs, registry, time.Minute, logger)

	return &engineFixture{
		engine:    engine,
		records:   records,
		queue:     q,
		logs:      logs,
		authority: authority,
		probe:     probe,
		monitor:   monitor,
	}
}

func TestEngine_WriteOffline(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	scope := Scope{ProjectID: "p1", DeviceID: "dev-1"}

	rec, err := f.engine.Write(ctx, scope, entity.KindBudgetItem, map[string]any{"total": 100})
	require.NoError(t, err)

	// The record exists locally and is readable immediately.
	assert.NotEmpty(t, rec.ID)
	got, err := f.records.Get(ctx, entity.KindBudgetItem, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Synced)
	assert.Equal(t, "p1", got.ParentID)

	// The mutation waits in the queue; nothing reached the server.
	muts, err := f.queue.ListOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, queue.ActionCreate, muts[0].Action)
	assert.Equal(t, "p1", muts[0].ProjectID)
	assert.Empty(t, f.authority.upserts)
}

func TestEngine_WriteOnlineSyncsImmediately(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()

	rec, err := f.engine.Write(ctx, Scope{ProjectID: "p1"}, entity.KindBudgetItem, map[string]any{"total": 100})
	require.NoError(t, err)

	assert.Equal(t, []string{rec.ID}, f.authority.upserts)

	got, err := f.records.Get(ctx, entity.KindBudgetItem, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced)

	count, _ := f.queue.Count(ctx)
	assert.Zero(t, count)

	// The pass was logged.
	last, err := f.logs.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Success)
	assert.Equal(t, 1, last.ItemsSynced)
}

func TestEngine_WriteUpdateAction(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()
	scope := Scope{ProjectID: "p1"}

	rec, err := f.engine.Write(ctx, scope, entity.KindDiaryEntry, map[string]any{"text": "first"})
	require.NoError(t, err)

	_, err = f.engine.Write(ctx, scope, entity.KindDiaryEntry, map[string]any{"id": rec.ID, "text": "second"})
	require.NoError(t, err)

	muts, err := f.queue.ListOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, muts, 2)
	assert.Equal(t, queue.ActionCreate, muts[0].Action)
	assert.Equal(t, queue.ActionUpdate, muts[1].Action)
	assert.Equal(t, rec.ID, muts[1].RecordID)
}

func TestEngine_WriteSurvivesQueueForLaterDrain(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()

	rec, err := f.engine.Write(ctx, Scope{ProjectID: "p1"}, entity.KindCableEntry, map[string]any{"tag": "C-101"})
	require.NoError(t, err)

	// Connectivity returns; a manual sync drains the queued create.
	f.probe.reachable.Store(true)
	f.monitor.Refresh(ctx)

	result, err := f.engine.Sync(ctx, TypeManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, []string{rec.ID}, f.authority.upserts)
}

func TestEngine_SyncOffline(t *testing.T) {
	f := newEngineFixture(t, false)

	_, err := f.engine.Sync(context.Background(), TypeManual)
	assert.ErrorIs(t, err, ErrOffline)
}

func TestEngine_Delete(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()
	scope := Scope{ProjectID: "p1"}

	rec, err := f.engine.Write(ctx, scope, entity.KindDrawing, map[string]any{"title": "rev1"})
	require.NoError(t, err)

	require.NoError(t, f.engine.Delete(ctx, scope, entity.KindDrawing, rec.ID))

	_, err = f.records.Get(ctx, entity.KindDrawing, rec.ID)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
	assert.Equal(t, []string{rec.ID}, f.authority.deletes)
}

func TestEngine_ConflictRoundTrip(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()
	scope := Scope{ProjectID: "p1"}

	// Another device already pushed a newer version of the same record.
	f.authority.records["budget_line_items/r1"] = map[string]any{
		"id":         "r1",
		"total":      float64(150),
		"updated_at": float64(time.Now().UnixMilli()),
	}

	_, err := f.engine.Write(ctx, scope, entity.KindBudgetItem, map[string]any{"id": "r1", "total": 100})
	require.NoError(t, err)

	conflicts := f.engine.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "r1", conflicts[0].RecordID)

	// The queued mutation waits until resolution.
	count, _ := f.queue.Count(ctx)
	assert.Equal(t, 1, count)

	resolved, err := f.engine.ResolveConflict(ctx, conflicts[0].ID, conflict.Resolution{Strategy: conflict.UseLocal})
	require.NoError(t, err)
	assert.True(t, resolved.PushRemote)

	// Local wins: the server now carries our total and the mutation retired.
	assert.Equal(t, float64(100), toFloat(f.authority.records["budget_line_items/r1"]["total"]))
	count, _ = f.queue.Count(ctx)
	assert.Zero(t, count)

	got, err := f.records.Get(ctx, entity.KindBudgetItem, "r1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Empty(t, f.engine.Conflicts())
}

func TestEngine_ResolveConflictUseServer(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()

	f.authority.records["budget_line_items/r1"] = map[string]any{
		"id":         "r1",
		"total":      float64(150),
		"updated_at": float64(time.Now().UnixMilli()),
	}

	_, err := f.engine.Write(ctx, Scope{ProjectID: "p1"}, entity.KindBudgetItem, map[string]any{"id": "r1", "total": 100})
	require.NoError(t, err)

	conflicts := f.engine.Conflicts()
	require.Len(t, conflicts, 1)

	pushes := len(f.authority.upserts)
	resolved, err := f.engine.ResolveConflict(ctx, conflicts[0].ID, conflict.Resolution{Strategy: conflict.UseServer})
	require.NoError(t, err)
	assert.False(t, resolved.PushRemote)

	// Nothing new pushed; the server version landed locally.
	assert.Len(t, f.authority.upserts, pushes)
	got, err := f.records.Get(ctx, entity.KindBudgetItem, "r1")
	require.NoError(t, err)
	assert.Equal(t, float64(150), toFloat(got.Payload["total"]))
	assert.True(t, got.Synced)
}

func TestEngine_Status(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()

	_, err := f.engine.Write(ctx, Scope{ProjectID: "p1"}, entity.KindBudgetItem, map[string]any{"total": 1})
	require.NoError(t, err)
	_, err = f.engine.Write(ctx, Scope{ProjectID: "p1"}, entity.KindDrawing, map[string]any{"title": "rev1"})
	require.NoError(t, err)

	status, err := f.engine.Status(ctx)
	require.NoError(t, err)

	assert.False(t, status.Connection.Connected)
	assert.Equal(t, 2, status.QueueDepth)
	assert.Equal(t, 1, status.QueueByStore["budget_items"])
	assert.Equal(t, 1, status.QueueByStore["drawings"])
	assert.Zero(t, status.PendingConflicts)
	assert.Nil(t, status.LastSync)
}

func TestEngine_RetryAll(t *testing.T) {
	f := newEngineFixture(t, true)
	ctx := context.Background()

	mut := queue.NewMutation("budget_items", "r1", "p1", queue.ActionDelete, nil)
	mut.RetryCount = 2
	mut.LastError = "timeout"
	require.NoError(t, f.queue.Enqueue(ctx, mut))

	result, err := f.engine.RetryAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
}

func TestEngine_ReconnectTriggersSync(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.engine.Write(ctx, Scope{ProjectID: "p1"}, entity.KindBudgetItem, map[string]any{"total": 1})
	require.NoError(t, err)

	go f.engine.Run(ctx)

	// Give the trigger loop time to subscribe before the transition fires.
	time.Sleep(50 * time.Millisecond)
	f.probe.reachable.Store(true)
	f.monitor.Refresh(ctx)

	assert.Eventually(t, func() bool {
		count, _ := f.queue.Count(context.Background())
		return count == 0
	}, 2*time.Second, 10*time.Millisecond, "reconnect should drain the queue")
}

func TestEngine_TriggerBackgroundCoalesces(t *testing.T) {
	f := newEngineFixture(t, true)

	// Multiple triggers before the loop runs collapse into one request.
	f.engine.TriggerBackground()
	f.engine.TriggerBackground()
	f.engine.TriggerBackground()

	assert.Len(t, f.engine.backgroundCh, 1)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
