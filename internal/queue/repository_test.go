package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/fieldsync/internal/loggy"
)

func newMockRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLRepository(db, loggy.NewNoopLogger()), mock
}

func TestSQLRepository_Enqueue(t *testing.T) {
	repo, mock := newMockRepo(t)

	mut := NewMutation("budget_items", "r1", "p1", ActionCreate, map[string]any{"id": "r1", "total": 100})

	mock.ExpectExec("INSERT INTO sync_queue").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Enqueue(context.Background(), mut)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_ListOrdered(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UnixMilli()
	rows := sqlmock.NewRows(mutationColumns).
		AddRow("mut-01A", "budget_items", "r1", "p1", "create", `{"id":"r1"}`, 0, nil, now).
		AddRow("mut-01B", "budget_items", "r1", "p1", "update", `{"id":"r1","total":5}`, 1, "timeout", now)

	mock.ExpectQuery("SELECT (.+) FROM sync_queue ORDER BY id ASC").
		WillReturnRows(rows)

	muts, err := repo.ListOrdered(context.Background())
	require.NoError(t, err)
	require.Len(t, muts, 2)

	assert.Equal(t, "mut-01A", muts[0].ID)
	assert.Equal(t, ActionCreate, muts[0].Action)
	assert.Equal(t, "r1", muts[0].Payload["id"])

	assert.Equal(t, ActionUpdate, muts[1].Action)
	assert.Equal(t, 1, muts[1].RetryCount)
	assert.Equal(t, "timeout", muts[1].LastError)
}

func TestSQLRepository_UpdateRetry_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE sync_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRetry(context.Background(), "mut-missing", 1, "boom")
	assert.ErrorIs(t, err, ErrMutationNotFound)
}

func TestSQLRepository_CountsByStore(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"store_name", "count"}).
		AddRow("messages", 4).
		AddRow("drawings", 1)

	mock.ExpectQuery("SELECT store_name").
		WillReturnRows(rows)

	counts, err := repo.CountsByStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts["messages"])
	assert.Equal(t, 1, counts["drawings"])
}
