package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/fieldsync/fieldsync/internal/loggy"
)

var (
	// ErrRecordNotFound is returned when a record is not found
	ErrRecordNotFound = errors.New("record not found")
)

// Repository defines persistence operations for local records
type Repository interface {
	// Put upserts a record by (store, id)
	Put(ctx context.Context, record *Record) error

	// Get returns the record or ErrRecordNotFound
	Get(ctx context.Context, storeName, id string) (*Record, error)

	// GetByParent returns all records whose parent id equals the given value
	GetByParent(ctx context.Context, storeName, parentID string) ([]*Record, error)

	// GetAll returns every record in a store
	GetAll(ctx context.Context, storeName string) ([]*Record, error)

	// Delete removes the record
	Delete(ctx context.Context, storeName, id string) error

	// MarkSynced sets synced=true and synced_at, leaving all other fields untouched
	MarkSynced(ctx context.Context, storeName, id string, syncedAt int64) error

	// CountPending returns the number of unsynced records in a store
	CountPending(ctx context.Context, storeName string) (int, error)

	// UsageByStore returns the approximate payload bytes held per store
	UsageByStore(ctx context.Context) (map[string]int64, error)
}

// SQLRepository implements Repository using a SQL database
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var recordColumns = []string{"store_name", "id", "parent_id", "payload", "synced", "local_updated_at", "synced_at"}

// Put upserts a record by (store, id)
func (r *SQLRepository) Put(ctx context.Context, record *Record) error {
	payload, err := record.MarshalPayload()
	if err != nil {
		return fmt.Errorf("marshaling record payload: %w", err)
	}

	q := r.builder.Insert("records").
		Columns(recordColumns...).
		Values(record.StoreName, record.ID, record.ParentID, string(payload), record.Synced, record.LocalUpdatedAt, record.SyncedAt).
		Suffix(`ON CONFLICT (store_name, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			payload = excluded.payload,
			synced = excluded.synced,
			local_updated_at = excluded.local_updated_at,
			synced_at = excluded.synced_at`)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building put record query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing put record query: %w", err)
	}

	return nil
}

// Get returns the record or ErrRecordNotFound
func (r *SQLRepository) Get(ctx context.Context, storeName, id string) (*Record, error) {
	q := r.builder.Select(recordColumns...).
		From("records").
		Where(sq.Eq{"store_name": storeName, "id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get record query: %w", err)
	}

	record, err := r.scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("executing get record query: %w", err)
	}

	return record, nil
}

// GetByParent returns all records whose parent id equals the given value
func (r *SQLRepository) GetByParent(ctx context.Context, storeName, parentID string) ([]*Record, error) {
	q := r.builder.Select(recordColumns...).
		From("records").
		Where(sq.Eq{"store_name": storeName, "parent_id": parentID}).
		OrderBy("local_updated_at DESC")

	return r.queryRecords(ctx, q)
}

// GetAll returns every record in a store
func (r *SQLRepository) GetAll(ctx context.Context, storeName string) ([]*Record, error) {
	q := r.builder.Select(recordColumns...).
		From("records").
		Where(sq.Eq{"store_name": storeName}).
		OrderBy("local_updated_at DESC")

	return r.queryRecords(ctx, q)
}

// Delete removes the record
func (r *SQLRepository) Delete(ctx context.Context, storeName, id string) error {
	q := r.builder.Delete("records").
		Where(sq.Eq{"store_name": storeName, "id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete record query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete record query: %w", err)
	}

	return nil
}

// MarkSynced sets synced=true and synced_at, leaving all other fields untouched
func (r *SQLRepository) MarkSynced(ctx context.Context, storeName, id string, syncedAt int64) error {
	q := r.builder.Update("records").
		Set("synced", true).
		Set("synced_at", syncedAt).
		Where(sq.Eq{"store_name": storeName, "id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building mark synced query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing mark synced query: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// CountPending returns the number of unsynced records in a store
func (r *SQLRepository) CountPending(ctx context.Context, storeName string) (int, error) {
	q := r.builder.Select("COUNT(*)").
		From("records").
		Where(sq.Eq{"store_name": storeName, "synced": false})

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count pending query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("executing count pending query: %w", err)
	}

	return count, nil
}

// UsageByStore returns the approximate payload bytes held per store
func (r *SQLRepository) UsageByStore(ctx context.Context) (map[string]int64, error) {
	q := r.builder.Select("store_name", "COALESCE(SUM(LENGTH(payload)), 0)").
		From("records").
		GroupBy("store_name")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building usage by store query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing usage by store query: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]int64)
	for rows.Next() {
		var name string
		var bytes int64
		if err := rows.Scan(&name, &bytes); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		usage[name] = bytes
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usage, nil
}

func (r *SQLRepository) queryRecords(ctx context.Context, q sq.SelectBuilder) ([]*Record, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building records query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing records query: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var parentID sql.NullString
	var payload []byte
	var syncedAt sql.NullInt64

	err := row.Scan(
		&record.StoreName,
		&record.ID,
		&parentID,
		&payload,
		&record.Synced,
		&record.LocalUpdatedAt,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ParentID = parentID.String
	if syncedAt.Valid {
		record.SyncedAt = &syncedAt.Int64
	}

	if err := record.UnmarshalPayload(payload); err != nil {
		return nil, fmt.Errorf("unmarshaling record payload: %w", err)
	}

	return &record, nil
}
