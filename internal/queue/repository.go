package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/fieldsync/fieldsync/internal/loggy"
)

// ErrMutationNotFound is returned when a queue item is not found
var ErrMutationNotFound = errors.New("mutation not found")

// Repository defines persistence operations for the sync queue
type Repository interface {
	// Enqueue appends a mutation to the queue
	Enqueue(ctx context.Context, mut *Mutation) error

	// ListOrdered returns all queued mutations in enqueue order
	ListOrdered(ctx context.Context) ([]*Mutation, error)

	// Get returns the mutation or ErrMutationNotFound
	Get(ctx context.Context, id string) (*Mutation, error)

	// Delete removes a processed mutation
	Delete(ctx context.Context, id string) error

	// DeleteByRecord removes every queued mutation for a record
	DeleteByRecord(ctx context.Context, storeName, recordID string) error

	// UpdateRetry stores retry bookkeeping after a failed push
	UpdateRetry(ctx context.Context, id string, retryCount int, lastError string) error

	// ResetRetries zeroes retry counts so failed items are retried eagerly
	ResetRetries(ctx context.Context) error

	// Count returns the number of queued mutations
	Count(ctx context.Context) (int, error)

	// CountsByStore returns the number of queued mutations per store
	CountsByStore(ctx context.Context) (map[string]int, error)
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

var mutationColumns = []string{"id", "store_name", "record_id", "project_id", "action", "payload", "retry_count", "last_error", "enqueued_at"}

// Enqueue appends a mutation to the queue
func (r *SQLRepository) Enqueue(ctx context.Context, mut *Mutation) error {
	payload, err := mut.MarshalPayload()
	if err != nil {
		return fmt.Errorf("marshaling mutation payload: %w", err)
	}

	q := r.builder.Insert("sync_queue").
		Columns(mutationColumns...).
		Values(mut.ID, mut.StoreName, mut.RecordID, mut.ProjectID, string(mut.Action), nullableBytes(payload), mut.RetryCount, nullableString(mut.LastError), mut.EnqueuedAt.UnixMilli())

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building enqueue query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing enqueue query: %w", err)
	}

	return nil
}

// ListOrdered returns all queued mutations in enqueue order
func (r *SQLRepository) ListOrdered(ctx context.Context) ([]*Mutation, error) {
	q := r.builder.Select(mutationColumns...).
		From("sync_queue").
		OrderBy("id ASC")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list queue query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list queue query: %w", err)
	}
	defer rows.Close()

	var muts []*Mutation
	for rows.Next() {
		mut, err := r.scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mutation row: %w", err)
		}
		muts = append(muts, mut)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mutation rows: %w", err)
	}

	return muts, nil
}

// Get returns the mutation or ErrMutationNotFound
func (r *SQLRepository) Get(ctx context.Context, id string) (*Mutation, error) {
	q := r.builder.Select(mutationColumns...).
		From("sync_queue").
		Where(sq.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get mutation query: %w", err)
	}

	mut, err := r.scanMutation(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMutationNotFound
		}
		return nil, fmt.Errorf("executing get mutation query: %w", err)
	}

	return mut, nil
}

// Delete removes a processed mutation
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	q := r.builder.Delete("sync_queue").
		Where(sq.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete mutation query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete mutation query: %w", err)
	}

	return nil
}

// DeleteByRecord removes every queued mutation for a record
func (r *SQLRepository) DeleteByRecord(ctx context.Context, storeName, recordID string) error {
	q := r.builder.Delete("sync_queue").
		Where(sq.Eq{"store_name": storeName, "record_id": recordID})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete by record query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete by record query: %w", err)
	}

	return nil
}

// UpdateRetry stores retry bookkeeping after a failed push
func (r *SQLRepository) UpdateRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	q := r.builder.Update("sync_queue").
		Set("retry_count", retryCount).
		Set("last_error", nullableString(lastError)).
		Where(sq.Eq{"id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building update retry query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update retry query: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMutationNotFound
	}

	return nil
}

// ResetRetries zeroes retry counts so failed items are retried eagerly
func (r *SQLRepository) ResetRetries(ctx context.Context) error {
	q := r.builder.Update("sync_queue").
		Set("retry_count", 0).
		Set("last_error", nil)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building reset retries query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing reset retries query: %w", err)
	}

	return nil
}

// Count returns the number of queued mutations
func (r *SQLRepository) Count(ctx context.Context) (int, error) {
	q := r.builder.Select("COUNT(*)").From("sync_queue")

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count queue query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("executing count queue query: %w", err)
	}

	return count, nil
}

// CountsByStore returns the number of queued mutations per store
func (r *SQLRepository) CountsByStore(ctx context.Context) (map[string]int, error) {
	q := r.builder.Select("store_name", "COUNT(*)").
		From("sync_queue").
		GroupBy("store_name")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building counts by store query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing counts by store query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[name] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count rows: %w", err)
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanMutation(row rowScanner) (*Mutation, error) {
	var mut Mutation
	var action string
	var payload []byte
	var lastError sql.NullString
	var enqueuedAt int64

	err := row.Scan(
		&mut.ID,
		&mut.StoreName,
		&mut.RecordID,
		&mut.ProjectID,
		&action,
		&payload,
		&mut.RetryCount,
		&lastError,
		&enqueuedAt,
	)
	if err != nil {
		return nil, err
	}

	mut.Action = Action(action)
	mut.LastError = lastError.String
	mut.EnqueuedAt = time.UnixMilli(enqueuedAt)

	if err := mut.UnmarshalPayload(payload); err != nil {
		return nil, fmt.Errorf("unmarshaling mutation payload: %w", err)
	}

	return &mut, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
