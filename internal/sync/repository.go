package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/fieldsync/fieldsync/internal/loggy"
)

// Repository defines persistence operations for sync logs
type Repository interface {
	// Insert appends a sync log entry
	Insert(ctx context.Context, log *Log) error

	// Latest returns the most recent completed pass log, or nil when none exists
	Latest(ctx context.Context) (*Log, error)

	// List returns the most recent log entries, newest first
	List(ctx context.Context, limit int) ([]*Log, error)

	// PruneBefore removes log entries completed before the cutoff
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
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

var logColumns = []string{"id", "sync_type", "store_name", "record_id", "success", "error_type", "error_message", "items_synced", "started_at", "completed_at"}

// Insert appends a sync log entry
func (r *SQLRepository) Insert(ctx context.Context, log *Log) error {
	q := r.builder.Insert("sync_logs").
		Columns(logColumns...).
		Values(log.ID, string(log.SyncType), log.StoreName, log.RecordID, log.Success,
			nullableString(log.ErrorType), nullableString(log.ErrorMessage),
			log.ItemsSynced, log.StartedAt, log.CompletedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building insert sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing insert sync log query: %w", err)
	}

	return nil
}

// Latest returns the most recent completed pass log, or nil when none exists
func (r *SQLRepository) Latest(ctx context.Context) (*Log, error) {
	q := r.builder.Select(logColumns...).
		From("sync_logs").
		Where(sq.Eq{"store_name": StoreNameAll}).
		OrderBy("completed_at DESC").
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building latest sync log query: %w", err)
	}

	log, err := r.scanLog(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("executing latest sync log query: %w", err)
	}

	return log, nil
}

// List returns the most recent log entries, newest first
func (r *SQLRepository) List(ctx context.Context, limit int) ([]*Log, error) {
	q := r.builder.Select(logColumns...).
		From("sync_logs").
		OrderBy("completed_at DESC").
		Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		log, err := r.scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// PruneBefore removes log entries completed before the cutoff
func (r *SQLRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := r.builder.Delete("sync_logs").
		Where(sq.Lt{"completed_at": cutoff})

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building prune sync logs query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing prune sync logs query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned sync logs: %w", err)
	}

	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanLog(row rowScanner) (*Log, error) {
	var log Log
	var syncType string
	var errorType, errorMessage sql.NullString

	err := row.Scan(
		&log.ID,
		&syncType,
		&log.StoreName,
		&log.RecordID,
		&log.Success,
		&errorType,
		&errorMessage,
		&log.ItemsSynced,
		&log.StartedAt,
		&log.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	log.SyncType = Type(syncType)
	log.ErrorType = errorType.String
	log.ErrorMessage = errorMessage.String

	return &log, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
