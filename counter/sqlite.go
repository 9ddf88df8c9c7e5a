package counter

import (
	"context"
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/nex/errors"
)

// SQLiteStore keeps counters in the entity_counts table created by db.Migrate.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLiteStore creates a store on an already migrated database.
func NewSQLiteStore(db *sql.DB, logger *zap.SugaredLogger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLiteStore{db: db, logger: logger}
}

const (
	sqliteIncrement = `UPDATE entity_counts SET count = count + ?, updated_at = ? WHERE entity = ?`

	sqliteInitialize = `INSERT INTO entity_counts (entity, count, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity) DO NOTHING`

	sqliteGet = `SELECT entity, count, updated_at FROM entity_counts WHERE entity = ?`

	sqliteList = `SELECT entity, count, updated_at FROM entity_counts
		ORDER BY count DESC, entity ASC LIMIT ?`
)

func (s *SQLiteStore) IncrementIfExists(ctx context.Context, entity string, delta int64) error {
	if err := validateWrite(entity, OpIncrement, delta); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqliteIncrement, delta, time.Now().UTC(), entity)
	if err != nil {
		return newStoreError(entity, OpIncrement, err, classifySQLite)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return newStoreError(entity, OpIncrement, err, classifySQLite)
	}
	if n == 0 {
		return absentError(entity, OpIncrement)
	}
	return nil
}

func (s *SQLiteStore) Initialize(ctx context.Context, entity string, value int64) error {
	if err := validateWrite(entity, OpInitialize, value); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, sqliteInitialize, entity, value, now, now)
	if err != nil {
		return newStoreError(entity, OpInitialize, err, classifySQLite)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return newStoreError(entity, OpInitialize, err, classifySQLite)
	}
	if n == 0 {
		return existsError(entity, OpInitialize)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, entity string) (Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx, sqliteGet, entity).Scan(&e.Entity, &e.Count, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, absentError(entity, OpGet)
	}
	if err != nil {
		return Entry{}, newStoreError(entity, OpGet, err, classifySQLite)
	}
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, sqliteList, limit)
	if err != nil {
		return nil, newStoreError("", OpList, err, classifySQLite)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Entity, &e.Count, &e.UpdatedAt); err != nil {
			return nil, newStoreError("", OpList, err, classifySQLite)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("", OpList, err, classifySQLite)
	}
	return entries, nil
}

// classifySQLite maps sqlite result codes to kinds.
func classifySQLite(err error) Kind {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		if errors.Is(err, sql.ErrConnDone) {
			return KindUnavailable
		}
		return KindOther
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return KindThrottled
	case sqlite3.ErrReadonly, sqlite3.ErrPerm, sqlite3.ErrAuth:
		return KindPermission
	case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrTooBig, sqlite3.ErrRange:
		return KindValidation
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrCorrupt:
		return KindUnavailable
	default:
		return KindOther
	}
}
