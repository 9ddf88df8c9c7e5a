package counter

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teranos/nex/errors"
)

// PgDB is the subset of *pgxpool.Pool the postgres store uses. *pgx.Conn satisfies it too.
type PgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSchema creates the entity_counts table on postgres.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS entity_counts (
    entity     TEXT PRIMARY KEY,
    count      BIGINT NOT NULL CHECK (count >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_entity_counts_count ON entity_counts(count DESC);
`

// PostgresStore keeps counters in a postgres table.
type PostgresStore struct {
	db     PgDB
	logger *zap.SugaredLogger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on db. Call EnsureTable before first use.
func NewPostgresStore(db PgDB, logger *zap.SugaredLogger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PostgresStore{db: db, logger: logger}
}

// ConnectPostgres opens a pgx pool for dsn and pings it.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WithHint(errors.Wrap(err, "failed to reach postgres"),
			"check counter.postgres_dsn or NEX_COUNTER_POSTGRES_DSN")
	}
	return pool, nil
}

// EnsureTable creates the counters table if it doesn't exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return errors.Wrap(err, "failed to create entity_counts table")
	}
	return nil
}

const (
	pgIncrement = `UPDATE entity_counts SET count = count + $1, updated_at = $2 WHERE entity = $3`

	pgInitialize = `INSERT INTO entity_counts (entity, count, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (entity) DO NOTHING`

	pgGet = `SELECT entity, count, updated_at FROM entity_counts WHERE entity = $1`

	pgList = `SELECT entity, count, updated_at FROM entity_counts
		ORDER BY count DESC, entity ASC LIMIT $1`
)

func (s *PostgresStore) IncrementIfExists(ctx context.Context, entity string, delta int64) error {
	if err := validateWrite(entity, OpIncrement, delta); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, pgIncrement, delta, time.Now().UTC(), entity)
	if err != nil {
		return newStoreError(entity, OpIncrement, err, classifyPostgres)
	}
	if tag.RowsAffected() == 0 {
		return absentError(entity, OpIncrement)
	}
	return nil
}

func (s *PostgresStore) Initialize(ctx context.Context, entity string, value int64) error {
	if err := validateWrite(entity, OpInitialize, value); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, pgInitialize, entity, value, time.Now().UTC())
	if err != nil {
		return newStoreError(entity, OpInitialize, err, classifyPostgres)
	}
	if tag.RowsAffected() == 0 {
		return existsError(entity, OpInitialize)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, entity string) (Entry, error) {
	var e Entry
	err := s.db.QueryRow(ctx, pgGet, entity).Scan(&e.Entity, &e.Count, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, absentError(entity, OpGet)
	}
	if err != nil {
		return Entry{}, newStoreError(entity, OpGet, err, classifyPostgres)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	var lim any = limit
	if limit <= 0 {
		lim = nil // LIMIT NULL means no limit
	}
	rows, err := s.db.Query(ctx, pgList, lim)
	if err != nil {
		return nil, newStoreError("", OpList, err, classifyPostgres)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Entity, &e.Count, &e.UpdatedAt); err != nil {
			return nil, newStoreError("", OpList, err, classifyPostgres)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("", OpList, err, classifyPostgres)
	}
	return entries, nil
}

// classifyPostgres maps SQLSTATE codes to kinds.
func classifyPostgres(err error) Kind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
			return KindUnavailable
		}
		return KindOther
	}
	switch pgErr.Code {
	case "42501":
		return KindPermission
	case "40001", "40P01", "55P03", "53300":
		return KindThrottled
	case "57P01", "57P02", "57P03":
		return KindUnavailable
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
		return KindValidation
	case strings.HasPrefix(pgErr.Code, "08"):
		return KindUnavailable
	case strings.HasPrefix(pgErr.Code, "28"):
		return KindPermission
	}
	return KindOther
}
