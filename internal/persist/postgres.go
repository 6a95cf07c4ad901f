package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

// Querier is the subset of *pgxpool.Pool the postgres store uses. pgxmock
// pools satisfy it too.
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps contact histories in a PostgreSQL table.
type PostgresStore struct {
	db    Querier
	close func()
}

const postgresSchema = `CREATE TABLE IF NOT EXISTS ais_snapshots (
	mmsi        INTEGER          NOT NULL,
	seq         INTEGER          NOT NULL,
	sog_knots   DOUBLE PRECISION NOT NULL,
	cog_rad     DOUBLE PRECISION NOT NULL,
	heading_rad DOUBLE PRECISION NOT NULL,
	lat_rad     DOUBLE PRECISION NOT NULL,
	lon_rad     DOUBLE PRECISION NOT NULL,
	ts_ms       BIGINT           NOT NULL,
	label       TEXT             NOT NULL,
	PRIMARY KEY (mmsi, seq)
)`

// OpenPostgres connects a pool to dsn, pings it and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	store := NewPostgresStore(pool)
	store.close = pool.Close
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing connection. The caller keeps
// ownership of db.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the snapshot table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

// Save replaces the stored histories with contacts in one transaction,
// bulk loading rows with COPY.
func (s *PostgresStore) Save(ctx context.Context, contacts model.Contacts) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM "+tableName); err != nil {
		return fmt.Errorf("postgres clear: %w", err)
	}

	rows := flatten(contacts)
	if len(rows) > 0 {
		values := make([][]any, 0, len(rows))
		for _, r := range rows {
			values = append(values, r.values())
		}
		n, copyErr := tx.CopyFrom(ctx, pgx.Identifier{tableName}, columns, pgx.CopyFromRows(values))
		if copyErr != nil {
			err = fmt.Errorf("postgres copy: %w", copyErr)
			return err
		}
		if n != int64(len(rows)) {
			err = fmt.Errorf("postgres copy: wrote %d of %d rows", n, len(rows))
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

// Load reads every stored history, oldest snapshot first per vessel.
func (s *PostgresStore) Load(ctx context.Context) (model.Contacts, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY mmsi, seq",
		strings.Join(columns, ", "), tableName,
	))
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	defer rows.Close()

	contacts := make(model.Contacts)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.mmsi, &r.seq, &r.sog, &r.cog, &r.heading, &r.lat, &r.lon, &r.timestamp, &r.label); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		collect(contacts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows: %w", err)
	}
	return contacts, nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s != nil && s.close != nil {
		s.close()
	}
	return nil
}
