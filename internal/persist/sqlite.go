package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

// SQLiteStore keeps contact histories in a single SQLite file through the
// pure-Go modernc driver.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS ais_snapshots (
	mmsi        INTEGER NOT NULL,
	seq         INTEGER NOT NULL,
	sog_knots   REAL    NOT NULL,
	cog_rad     REAL    NOT NULL,
	heading_rad REAL    NOT NULL,
	lat_rad     REAL    NOT NULL,
	lon_rad     REAL    NOT NULL,
	ts_ms       INTEGER NOT NULL,
	label       TEXT    NOT NULL,
	PRIMARY KEY (mmsi, seq)
)`

// OpenSQLite opens (creating when needed) the database at dsn and ensures
// the schema exists.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save replaces the stored histories with contacts in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, contacts model.Contacts) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM "+tableName); err != nil {
		return fmt.Errorf("sqlite clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		tableName, strings.Join(columns, ", "),
	))
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range flatten(contacts) {
		if _, err = stmt.ExecContext(ctx, r.values()...); err != nil {
			return fmt.Errorf("sqlite insert mmsi %d: %w", r.mmsi, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Load reads every stored history, oldest snapshot first per vessel.
func (s *SQLiteStore) Load(ctx context.Context) (model.Contacts, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY mmsi, seq",
		strings.Join(columns, ", "), tableName,
	))
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	contacts := make(model.Contacts)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.mmsi, &r.seq, &r.sog, &r.cog, &r.heading, &r.lat, &r.lon, &r.timestamp, &r.label); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		collect(contacts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite rows: %w", err)
	}
	return contacts, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
