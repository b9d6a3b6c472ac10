package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB wraps the sqlite handle behind the repository methods in this package.
// The rest of the codebase never issues raw storage calls.
type DB struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the sqlite database at path and applies the
// pragmas for a concurrent federation workload.
func Open(path string, log zerolog.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory") {
		// A pooled in-memory database is one database per connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	} else {
		log.Debug().Str("mode", journalMode).Msg("database journal mode")
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: sqlDB, log: log}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f inside a transaction, retrying on SQLITE_BUSY.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	for {
		err = f(tx)
		if err != nil {
			if serr, ok := err.(*sqlite.Error); ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("error committing transaction: %w", err)
		}
		return nil
	}
}

// execInsertIgnore runs an INSERT ... ON CONFLICT DO NOTHING statement and
// reports whether a row was actually written. The false case is how the
// resolver and handlers detect an idempotent replay.
func (db *DB) execInsertIgnore(query string, args ...any) (bool, error) {
	var inserted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}
