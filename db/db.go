package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

// maxBusyRetries bounds how often a transaction is restarted on SQLITE_BUSY
const maxBusyRetries = 5

type scanner interface {
	Scan(dest ...any) error
}

// Open opens the sqlite database at path and brings the schema up to date.
func Open(ctx context.Context, path string) (*DB, error) {
	// pragmas in the DSN apply to every pooled connection
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)" +
		"&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Warnf("Failed to enable WAL mode: %v", err)
	} else {
		log.Debugf("Database journal mode: %s", journalMode)
	}

	db := &DB{db: sqlDB}
	if err := db.RunMigrations(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// GetDB returns the process wide database, opened on first use.
func GetDB(path string) *DB {
	dbOnce.Do(func() {
		db, err := Open(context.Background(), path)
		if err != nil {
			panic(err)
		}
		log.Infof("Database %s initialized with connection pooling (max 25 connections)", path)
		dbInstance = db
	})

	return dbInstance
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = db.runTransaction(ctx, f)
		var serr *sqlite.Error
		if errors.As(err, &serr) && serr.Code()&0xff == sqlitelib.SQLITE_BUSY {
			continue
		}
		break
	}
	if err != nil {
		log.Errorf("error in transaction: %s", err)
	}
	return err
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
