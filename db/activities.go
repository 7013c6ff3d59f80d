package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// Activity ledger queries
const (
	sqlActivityColumns = `id, activity_uri, raw_json, local, sensitive, created_at`

	// Concurrent inserts of the same activity id do not fail, the second
	// writer is a no-op.
	sqlInsertActivity         = `INSERT INTO activities(` + sqlActivityColumns + `) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(activity_uri) DO NOTHING`
	sqlSelectActivityByURI    = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE activity_uri = ?`
	sqlSelectRecentActivities = `SELECT ` + sqlActivityColumns + ` FROM activities ORDER BY created_at DESC LIMIT ?`
)

func scanActivity(row scanner) (*domain.Activity, error) {
	var a domain.Activity
	err := row.Scan(&a.Id, &a.ActivityURI, &a.RawJSON, &a.Local, &a.Sensitive, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// InsertActivity records an activity id in the ledger. Returns true if this
// call created the entry.
func (db *DB) InsertActivity(ctx context.Context, a *domain.Activity) (bool, error) {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	var inserted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertActivity,
			a.Id,
			a.ActivityURI,
			a.RawJSON,
			a.Local,
			a.Sensitive,
			a.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	return inserted, err
}

func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	return scanActivity(db.db.QueryRowContext(ctx, sqlSelectActivityByURI, uri))
}

// ReadRecentActivities returns the newest ledger entries
func (db *DB) ReadRecentActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectRecentActivities, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return activities, err
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}
