package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertModLog            = `INSERT INTO mod_log(id, moderator_id, community_id, action, target_uri, reason, removed, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectModLogByCommunity = `SELECT id, moderator_id, community_id, action, target_uri, reason, removed, created_at FROM mod_log WHERE community_id = ? ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) InsertModLog(ctx context.Context, e *domain.ModLogEntry) error {
	if e.Id == uuid.Nil {
		e.Id = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertModLog,
			e.Id,
			e.ModeratorId,
			e.CommunityId,
			string(e.Action),
			e.TargetURI,
			e.Reason,
			e.Removed,
			e.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadModLog(ctx context.Context, communityId uuid.UUID, limit int) ([]domain.ModLogEntry, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectModLogByCommunity, communityId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ModLogEntry
	for rows.Next() {
		var e domain.ModLogEntry
		var action string
		var reason sql.NullString
		if err := rows.Scan(&e.Id, &e.ModeratorId, &e.CommunityId, &action, &e.TargetURI, &reason, &e.Removed, &e.CreatedAt); err != nil {
			return entries, err
		}
		e.Action = domain.ModAction(action)
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
