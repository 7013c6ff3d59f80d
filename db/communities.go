package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

const (
	sqlCommunityColumns = `id, name, title, description, actor_uri, inbox_uri, shared_inbox_uri, followers_uri, public_key_pem, private_key_pem, local, deleted, last_refreshed, created_at`

	sqlUpsertCommunity = `INSERT INTO communities(` + sqlCommunityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_uri) DO UPDATE SET
			name = excluded.name,
			title = excluded.title,
			description = excluded.description,
			inbox_uri = excluded.inbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			followers_uri = excluded.followers_uri,
			public_key_pem = excluded.public_key_pem,
			last_refreshed = excluded.last_refreshed`
	sqlSelectCommunityByURI       = `SELECT ` + sqlCommunityColumns + ` FROM communities WHERE actor_uri = ?`
	sqlSelectCommunityById        = `SELECT ` + sqlCommunityColumns + ` FROM communities WHERE id = ?`
	sqlSelectLocalCommunityByName = `SELECT ` + sqlCommunityColumns + ` FROM communities WHERE local = 1 AND name = ?`
	sqlUpdateCommunityDeleted     = `UPDATE communities SET deleted = ? WHERE id = ?`

	sqlSelectCommunityModerators = `SELECT ` + sqlPersonPrefixedColumns + ` FROM community_moderators m
		INNER JOIN persons p ON p.id = m.person_id
		WHERE m.community_id = ?
		ORDER BY m.created_at`
	sqlSelectIsModerator  = `SELECT COUNT(*) FROM community_moderators WHERE community_id = ? AND person_id = ?`
	sqlInsertModerator    = `INSERT INTO community_moderators(community_id, person_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlDeleteModerator    = `DELETE FROM community_moderators WHERE community_id = ? AND person_id = ?`
	sqlDeleteAllModerator = `DELETE FROM community_moderators WHERE community_id = ?`

	sqlSelectIsBanned = `SELECT COUNT(*) FROM community_bans WHERE community_id = ? AND person_id = ?`
	sqlInsertBan      = `INSERT INTO community_bans(community_id, person_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`

	sqlUpsertFollower = `INSERT INTO community_followers(community_id, person_id, pending, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(community_id, person_id) DO UPDATE SET pending = excluded.pending`
	sqlAcceptFollower  = `UPDATE community_followers SET pending = 0 WHERE community_id = ? AND person_id = ?`
	sqlDeleteFollower  = `DELETE FROM community_followers WHERE community_id = ? AND person_id = ?`
	sqlSelectFollowers = `SELECT ` + sqlPersonPrefixedColumns + ` FROM community_followers f
		INNER JOIN persons p ON p.id = f.person_id
		WHERE f.community_id = ? AND f.pending = 0`

	sqlPersonPrefixedColumns = `p.id, p.name, p.display_name, p.actor_uri, p.inbox_uri, p.shared_inbox_uri, p.public_key_pem, p.private_key_pem, p.local, p.admin, p.last_refreshed, p.created_at`
)

func scanCommunity(row scanner) (*domain.Community, error) {
	var c domain.Community
	var title, description, sharedInbox, followers, publicKey, privateKey sql.NullString
	err := row.Scan(
		&c.Id,
		&c.Name,
		&title,
		&description,
		&c.ActorURI,
		&c.InboxURI,
		&sharedInbox,
		&followers,
		&publicKey,
		&privateKey,
		&c.Local,
		&c.Deleted,
		&c.LastRefreshed,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	c.Title = title.String
	c.Description = description.String
	c.SharedInboxURI = sharedInbox.String
	c.FollowersURI = followers.String
	c.PublicKeyPem = publicKey.String
	c.PrivateKeyPem = privateKey.String
	return &c, nil
}

func (db *DB) UpsertCommunity(ctx context.Context, c *domain.Community) (*domain.Community, error) {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.LastRefreshed.IsZero() {
		c.LastRefreshed = time.Now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertCommunity,
			c.Id,
			c.Name,
			c.Title,
			c.Description,
			c.ActorURI,
			c.InboxURI,
			c.SharedInboxURI,
			c.FollowersURI,
			c.PublicKeyPem,
			c.PrivateKeyPem,
			c.Local,
			c.Deleted,
			c.LastRefreshed,
			c.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadCommunityByURI(ctx, c.ActorURI)
}

func (db *DB) ReadCommunityByURI(ctx context.Context, uri string) (*domain.Community, error) {
	return scanCommunity(db.db.QueryRowContext(ctx, sqlSelectCommunityByURI, uri))
}

func (db *DB) ReadCommunityById(ctx context.Context, id uuid.UUID) (*domain.Community, error) {
	return scanCommunity(db.db.QueryRowContext(ctx, sqlSelectCommunityById, id))
}

func (db *DB) ReadLocalCommunityByName(ctx context.Context, name string) (*domain.Community, error) {
	return scanCommunity(db.db.QueryRowContext(ctx, sqlSelectLocalCommunityByName, name))
}

// UpdateCommunityDeleted sets the soft-delete flag and returns the updated row
func (db *DB) UpdateCommunityDeleted(ctx context.Context, id uuid.UUID, deleted bool) (*domain.Community, error) {
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return execOne(ctx, tx, sqlUpdateCommunityDeleted, deleted, id)
	})
	if err != nil {
		return nil, err
	}
	return db.ReadCommunityById(ctx, id)
}

func (db *DB) ReadCommunityModerators(ctx context.Context, communityId uuid.UUID) ([]domain.Person, error) {
	return db.queryPersons(ctx, sqlSelectCommunityModerators, communityId)
}

func (db *DB) IsCommunityModerator(ctx context.Context, communityId, personId uuid.UUID) (bool, error) {
	return db.exists(ctx, sqlSelectIsModerator, communityId, personId)
}

func (db *DB) JoinCommunityModerator(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertModerator, communityId, personId, time.Now())
		return err
	})
}

func (db *DB) LeaveCommunityModerator(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteModerator, communityId, personId)
		return err
	})
}

// SetCommunityModerators replaces the moderator list of a community, used
// when a remote community's moderators collection was fetched.
func (db *DB) SetCommunityModerators(ctx context.Context, communityId uuid.UUID, personIds []uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlDeleteAllModerator, communityId); err != nil {
			return err
		}
		now := time.Now()
		for _, personId := range personIds {
			if _, err := tx.ExecContext(ctx, sqlInsertModerator, communityId, personId, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) IsBannedFromCommunity(ctx context.Context, communityId, personId uuid.UUID) (bool, error) {
	return db.exists(ctx, sqlSelectIsBanned, communityId, personId)
}

func (db *DB) BanFromCommunity(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertBan, communityId, personId, time.Now())
		return err
	})
}

// FollowCommunity stores a subscription. Pending follows are not part of
// the fan-out set until accepted.
func (db *DB) FollowCommunity(ctx context.Context, communityId, personId uuid.UUID, pending bool) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertFollower, communityId, personId, pending, time.Now())
		return err
	})
}

func (db *DB) AcceptCommunityFollow(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return execOne(ctx, tx, sqlAcceptFollower, communityId, personId)
	})
}

func (db *DB) UnfollowCommunity(ctx context.Context, communityId, personId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteFollower, communityId, personId)
		return err
	})
}

// ReadCommunityFollowers returns the accepted subscribers of a community
func (db *DB) ReadCommunityFollowers(ctx context.Context, communityId uuid.UUID) ([]domain.Person, error) {
	return db.queryPersons(ctx, sqlSelectFollowers, communityId)
}

func (db *DB) queryPersons(ctx context.Context, query string, args ...any) ([]domain.Person, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []domain.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return persons, err
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

func (db *DB) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var count int
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// execOne runs an update that must touch exactly one row
func execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
