package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

const (
	sqlPostColumns = `id, object_uri, name, body, url, creator_id, community_id, local, deleted, locked, sensitive, created_at, edited_at`

	sqlUpsertPost = `INSERT INTO posts(` + sqlPostColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_uri) DO UPDATE SET
			name = excluded.name,
			body = excluded.body,
			url = excluded.url,
			locked = excluded.locked,
			sensitive = excluded.sensitive,
			edited_at = excluded.edited_at`
	sqlSelectPostByURI      = `SELECT ` + sqlPostColumns + ` FROM posts WHERE object_uri = ?`
	sqlSelectPostById       = `SELECT ` + sqlPostColumns + ` FROM posts WHERE id = ?`
	sqlUpdatePostDeleted    = `UPDATE posts SET deleted = ? WHERE id = ?`
	sqlSelectCommunityPosts = `SELECT ` + sqlPostColumns + ` FROM posts WHERE community_id = ? AND deleted = 0 ORDER BY created_at DESC LIMIT ? OFFSET ?`

	sqlCommentColumns = `id, object_uri, content, creator_id, post_id, parent_id, local, deleted, created_at, edited_at`

	sqlUpsertComment = `INSERT INTO comments(` + sqlCommentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_uri) DO UPDATE SET
			content = excluded.content,
			edited_at = excluded.edited_at`
	sqlSelectCommentByURI   = `SELECT ` + sqlCommentColumns + ` FROM comments WHERE object_uri = ?`
	sqlSelectCommentById    = `SELECT ` + sqlCommentColumns + ` FROM comments WHERE id = ?`
	sqlUpdateCommentDeleted = `UPDATE comments SET deleted = ? WHERE id = ?`

	sqlPrivateMessageColumns = `id, object_uri, content, creator_id, recipient_id, local, deleted, created_at, edited_at`

	sqlUpsertPrivateMessage = `INSERT INTO private_messages(` + sqlPrivateMessageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_uri) DO UPDATE SET
			content = excluded.content,
			edited_at = excluded.edited_at`
	sqlSelectPrivateMessageByURI = `SELECT ` + sqlPrivateMessageColumns + ` FROM private_messages WHERE object_uri = ?`
)

func scanPost(row scanner) (*domain.Post, error) {
	var p domain.Post
	var body, url sql.NullString
	var editedAt sql.NullTime
	err := row.Scan(
		&p.Id,
		&p.ObjectURI,
		&p.Name,
		&body,
		&url,
		&p.CreatorId,
		&p.CommunityId,
		&p.Local,
		&p.Deleted,
		&p.Locked,
		&p.Sensitive,
		&p.CreatedAt,
		&editedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	p.Body = body.String
	p.URL = url.String
	p.EditedAt = timePtr(editedAt)
	return &p, nil
}

// UpsertPost stores a post or applies an edit to the stored copy. Ownership
// fields (creator, community) never change on update.
func (db *DB) UpsertPost(ctx context.Context, p *domain.Post) (*domain.Post, error) {
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertPost,
			p.Id,
			p.ObjectURI,
			p.Name,
			p.Body,
			p.URL,
			p.CreatorId,
			p.CommunityId,
			p.Local,
			p.Deleted,
			p.Locked,
			p.Sensitive,
			p.CreatedAt,
			nullTime(p.EditedAt),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadPostByURI(ctx, p.ObjectURI)
}

func (db *DB) ReadPostByURI(ctx context.Context, uri string) (*domain.Post, error) {
	return scanPost(db.db.QueryRowContext(ctx, sqlSelectPostByURI, uri))
}

func (db *DB) ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	return scanPost(db.db.QueryRowContext(ctx, sqlSelectPostById, id))
}

func (db *DB) UpdatePostDeleted(ctx context.Context, id uuid.UUID, deleted bool) (*domain.Post, error) {
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return execOne(ctx, tx, sqlUpdatePostDeleted, deleted, id)
	})
	if err != nil {
		return nil, err
	}
	return db.ReadPostById(ctx, id)
}

// ReadCommunityPosts returns the visible posts of a community, newest first
func (db *DB) ReadCommunityPosts(ctx context.Context, communityId uuid.UUID, limit, offset int) ([]domain.Post, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectCommunityPosts, communityId, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return posts, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

func scanComment(row scanner) (*domain.Comment, error) {
	var c domain.Comment
	var parentId uuid.NullUUID
	var editedAt sql.NullTime
	err := row.Scan(
		&c.Id,
		&c.ObjectURI,
		&c.Content,
		&c.CreatorId,
		&c.PostId,
		&parentId,
		&c.Local,
		&c.Deleted,
		&c.CreatedAt,
		&editedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if parentId.Valid {
		id := parentId.UUID
		c.ParentId = &id
	}
	c.EditedAt = timePtr(editedAt)
	return &c, nil
}

func (db *DB) UpsertComment(ctx context.Context, c *domain.Comment) (*domain.Comment, error) {
	if c.Id == uuid.Nil {
		c.Id = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	var parentId uuid.NullUUID
	if c.ParentId != nil {
		parentId = uuid.NullUUID{UUID: *c.ParentId, Valid: true}
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertComment,
			c.Id,
			c.ObjectURI,
			c.Content,
			c.CreatorId,
			c.PostId,
			parentId,
			c.Local,
			c.Deleted,
			c.CreatedAt,
			nullTime(c.EditedAt),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadCommentByURI(ctx, c.ObjectURI)
}

func (db *DB) ReadCommentByURI(ctx context.Context, uri string) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentByURI, uri))
}

func (db *DB) ReadCommentById(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentById, id))
}

func (db *DB) UpdateCommentDeleted(ctx context.Context, id uuid.UUID, deleted bool) (*domain.Comment, error) {
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return execOne(ctx, tx, sqlUpdateCommentDeleted, deleted, id)
	})
	if err != nil {
		return nil, err
	}
	return db.ReadCommentById(ctx, id)
}

func scanPrivateMessage(row scanner) (*domain.PrivateMessage, error) {
	var m domain.PrivateMessage
	var editedAt sql.NullTime
	err := row.Scan(
		&m.Id,
		&m.ObjectURI,
		&m.Content,
		&m.CreatorId,
		&m.RecipientId,
		&m.Local,
		&m.Deleted,
		&m.CreatedAt,
		&editedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	m.EditedAt = timePtr(editedAt)
	return &m, nil
}

func (db *DB) UpsertPrivateMessage(ctx context.Context, m *domain.PrivateMessage) (*domain.PrivateMessage, error) {
	if m.Id == uuid.Nil {
		m.Id = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertPrivateMessage,
			m.Id,
			m.ObjectURI,
			m.Content,
			m.CreatorId,
			m.RecipientId,
			m.Local,
			m.Deleted,
			m.CreatedAt,
			nullTime(m.EditedAt),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadPrivateMessageByURI(ctx, m.ObjectURI)
}

func (db *DB) ReadPrivateMessageByURI(ctx context.Context, uri string) (*domain.PrivateMessage, error) {
	return scanPrivateMessage(db.db.QueryRowContext(ctx, sqlSelectPrivateMessageByURI, uri))
}
