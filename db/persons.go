package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

const (
	sqlPersonColumns = `id, name, display_name, actor_uri, inbox_uri, shared_inbox_uri, public_key_pem, private_key_pem, local, admin, last_refreshed, created_at`

	sqlUpsertPerson = `INSERT INTO persons(` + sqlPersonColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_uri) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			inbox_uri = excluded.inbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			public_key_pem = excluded.public_key_pem,
			last_refreshed = excluded.last_refreshed`
	sqlSelectPersonByURI       = `SELECT ` + sqlPersonColumns + ` FROM persons WHERE actor_uri = ?`
	sqlSelectPersonById        = `SELECT ` + sqlPersonColumns + ` FROM persons WHERE id = ?`
	sqlSelectLocalPersonByName = `SELECT ` + sqlPersonColumns + ` FROM persons WHERE local = 1 AND name = ?`
)

func scanPerson(row scanner) (*domain.Person, error) {
	var p domain.Person
	var displayName, sharedInbox, publicKey, privateKey sql.NullString
	err := row.Scan(
		&p.Id,
		&p.Name,
		&displayName,
		&p.ActorURI,
		&p.InboxURI,
		&sharedInbox,
		&publicKey,
		&privateKey,
		&p.Local,
		&p.Admin,
		&p.LastRefreshed,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	p.DisplayName = displayName.String
	p.SharedInboxURI = sharedInbox.String
	p.PublicKeyPem = publicKey.String
	p.PrivateKeyPem = privateKey.String
	return &p, nil
}

// UpsertPerson inserts the person or refreshes the cached copy with the same
// actor URI. The stored row is returned.
func (db *DB) UpsertPerson(ctx context.Context, p *domain.Person) (*domain.Person, error) {
	if p.Id == uuid.Nil {
		p.Id = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.LastRefreshed.IsZero() {
		p.LastRefreshed = time.Now()
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertPerson,
			p.Id,
			p.Name,
			p.DisplayName,
			p.ActorURI,
			p.InboxURI,
			p.SharedInboxURI,
			p.PublicKeyPem,
			p.PrivateKeyPem,
			p.Local,
			p.Admin,
			p.LastRefreshed,
			p.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadPersonByURI(ctx, p.ActorURI)
}

func (db *DB) ReadPersonByURI(ctx context.Context, uri string) (*domain.Person, error) {
	return scanPerson(db.db.QueryRowContext(ctx, sqlSelectPersonByURI, uri))
}

func (db *DB) ReadPersonById(ctx context.Context, id uuid.UUID) (*domain.Person, error) {
	return scanPerson(db.db.QueryRowContext(ctx, sqlSelectPersonById, id))
}

func (db *DB) ReadLocalPersonByName(ctx context.Context, name string) (*domain.Person, error) {
	return scanPerson(db.db.QueryRowContext(ctx, sqlSelectLocalPersonByName, name))
}
