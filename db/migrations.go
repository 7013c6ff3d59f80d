package db

import (
	"context"
	"database/sql"

	"github.com/charmbracelet/log"
)

const (
	sqlCreatePersonsTable = `CREATE TABLE IF NOT EXISTS persons (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		display_name TEXT,
		actor_uri TEXT UNIQUE NOT NULL,
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT,
		public_key_pem TEXT,
		private_key_pem TEXT,
		local INTEGER DEFAULT 0,
		admin INTEGER DEFAULT 0,
		last_refreshed TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommunitiesTable = `CREATE TABLE IF NOT EXISTS communities (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		title TEXT,
		description TEXT,
		actor_uri TEXT UNIQUE NOT NULL,
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT,
		followers_uri TEXT,
		public_key_pem TEXT,
		private_key_pem TEXT,
		local INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		last_refreshed TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommunityModeratorsTable = `CREATE TABLE IF NOT EXISTS community_moderators (
		community_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(community_id, person_id)
	)`

	sqlCreateCommunityFollowersTable = `CREATE TABLE IF NOT EXISTS community_followers (
		community_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		pending INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(community_id, person_id)
	)`

	sqlCreateCommunityBansTable = `CREATE TABLE IF NOT EXISTS community_bans (
		community_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(community_id, person_id)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		body TEXT,
		url TEXT,
		creator_id TEXT NOT NULL,
		community_id TEXT NOT NULL,
		local INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		locked INTEGER DEFAULT 0,
		sensitive INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE NOT NULL,
		content TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		parent_id TEXT,
		local INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreatePrivateMessagesTable = `CREATE TABLE IF NOT EXISTS private_messages (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE NOT NULL,
		content TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		local INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	// Activities ledger (for deduplication and serving local activities)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		raw_json TEXT NOT NULL,
		local INTEGER DEFAULT 0,
		sensitive INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateModLogTable = `CREATE TABLE IF NOT EXISTS mod_log (
		id TEXT NOT NULL PRIMARY KEY,
		moderator_id TEXT NOT NULL,
		community_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_uri TEXT NOT NULL,
		reason TEXT,
		removed INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateIndices = `
		CREATE INDEX IF NOT EXISTS idx_persons_name ON persons(name);
		CREATE INDEX IF NOT EXISTS idx_communities_name ON communities(name);
		CREATE INDEX IF NOT EXISTS idx_community_followers_person ON community_followers(person_id);
		CREATE INDEX IF NOT EXISTS idx_posts_community_id ON posts(community_id);
		CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_mod_log_community_id ON mod_log(community_id);
	`
)

var tables = []struct {
	name string
	sql  string
}{
	{"persons", sqlCreatePersonsTable},
	{"communities", sqlCreateCommunitiesTable},
	{"community_moderators", sqlCreateCommunityModeratorsTable},
	{"community_followers", sqlCreateCommunityFollowersTable},
	{"community_bans", sqlCreateCommunityBansTable},
	{"posts", sqlCreatePostsTable},
	{"comments", sqlCreateCommentsTable},
	{"private_messages", sqlCreatePrivateMessagesTable},
	{"activities", sqlCreateActivitiesTable},
	{"delivery_queue", sqlCreateDeliveryQueueTable},
	{"mod_log", sqlCreateModLogTable},
}

// RunMigrations executes all database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.sql, t.name); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(sqlCreateIndices); err != nil {
			log.Warnf("Failed to create indices: %v", err)
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Errorf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Debugf("Table %s created or already exists", tableName)
	return nil
}
