package db

import "database/sql"

const (
	sqlCreateMagazinesTable = `CREATE TABLE IF NOT EXISTS magazines (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		ap_id TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		entry_count INTEGER NOT NULL DEFAULT 0,
		entry_comment_count INTEGER NOT NULL DEFAULT 0,
		post_count INTEGER NOT NULL DEFAULT 0,
		post_comment_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		ap_id TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, domain)
	)`

	sqlCreateEntriesTable = `CREATE TABLE IF NOT EXISTS entries (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		ap_id TEXT NOT NULL DEFAULT '',
		comment_count INTEGER NOT NULL DEFAULT 0,
		favourite_count INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		has_embed INTEGER NOT NULL DEFAULT 0,
		embed_url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		ap_id TEXT NOT NULL DEFAULT '',
		comment_count INTEGER NOT NULL DEFAULT 0,
		favourite_count INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreateEntryCommentsTable = `CREATE TABLE IF NOT EXISTS entry_comments (
		id TEXT NOT NULL PRIMARY KEY,
		entry_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		parent_id TEXT,
		body TEXT NOT NULL DEFAULT '',
		ap_id TEXT NOT NULL DEFAULT '',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreatePostCommentsTable = `CREATE TABLE IF NOT EXISTS post_comments (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		parent_id TEXT,
		body TEXT NOT NULL DEFAULT '',
		ap_id TEXT NOT NULL DEFAULT '',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		edited_at TIMESTAMP
	)`

	sqlCreateVotesTable = `CREATE TABLE IF NOT EXISTS votes (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		choice INTEGER NOT NULL,
		ap_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, subject_type, subject_id)
	)`

	sqlCreateFavouritesTable = `CREATE TABLE IF NOT EXISTS favourites (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		ap_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, subject_type, subject_id)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		ap_id TEXT NOT NULL DEFAULT '',
		accepted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_id, target_type, target_id)
	)`

	// Inbound activity log, used to deduplicate redelivered activities.
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateWorkQueueTable = `CREATE TABLE IF NOT EXISTS work_queue (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_ap_id ON users(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_magazines_ap_id ON magazines(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_ap_id ON entries(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_ap_id ON posts(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entry_comments_ap_id ON entry_comments(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_post_comments_ap_id ON post_comments(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_votes_ap_id ON votes(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_favourites_ap_id ON favourites(ap_id) WHERE ap_id != '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_follows_ap_id ON follows(ap_id) WHERE ap_id != '';
		CREATE INDEX IF NOT EXISTS idx_entries_magazine ON entries(magazine_id, is_deleted);
		CREATE INDEX IF NOT EXISTS idx_posts_magazine ON posts(magazine_id, is_deleted);
		CREATE INDEX IF NOT EXISTS idx_entry_comments_entry ON entry_comments(entry_id, is_deleted);
		CREATE INDEX IF NOT EXISTS idx_post_comments_post ON post_comments(post_id, is_deleted);
		CREATE INDEX IF NOT EXISTS idx_votes_subject ON votes(subject_type, subject_id);
		CREATE INDEX IF NOT EXISTS idx_favourites_subject ON favourites(subject_type, subject_id);
		CREATE INDEX IF NOT EXISTS idx_work_queue_ready ON work_queue(status, next_attempt_at);
	`
)

// Migrate creates the schema. All statements are idempotent.
func (db *DB) Migrate() error {
	tables := []string{
		sqlCreateMagazinesTable,
		sqlCreateUsersTable,
		sqlCreateEntriesTable,
		sqlCreatePostsTable,
		sqlCreateEntryCommentsTable,
		sqlCreatePostCommentsTable,
		sqlCreateVotesTable,
		sqlCreateFavouritesTable,
		sqlCreateFollowsTable,
		sqlCreateActivitiesTable,
		sqlCreateWorkQueueTable,
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range tables {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(sqlCreateIndices); err != nil {
			db.log.Warn().Err(err).Msg("failed to create indices")
		}
		return nil
	})
}
