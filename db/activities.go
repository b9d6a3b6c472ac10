package db

import (
	"time"

	"github.com/google/uuid"
)

const (
	sqlInsertActivityIgnore = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(activity_uri) DO NOTHING`
	sqlCountActivityByURI = `SELECT COUNT(*) FROM activities WHERE activity_uri = ?`
)

// RecordActivity logs a processed activity URI for deduplication. Returns
// false when the URI was already recorded, which is how a redelivered
// activity is detected.
func (db *DB) RecordActivity(uri, activityType, actorURI string) (bool, error) {
	return db.execInsertIgnore(sqlInsertActivityIgnore,
		uuid.New().String(), uri, activityType, actorURI, time.Now())
}

// SeenActivity reports whether an activity URI was processed before.
func (db *DB) SeenActivity(uri string) (bool, error) {
	n, err := db.count(sqlCountActivityByURI, uri)
	return n > 0, err
}
