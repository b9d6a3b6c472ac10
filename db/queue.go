package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// WorkItem is a leased row from the durable work queue. It carries only the
// kind tag and an opaque payload of identifiers; the executing handler
// re-resolves everything at run time.
type WorkItem struct {
	Id        uuid.UUID
	Kind      string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

const (
	sqlInsertWork = `INSERT INTO work_queue(id, kind, payload, status, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?)`
	sqlSelectReadyWork = `SELECT id, kind, payload, attempts, created_at FROM work_queue
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY created_at ASC LIMIT ?`
	sqlLeaseWork    = `UPDATE work_queue SET next_attempt_at = ? WHERE id = ?`
	sqlDeleteWork   = `DELETE FROM work_queue WHERE id = ?`
	sqlRetryWork    = `UPDATE work_queue SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?`
	sqlDeadWork     = `UPDATE work_queue SET status = 'dead', attempts = attempts + 1, last_error = ? WHERE id = ?`
	sqlCountByState = `SELECT COUNT(*) FROM work_queue WHERE status = ?`
	sqlSelectWork   = `SELECT id, kind, payload, attempts, created_at FROM work_queue WHERE id = ?`
)

func (db *DB) EnqueueWork(kind string, payload []byte) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now()
	err := db.exec(sqlInsertWork, id.String(), kind, string(payload), now, now)
	return id, err
}

// LeaseWork returns up to limit ready items and pushes their next attempt
// time out by the visibility timeout, so a crashed consumer's items come
// back on their own (at-least-once delivery).
func (db *DB) LeaseWork(limit int, visibility time.Duration) ([]WorkItem, error) {
	var items []WorkItem
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		items = items[:0]
		rows, err := tx.Query(sqlSelectReadyWork, time.Now(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var item WorkItem
			var idStr, payload string
			if err := rows.Scan(&idStr, &item.Kind, &payload, &item.Attempts, &item.CreatedAt); err != nil {
				return err
			}
			item.Id, _ = uuid.Parse(idStr)
			item.Payload = []byte(payload)
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		deadline := time.Now().Add(visibility)
		for _, item := range items {
			if _, err := tx.Exec(sqlLeaseWork, deadline, item.Id.String()); err != nil {
				return err
			}
		}
		return nil
	})
	return items, err
}

func (db *DB) CompleteWork(id uuid.UUID) error {
	return db.exec(sqlDeleteWork, id.String())
}

// RetryWork schedules another attempt after the given backoff.
func (db *DB) RetryWork(id uuid.UUID, attempts int, backoff time.Duration, lastError string) error {
	return db.exec(sqlRetryWork, attempts, time.Now().Add(backoff), lastError, id.String())
}

// DeadLetterWork parks an item permanently. Dead rows stay queryable for
// operators; they are never picked up again.
func (db *DB) DeadLetterWork(id uuid.UUID, reason string) error {
	return db.exec(sqlDeadWork, reason, id.String())
}

func (db *DB) CountWorkByStatus(status string) (int, error) {
	return db.count(sqlCountByState, status)
}

func (db *DB) WorkById(id uuid.UUID) (*WorkItem, error) {
	var item WorkItem
	var idStr, payload string
	err := db.db.QueryRow(sqlSelectWork, id.String()).
		Scan(&idStr, &item.Kind, &payload, &item.Attempts, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Id, _ = uuid.Parse(idStr)
	item.Payload = []byte(payload)
	return &item, nil
}
