package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/h-a-s-h/kbin/domain"
)

const (
	sqlInsertEntryCommentIgnore = `INSERT INTO entry_comments(id, entry_id, user_id, parent_id, body, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) WHERE ap_id != '' DO NOTHING`
	sqlSelectEntryComment = `SELECT id, entry_id, user_id, parent_id, body, ap_id, is_deleted, created_at, edited_at FROM entry_comments`

	sqlUpdateEntryCommentBody = `UPDATE entry_comments SET body = ?, edited_at = ? WHERE id = ?`
	sqlSoftDeleteEntryComment = `UPDATE entry_comments SET is_deleted = 1 WHERE id = ?`
	sqlPurgeEntryComment      = `DELETE FROM entry_comments WHERE id = ?`
	sqlPurgeCommentsByEntry   = `DELETE FROM entry_comments WHERE entry_id = ?`
	sqlSelectEntryCommentsByUser = `SELECT id FROM entry_comments WHERE user_id = ?`

	sqlInsertPostCommentIgnore = `INSERT INTO post_comments(id, post_id, user_id, parent_id, body, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) WHERE ap_id != '' DO NOTHING`
	sqlSelectPostComment = `SELECT id, post_id, user_id, parent_id, body, ap_id, is_deleted, created_at, edited_at FROM post_comments`

	sqlUpdatePostCommentBody = `UPDATE post_comments SET body = ?, edited_at = ? WHERE id = ?`
	sqlSoftDeletePostComment = `UPDATE post_comments SET is_deleted = 1 WHERE id = ?`
	sqlPurgePostComment      = `DELETE FROM post_comments WHERE id = ?`
	sqlPurgeCommentsByPost   = `DELETE FROM post_comments WHERE post_id = ?`
	sqlSelectPostCommentsByUser = `SELECT id FROM post_comments WHERE user_id = ?`
)

func (db *DB) InsertEntryComment(c *domain.EntryComment) (bool, error) {
	return db.execInsertIgnore(sqlInsertEntryCommentIgnore,
		c.Id.String(), c.EntryId.String(), c.UserId.String(), uuidPtr(c.ParentId),
		c.Body, c.ApID, c.CreatedAt)
}

func (db *DB) EntryCommentById(id uuid.UUID) (*domain.EntryComment, error) {
	return db.scanEntryComment(db.db.QueryRow(sqlSelectEntryComment+` WHERE id = ?`, id.String()))
}

func (db *DB) EntryCommentByApID(apID string) (*domain.EntryComment, error) {
	return db.scanEntryComment(db.db.QueryRow(sqlSelectEntryComment+` WHERE ap_id = ?`, apID))
}

func (db *DB) UpdateEntryCommentBody(id uuid.UUID, body string) error {
	return db.exec(sqlUpdateEntryCommentBody, body, time.Now(), id.String())
}

func (db *DB) SoftDeleteEntryComment(id uuid.UUID) error {
	return db.exec(sqlSoftDeleteEntryComment, id.String())
}

func (db *DB) PurgeEntryComment(id uuid.UUID) error {
	return db.exec(sqlPurgeEntryComment, id.String())
}

// PurgeEntryComments removes every comment under an entry, regardless of
// author. Used when the entry itself is purged so no orphan rows remain.
func (db *DB) PurgeEntryComments(entryId uuid.UUID) error {
	return db.exec(sqlPurgeCommentsByEntry, entryId.String())
}

func (db *DB) EntryCommentIdsByUser(userId uuid.UUID) ([]uuid.UUID, error) {
	return db.idList(sqlSelectEntryCommentsByUser, userId.String())
}

func (db *DB) InsertPostComment(c *domain.PostComment) (bool, error) {
	return db.execInsertIgnore(sqlInsertPostCommentIgnore,
		c.Id.String(), c.PostId.String(), c.UserId.String(), uuidPtr(c.ParentId),
		c.Body, c.ApID, c.CreatedAt)
}

func (db *DB) PostCommentById(id uuid.UUID) (*domain.PostComment, error) {
	return db.scanPostComment(db.db.QueryRow(sqlSelectPostComment+` WHERE id = ?`, id.String()))
}

func (db *DB) PostCommentByApID(apID string) (*domain.PostComment, error) {
	return db.scanPostComment(db.db.QueryRow(sqlSelectPostComment+` WHERE ap_id = ?`, apID))
}

func (db *DB) UpdatePostCommentBody(id uuid.UUID, body string) error {
	return db.exec(sqlUpdatePostCommentBody, body, time.Now(), id.String())
}

func (db *DB) SoftDeletePostComment(id uuid.UUID) error {
	return db.exec(sqlSoftDeletePostComment, id.String())
}

func (db *DB) PurgePostComment(id uuid.UUID) error {
	return db.exec(sqlPurgePostComment, id.String())
}

func (db *DB) PurgePostComments(postId uuid.UUID) error {
	return db.exec(sqlPurgeCommentsByPost, postId.String())
}

func (db *DB) PostCommentIdsByUser(userId uuid.UUID) ([]uuid.UUID, error) {
	return db.idList(sqlSelectPostCommentsByUser, userId.String())
}

func (db *DB) scanEntryComment(row *sql.Row) (*domain.EntryComment, error) {
	var c domain.EntryComment
	var idStr, entryStr, userStr string
	var parentStr sql.NullString
	err := row.Scan(&idStr, &entryStr, &userStr, &parentStr, &c.Body, &c.ApID,
		&c.IsDeleted, &c.CreatedAt, &c.EditedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Id, _ = uuid.Parse(idStr)
	c.EntryId, _ = uuid.Parse(entryStr)
	c.UserId, _ = uuid.Parse(userStr)
	c.ParentId = parseUuidPtr(parentStr)
	return &c, nil
}

func (db *DB) scanPostComment(row *sql.Row) (*domain.PostComment, error) {
	var c domain.PostComment
	var idStr, postStr, userStr string
	var parentStr sql.NullString
	err := row.Scan(&idStr, &postStr, &userStr, &parentStr, &c.Body, &c.ApID,
		&c.IsDeleted, &c.CreatedAt, &c.EditedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Id, _ = uuid.Parse(idStr)
	c.PostId, _ = uuid.Parse(postStr)
	c.UserId, _ = uuid.Parse(userStr)
	c.ParentId = parseUuidPtr(parentStr)
	return &c, nil
}

func uuidPtr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseUuidPtr(s sql.NullString) *uuid.UUID {
	if !s.Valid || s.String == "" {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}
