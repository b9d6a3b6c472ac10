package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/h-a-s-h/kbin/domain"
)

const (
	sqlInsertEntryIgnore = `INSERT INTO entries(id, magazine_id, user_id, title, url, body, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) WHERE ap_id != '' DO NOTHING`
	sqlSelectEntry = `SELECT id, magazine_id, user_id, title, url, body, ap_id,
		comment_count, favourite_count, score, has_embed, embed_url, image_url,
		is_deleted, created_at, edited_at FROM entries`

	sqlUpdateEntryContent = `UPDATE entries SET title = ?, url = ?, body = ?, edited_at = ? WHERE id = ?`
	sqlSetEntryEmbed      = `UPDATE entries SET has_embed = ?, embed_url = ?, image_url = ? WHERE id = ?`
	sqlSoftDeleteEntry    = `UPDATE entries SET is_deleted = 1 WHERE id = ?`
	sqlPurgeEntry         = `DELETE FROM entries WHERE id = ?`

	sqlIncrementEntryComments = `UPDATE entries SET comment_count = comment_count + 1 WHERE id = ?`
	sqlSetEntryCommentCount   = `UPDATE entries SET comment_count = ? WHERE id = ?`
	sqlSetEntryFavourites     = `UPDATE entries SET favourite_count = ? WHERE id = ?`
	sqlSetEntryScore          = `UPDATE entries SET score = ? WHERE id = ?`

	sqlCountCommentsByEntry = `SELECT COUNT(*) FROM entry_comments WHERE entry_id = ? AND is_deleted = 0`

	sqlSelectEntriesByMagazine = `SELECT id, magazine_id, user_id, title, url, body, ap_id,
		comment_count, favourite_count, score, has_embed, embed_url, image_url,
		is_deleted, created_at, edited_at FROM entries
		WHERE magazine_id = ? AND is_deleted = 0 ORDER BY created_at DESC LIMIT ?`
	sqlSelectEntriesByUser = `SELECT id FROM entries WHERE user_id = ?`
)

// InsertEntry writes an entry unless its ap_id is already bound, reporting
// whether a new row was created.
func (db *DB) InsertEntry(e *domain.Entry) (bool, error) {
	return db.execInsertIgnore(sqlInsertEntryIgnore,
		e.Id.String(), e.MagazineId.String(), e.UserId.String(),
		e.Title, e.Url, e.Body, e.ApID, e.CreatedAt)
}

func (db *DB) EntryById(id uuid.UUID) (*domain.Entry, error) {
	return db.scanEntry(db.db.QueryRow(sqlSelectEntry+` WHERE id = ?`, id.String()))
}

func (db *DB) EntryByApID(apID string) (*domain.Entry, error) {
	return db.scanEntry(db.db.QueryRow(sqlSelectEntry+` WHERE ap_id = ?`, apID))
}

func (db *DB) UpdateEntryContent(id uuid.UUID, title, url, body string) error {
	now := time.Now()
	return db.exec(sqlUpdateEntryContent, title, url, body, now, id.String())
}

func (db *DB) SetEntryEmbed(id uuid.UUID, hasEmbed bool, embedURL, imageURL string) error {
	return db.exec(sqlSetEntryEmbed, hasEmbed, embedURL, imageURL, id.String())
}

func (db *DB) SoftDeleteEntry(id uuid.UUID) error {
	return db.exec(sqlSoftDeleteEntry, id.String())
}

func (db *DB) PurgeEntry(id uuid.UUID) error {
	return db.exec(sqlPurgeEntry, id.String())
}

func (db *DB) IncrementEntryCommentCount(id uuid.UUID) error {
	return db.exec(sqlIncrementEntryComments, id.String())
}

func (db *DB) SetEntryCommentCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetEntryCommentCount, n, id.String())
}

func (db *DB) SetEntryFavouriteCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetEntryFavourites, n, id.String())
}

func (db *DB) SetEntryScore(id uuid.UUID, n int) error {
	return db.exec(sqlSetEntryScore, n, id.String())
}

func (db *DB) CountCommentsByEntry(id uuid.UUID) (int, error) {
	return db.count(sqlCountCommentsByEntry, id.String())
}

func (db *DB) EntriesByMagazine(id uuid.UUID, limit int) ([]domain.Entry, error) {
	rows, err := db.db.Query(sqlSelectEntriesByMagazine, id.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// EntryIdsByUser returns all entry ids authored by a user, deleted included.
// Used when purging a deleted remote account.
func (db *DB) EntryIdsByUser(userId uuid.UUID) ([]uuid.UUID, error) {
	return db.idList(sqlSelectEntriesByUser, userId.String())
}

func (db *DB) idList(query string, args ...any) ([]uuid.UUID, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return ids, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) scanEntry(row *sql.Row) (*domain.Entry, error) {
	e, err := scanEntryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(row rowScanner) (*domain.Entry, error) {
	var e domain.Entry
	var idStr, magStr, userStr string
	err := row.Scan(&idStr, &magStr, &userStr, &e.Title, &e.Url, &e.Body, &e.ApID,
		&e.CommentCount, &e.FavouriteCount, &e.Score, &e.HasEmbed, &e.EmbedURL, &e.ImageURL,
		&e.IsDeleted, &e.CreatedAt, &e.EditedAt)
	if err != nil {
		return nil, err
	}
	e.Id, _ = uuid.Parse(idStr)
	e.MagazineId, _ = uuid.Parse(magStr)
	e.UserId, _ = uuid.Parse(userStr)
	return &e, nil
}
