package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/h-a-s-h/kbin/domain"
)

const (
	sqlInsertMagazine = `INSERT INTO magazines(id, name, title, ap_id, public_key_pem, private_key_pem, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlInsertMagazineIgnore = `INSERT INTO magazines(id, name, title, ap_id, public_key_pem, private_key_pem, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`
	sqlSelectMagazine = `SELECT id, name, title, ap_id, public_key_pem, private_key_pem,
		entry_count, entry_comment_count, post_count, post_comment_count, created_at FROM magazines`

	sqlIncrementEntryCount = `UPDATE magazines SET entry_count = entry_count + 1 WHERE id = ?`
	sqlIncrementPostCount  = `UPDATE magazines SET post_count = post_count + 1 WHERE id = ?`
	sqlSetEntryCount       = `UPDATE magazines SET entry_count = ? WHERE id = ?`
	sqlSetPostCount        = `UPDATE magazines SET post_count = ? WHERE id = ?`
	sqlSetEntryComments    = `UPDATE magazines SET entry_comment_count = ? WHERE id = ?`
	sqlSetPostComments     = `UPDATE magazines SET post_comment_count = ? WHERE id = ?`

	sqlCountEntriesByMagazine = `SELECT COUNT(*) FROM entries WHERE magazine_id = ? AND is_deleted = 0`
	sqlCountPostsByMagazine   = `SELECT COUNT(*) FROM posts WHERE magazine_id = ? AND is_deleted = 0`
	sqlCountEntryCommentsByMagazine = `SELECT COUNT(*) FROM entry_comments
		INNER JOIN entries ON entries.id = entry_comments.entry_id
		WHERE entries.magazine_id = ? AND entry_comments.is_deleted = 0 AND entries.is_deleted = 0`
	sqlCountPostCommentsByMagazine = `SELECT COUNT(*) FROM post_comments
		INNER JOIN posts ON posts.id = post_comments.post_id
		WHERE posts.magazine_id = ? AND post_comments.is_deleted = 0 AND posts.is_deleted = 0`
)

func (db *DB) CreateMagazine(m *domain.Magazine) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMagazine,
			m.Id.String(), m.Name, m.Title, m.ApID, m.PublicKeyPem, m.PrivateKeyPem, m.CreatedAt)
		return err
	})
}

// EnsureMagazine creates a magazine by name if it does not exist yet.
func (db *DB) EnsureMagazine(m *domain.Magazine) error {
	_, err := db.execInsertIgnore(sqlInsertMagazineIgnore,
		m.Id.String(), m.Name, m.Title, m.ApID, m.PublicKeyPem, m.PrivateKeyPem, m.CreatedAt)
	return err
}

func (db *DB) MagazineById(id uuid.UUID) (*domain.Magazine, error) {
	return db.scanMagazine(db.db.QueryRow(sqlSelectMagazine+` WHERE id = ?`, id.String()))
}

func (db *DB) MagazineByName(name string) (*domain.Magazine, error) {
	return db.scanMagazine(db.db.QueryRow(sqlSelectMagazine+` WHERE name = ?`, name))
}

func (db *DB) MagazineByApID(apID string) (*domain.Magazine, error) {
	return db.scanMagazine(db.db.QueryRow(sqlSelectMagazine+` WHERE ap_id = ?`, apID))
}

// Counter writes. Increments are reserved for the create path; the set
// variants carry the result of an authoritative recount.

func (db *DB) IncrementMagazineEntryCount(id uuid.UUID) error {
	return db.exec(sqlIncrementEntryCount, id.String())
}

func (db *DB) IncrementMagazinePostCount(id uuid.UUID) error {
	return db.exec(sqlIncrementPostCount, id.String())
}

func (db *DB) SetMagazineEntryCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetEntryCount, n, id.String())
}

func (db *DB) SetMagazinePostCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetPostCount, n, id.String())
}

func (db *DB) SetMagazineEntryCommentCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetEntryComments, n, id.String())
}

func (db *DB) SetMagazinePostCommentCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetPostComments, n, id.String())
}

// Authoritative counts, non-deleted rows only.

func (db *DB) CountEntriesByMagazine(id uuid.UUID) (int, error) {
	return db.count(sqlCountEntriesByMagazine, id.String())
}

func (db *DB) CountPostsByMagazine(id uuid.UUID) (int, error) {
	return db.count(sqlCountPostsByMagazine, id.String())
}

func (db *DB) CountEntryCommentsByMagazine(id uuid.UUID) (int, error) {
	return db.count(sqlCountEntryCommentsByMagazine, id.String())
}

func (db *DB) CountPostCommentsByMagazine(id uuid.UUID) (int, error) {
	return db.count(sqlCountPostCommentsByMagazine, id.String())
}

func (db *DB) scanMagazine(row *sql.Row) (*domain.Magazine, error) {
	var m domain.Magazine
	var idStr string
	err := row.Scan(&idStr, &m.Name, &m.Title, &m.ApID, &m.PublicKeyPem, &m.PrivateKeyPem,
		&m.EntryCount, &m.EntryCommentCount, &m.PostCount, &m.PostCommentCount, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Id, _ = uuid.Parse(idStr)
	return &m, nil
}

func (db *DB) exec(query string, args ...any) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(query, args...)
		return err
	})
}

func (db *DB) count(query string, args ...any) (int, error) {
	var n int
	if err := db.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
