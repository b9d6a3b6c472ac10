package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/h-a-s-h/kbin/domain"
)

const (
	sqlInsertPostIgnore = `INSERT INTO posts(id, magazine_id, user_id, body, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) WHERE ap_id != '' DO NOTHING`
	sqlSelectPost = `SELECT id, magazine_id, user_id, body, ap_id,
		comment_count, favourite_count, score, is_deleted, created_at, edited_at FROM posts`

	sqlUpdatePostContent = `UPDATE posts SET body = ?, edited_at = ? WHERE id = ?`
	sqlSoftDeletePost    = `UPDATE posts SET is_deleted = 1 WHERE id = ?`
	sqlPurgePost         = `DELETE FROM posts WHERE id = ?`

	sqlIncrementPostComments = `UPDATE posts SET comment_count = comment_count + 1 WHERE id = ?`
	sqlSetPostCommentCount   = `UPDATE posts SET comment_count = ? WHERE id = ?`
	sqlSetPostFavourites     = `UPDATE posts SET favourite_count = ? WHERE id = ?`
	sqlSetPostScore          = `UPDATE posts SET score = ? WHERE id = ?`

	sqlCountCommentsByPost = `SELECT COUNT(*) FROM post_comments WHERE post_id = ? AND is_deleted = 0`
	sqlSelectPostsByUser   = `SELECT id FROM posts WHERE user_id = ?`
)

func (db *DB) InsertPost(p *domain.Post) (bool, error) {
	return db.execInsertIgnore(sqlInsertPostIgnore,
		p.Id.String(), p.MagazineId.String(), p.UserId.String(), p.Body, p.ApID, p.CreatedAt)
}

func (db *DB) PostById(id uuid.UUID) (*domain.Post, error) {
	return db.scanPost(db.db.QueryRow(sqlSelectPost+` WHERE id = ?`, id.String()))
}

func (db *DB) PostByApID(apID string) (*domain.Post, error) {
	return db.scanPost(db.db.QueryRow(sqlSelectPost+` WHERE ap_id = ?`, apID))
}

func (db *DB) UpdatePostContent(id uuid.UUID, body string) error {
	return db.exec(sqlUpdatePostContent, body, time.Now(), id.String())
}

func (db *DB) SoftDeletePost(id uuid.UUID) error {
	return db.exec(sqlSoftDeletePost, id.String())
}

func (db *DB) PurgePost(id uuid.UUID) error {
	return db.exec(sqlPurgePost, id.String())
}

func (db *DB) IncrementPostCommentCount(id uuid.UUID) error {
	return db.exec(sqlIncrementPostComments, id.String())
}

func (db *DB) SetPostCommentCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetPostCommentCount, n, id.String())
}

func (db *DB) SetPostFavouriteCount(id uuid.UUID, n int) error {
	return db.exec(sqlSetPostFavourites, n, id.String())
}

func (db *DB) SetPostScore(id uuid.UUID, n int) error {
	return db.exec(sqlSetPostScore, n, id.String())
}

func (db *DB) CountCommentsByPost(id uuid.UUID) (int, error) {
	return db.count(sqlCountCommentsByPost, id.String())
}

func (db *DB) PostIdsByUser(userId uuid.UUID) ([]uuid.UUID, error) {
	return db.idList(sqlSelectPostsByUser, userId.String())
}

func (db *DB) scanPost(row *sql.Row) (*domain.Post, error) {
	var p domain.Post
	var idStr, magStr, userStr string
	err := row.Scan(&idStr, &magStr, &userStr, &p.Body, &p.ApID,
		&p.CommentCount, &p.FavouriteCount, &p.Score, &p.IsDeleted, &p.CreatedAt, &p.EditedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Id, _ = uuid.Parse(idStr)
	p.MagazineId, _ = uuid.Parse(magStr)
	p.UserId, _ = uuid.Parse(userStr)
	return &p, nil
}
