package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/h-a-s-h/kbin/domain"
)

const (
	sqlInsertUser = `INSERT INTO users(id, username, domain, ap_id, inbox_uri, public_key_pem, private_key_pem, last_fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlInsertUserIgnore = `INSERT INTO users(id, username, domain, ap_id, inbox_uri, public_key_pem, private_key_pem, last_fetched_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id) WHERE ap_id != '' DO NOTHING`
	sqlSelectUser           = `SELECT id, username, domain, ap_id, inbox_uri, public_key_pem, private_key_pem, last_fetched_at, created_at FROM users`
	sqlUpdateUserFetched    = `UPDATE users SET inbox_uri = ?, public_key_pem = ?, last_fetched_at = ? WHERE ap_id = ?`
	sqlDeleteUser           = `DELETE FROM users WHERE id = ?`
	sqlDeleteUserFollows    = `DELETE FROM follows WHERE follower_id = ?`
	sqlDeleteUserVotes      = `DELETE FROM votes WHERE user_id = ?`
	sqlDeleteUserFavourites = `DELETE FROM favourites WHERE user_id = ?`
)

func (db *DB) CreateUser(u *domain.User) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser,
			u.Id.String(), u.Username, u.Domain, u.ApID, u.InboxURI,
			u.PublicKeyPem, u.PrivateKeyPem, u.LastFetchedAt, u.CreatedAt)
		return err
	})
}

// UpsertRemoteUser inserts a fetched actor unless the ap_id is already bound.
// Either way the caller re-reads by ApID afterwards, which makes concurrent
// resolution of the same actor converge on one row.
func (db *DB) UpsertRemoteUser(u *domain.User) (bool, error) {
	return db.execInsertIgnore(sqlInsertUserIgnore,
		u.Id.String(), u.Username, u.Domain, u.ApID, u.InboxURI,
		u.PublicKeyPem, u.PrivateKeyPem, u.LastFetchedAt, u.CreatedAt)
}

func (db *DB) RefreshUser(apID, inboxURI, publicKeyPem string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateUserFetched, inboxURI, publicKeyPem, time.Now(), apID)
		return err
	})
}

func (db *DB) UserById(id uuid.UUID) (*domain.User, error) {
	return db.scanUser(db.db.QueryRow(sqlSelectUser+` WHERE id = ?`, id.String()))
}

func (db *DB) UserByApID(apID string) (*domain.User, error) {
	return db.scanUser(db.db.QueryRow(sqlSelectUser+` WHERE ap_id = ?`, apID))
}

func (db *DB) UserByUsername(username string) (*domain.User, error) {
	return db.scanUser(db.db.QueryRow(sqlSelectUser+` WHERE username = ? AND domain = ''`, username))
}

// DeleteUser removes a user together with their follows, votes and
// favourites. Their entries and comments are handled by the caller, which
// purges them and raises the purge events.
func (db *DB) DeleteUser(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range []string{sqlDeleteUserFollows, sqlDeleteUserVotes, sqlDeleteUserFavourites, sqlDeleteUser} {
			if _, err := tx.Exec(stmt, id.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var idStr string
	err := row.Scan(&idStr, &u.Username, &u.Domain, &u.ApID, &u.InboxURI,
		&u.PublicKeyPem, &u.PrivateKeyPem, &u.LastFetchedAt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Id, _ = uuid.Parse(idStr)
	return &u, nil
}
