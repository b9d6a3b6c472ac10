package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/h-a-s-h/kbin/domain"
)

const (
	sqlInsertVoteIgnore = `INSERT INTO votes(id, user_id, subject_type, subject_id, choice, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, subject_type, subject_id) DO UPDATE SET choice = excluded.choice, ap_id = excluded.ap_id`
	sqlDeleteVoteByApID = `DELETE FROM votes WHERE ap_id = ? RETURNING subject_type, subject_id`
	sqlSumVotes         = `SELECT COALESCE(SUM(choice), 0) FROM votes WHERE subject_type = ? AND subject_id = ?`

	sqlInsertFavouriteIgnore = `INSERT INTO favourites(id, user_id, subject_type, subject_id, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, subject_type, subject_id) DO NOTHING`
	sqlDeleteFavouriteByApID = `DELETE FROM favourites WHERE ap_id = ? RETURNING subject_type, subject_id`
	sqlCountFavourites       = `SELECT COUNT(*) FROM favourites WHERE subject_type = ? AND subject_id = ?`

	sqlInsertFollowIgnore = `INSERT INTO follows(id, follower_id, target_type, target_id, ap_id, accepted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(follower_id, target_type, target_id) DO NOTHING`
	sqlDeleteFollowByApID = `DELETE FROM follows WHERE ap_id = ?`
	sqlAcceptFollowByApID = `UPDATE follows SET accepted = 1 WHERE ap_id = ?`
)

// UpsertVote records or replaces a user's vote on a subject. A re-vote from
// the same user overwrites the previous choice rather than stacking.
func (db *DB) UpsertVote(v *domain.Vote) error {
	return db.exec(sqlInsertVoteIgnore,
		v.Id.String(), v.UserId.String(), string(v.SubjectType), v.SubjectId.String(),
		v.Choice, v.ApID, v.CreatedAt)
}

// DeleteVoteByApID removes a vote by the originating activity IRI and
// reports which subject it pointed at so counters can be recomputed.
// Returns nil when no such vote exists.
func (db *DB) DeleteVoteByApID(apID string) (domain.SubjectType, *uuid.UUID, error) {
	return db.deleteReturningSubject(sqlDeleteVoteByApID, apID)
}

func (db *DB) SumVotes(t domain.SubjectType, id uuid.UUID) (int, error) {
	return db.count(sqlSumVotes, string(t), id.String())
}

func (db *DB) UpsertFavourite(f *domain.Favourite) error {
	return db.exec(sqlInsertFavouriteIgnore,
		f.Id.String(), f.UserId.String(), string(f.SubjectType), f.SubjectId.String(),
		f.ApID, f.CreatedAt)
}

func (db *DB) DeleteFavouriteByApID(apID string) (domain.SubjectType, *uuid.UUID, error) {
	return db.deleteReturningSubject(sqlDeleteFavouriteByApID, apID)
}

func (db *DB) CountFavourites(t domain.SubjectType, id uuid.UUID) (int, error) {
	return db.count(sqlCountFavourites, string(t), id.String())
}

func (db *DB) CreateFollow(f *domain.Follow) (bool, error) {
	return db.execInsertIgnore(sqlInsertFollowIgnore,
		f.Id.String(), f.FollowerId.String(), string(f.TargetType), f.TargetId.String(),
		f.ApID, f.Accepted, f.CreatedAt)
}

func (db *DB) DeleteFollowByApID(apID string) error {
	return db.exec(sqlDeleteFollowByApID, apID)
}

func (db *DB) AcceptFollowByApID(apID string) error {
	return db.exec(sqlAcceptFollowByApID, apID)
}

func (db *DB) deleteReturningSubject(query, apID string) (domain.SubjectType, *uuid.UUID, error) {
	var subjectType, subjectId string
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		row := tx.QueryRow(query, apID)
		if err := row.Scan(&subjectType, &subjectId); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if subjectId == "" {
		return "", nil, nil
	}
	id, err := uuid.Parse(subjectId)
	if err != nil {
		return "", nil, nil
	}
	return domain.SubjectType(subjectType), &id, nil
}
