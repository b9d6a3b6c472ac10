package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/h-a-s-h/kbin/db"
	"github.com/h-a-s-h/kbin/domain"
)

// ContentCounts keeps the denormalized counters on entries, posts and
// magazines in line with the true number of visible children.
//
// Creation paths increment in place: the increment runs right after the
// insert and cannot be missed. Delete and purge paths always recount from
// the store, because a missed delete event would otherwise leave the
// counter drifting high forever. Every listener persists its result before
// returning, so a read that follows the event sees the updated counter.
type ContentCounts struct {
	db  *db.DB
	log zerolog.Logger
}

func NewContentCounts(database *db.DB, log zerolog.Logger) *ContentCounts {
	return &ContentCounts{db: database, log: log}
}

// Register wires every counter listener. This is the complete, explicit
// subscription list; there is deliberately no other way to attach one.
func (s *ContentCounts) Register(d *Dispatcher) {
	d.Subscribe(EntryCreated{}.Kind(), s.onEntryCreated)
	d.Subscribe(EntryDeleted{}.Kind(), s.onEntryDeleted)
	d.Subscribe(PostCreated{}.Kind(), s.onPostCreated)
	d.Subscribe(PostDeleted{}.Kind(), s.onPostDeleted)
	d.Subscribe(EntryCommentCreated{}.Kind(), s.onEntryCommentCreated)
	d.Subscribe(EntryCommentDeleted{}.Kind(), s.onEntryCommentDeleted)
	d.Subscribe(EntryCommentPurged{}.Kind(), s.onEntryCommentPurged)
	d.Subscribe(PostCommentCreated{}.Kind(), s.onPostCommentCreated)
	d.Subscribe(PostCommentDeleted{}.Kind(), s.onPostCommentDeleted)
	d.Subscribe(PostCommentPurged{}.Kind(), s.onPostCommentPurged)
	d.Subscribe(VoteChanged{}.Kind(), s.onVoteChanged)
	d.Subscribe(FavouriteChanged{}.Kind(), s.onFavouriteChanged)
}

func (s *ContentCounts) onEntryCreated(ctx context.Context, e Event) error {
	ev := e.(EntryCreated)
	return s.db.IncrementMagazineEntryCount(ev.MagazineId)
}

func (s *ContentCounts) onEntryDeleted(ctx context.Context, e Event) error {
	ev := e.(EntryDeleted)
	n, err := s.db.CountEntriesByMagazine(ev.MagazineId)
	if err != nil {
		return err
	}
	if err := s.db.SetMagazineEntryCount(ev.MagazineId, n); err != nil {
		return err
	}
	// The entry's comments disappear from view with it.
	return s.recountMagazineEntryComments(ev.MagazineId)
}

func (s *ContentCounts) onPostCreated(ctx context.Context, e Event) error {
	ev := e.(PostCreated)
	return s.db.IncrementMagazinePostCount(ev.MagazineId)
}

func (s *ContentCounts) onPostDeleted(ctx context.Context, e Event) error {
	ev := e.(PostDeleted)
	n, err := s.db.CountPostsByMagazine(ev.MagazineId)
	if err != nil {
		return err
	}
	if err := s.db.SetMagazinePostCount(ev.MagazineId, n); err != nil {
		return err
	}
	return s.recountMagazinePostComments(ev.MagazineId)
}

func (s *ContentCounts) onEntryCommentCreated(ctx context.Context, e Event) error {
	ev := e.(EntryCommentCreated)
	if err := s.db.IncrementEntryCommentCount(ev.EntryId); err != nil {
		return err
	}
	return s.recountMagazineEntryComments(ev.MagazineId)
}

func (s *ContentCounts) onEntryCommentDeleted(ctx context.Context, e Event) error {
	ev := e.(EntryCommentDeleted)
	n, err := s.db.CountCommentsByEntry(ev.EntryId)
	if err != nil {
		return err
	}
	if err := s.db.SetEntryCommentCount(ev.EntryId, n); err != nil {
		return err
	}
	return s.recountMagazineEntryComments(ev.MagazineId)
}

func (s *ContentCounts) onEntryCommentPurged(ctx context.Context, e Event) error {
	// The parent entry may have been purged along with the comment, so only
	// the magazine aggregate is touched.
	ev := e.(EntryCommentPurged)
	return s.recountMagazineEntryComments(ev.MagazineId)
}

func (s *ContentCounts) onPostCommentCreated(ctx context.Context, e Event) error {
	ev := e.(PostCommentCreated)
	if err := s.db.IncrementPostCommentCount(ev.PostId); err != nil {
		return err
	}
	return s.recountMagazinePostComments(ev.MagazineId)
}

func (s *ContentCounts) onPostCommentDeleted(ctx context.Context, e Event) error {
	ev := e.(PostCommentDeleted)
	n, err := s.db.CountCommentsByPost(ev.PostId)
	if err != nil {
		return err
	}
	if err := s.db.SetPostCommentCount(ev.PostId, n); err != nil {
		return err
	}
	return s.recountMagazinePostComments(ev.MagazineId)
}

func (s *ContentCounts) onPostCommentPurged(ctx context.Context, e Event) error {
	ev := e.(PostCommentPurged)
	return s.recountMagazinePostComments(ev.MagazineId)
}

func (s *ContentCounts) onVoteChanged(ctx context.Context, e Event) error {
	ev := e.(VoteChanged)
	subject := domain.SubjectType(ev.SubjectType)
	score, err := s.db.SumVotes(subject, ev.SubjectId)
	if err != nil {
		return err
	}
	switch subject {
	case domain.SubjectEntry:
		return s.db.SetEntryScore(ev.SubjectId, score)
	case domain.SubjectPost:
		return s.db.SetPostScore(ev.SubjectId, score)
	default:
		return fmt.Errorf("votes not supported on subject %s", subject)
	}
}

func (s *ContentCounts) onFavouriteChanged(ctx context.Context, e Event) error {
	ev := e.(FavouriteChanged)
	subject := domain.SubjectType(ev.SubjectType)
	n, err := s.db.CountFavourites(subject, ev.SubjectId)
	if err != nil {
		return err
	}
	switch subject {
	case domain.SubjectEntry:
		return s.db.SetEntryFavouriteCount(ev.SubjectId, n)
	case domain.SubjectPost:
		return s.db.SetPostFavouriteCount(ev.SubjectId, n)
	default:
		// Favourites on comments are stored but not counted anywhere yet.
		return nil
	}
}

func (s *ContentCounts) recountMagazineEntryComments(magazineId uuid.UUID) error {
	n, err := s.db.CountEntryCommentsByMagazine(magazineId)
	if err != nil {
		return err
	}
	return s.db.SetMagazineEntryCommentCount(magazineId, n)
}

func (s *ContentCounts) recountMagazinePostComments(magazineId uuid.UUID) error {
	n, err := s.db.CountPostCommentsByMagazine(magazineId)
	if err != nil {
		return err
	}
	return s.db.SetMagazinePostCommentCount(magazineId, n)
}
