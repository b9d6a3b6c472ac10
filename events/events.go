// Package events is the synchronous in-process domain event bus. Listener
// lists are registered statically at startup, one ordered list per event
// kind; there is no dynamic subscriber discovery.
package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is a domain occurrence raised by an activity handler. Events carry
// entity identifiers, never live entity references; listeners re-read
// through the repositories.
type Event interface {
	Kind() string
}

type Listener func(ctx context.Context, e Event) error

// Dispatcher fans an event out to its registered listeners in order. All
// listeners run even if an earlier one fails; failures are joined and
// returned to the caller.
type Dispatcher struct {
	log       zerolog.Logger
	listeners map[string][]Listener
}

func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		log:       log,
		listeners: make(map[string][]Listener),
	}
}

func (d *Dispatcher) Subscribe(kind string, l Listener) {
	d.listeners[kind] = append(d.listeners[kind], l)
}

func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	var errs []error
	for _, l := range d.listeners[e.Kind()] {
		if err := l(ctx, e); err != nil {
			d.log.Error().Err(err).Str("event", e.Kind()).Msg("event listener failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Entry lifecycle events.

type EntryCreated struct {
	EntryId    uuid.UUID
	MagazineId uuid.UUID
}

func (EntryCreated) Kind() string { return "entry.created" }

type EntryDeleted struct {
	EntryId    uuid.UUID
	MagazineId uuid.UUID
}

func (EntryDeleted) Kind() string { return "entry.deleted" }

// Post lifecycle events.

type PostCreated struct {
	PostId     uuid.UUID
	MagazineId uuid.UUID
}

func (PostCreated) Kind() string { return "post.created" }

type PostDeleted struct {
	PostId     uuid.UUID
	MagazineId uuid.UUID
}

func (PostDeleted) Kind() string { return "post.deleted" }

// Entry comment events. Purged means the row is gone from the store, not
// just soft-deleted; the entry may be gone with it.

type EntryCommentCreated struct {
	CommentId  uuid.UUID
	EntryId    uuid.UUID
	MagazineId uuid.UUID
}

func (EntryCommentCreated) Kind() string { return "entry_comment.created" }

type EntryCommentDeleted struct {
	CommentId  uuid.UUID
	EntryId    uuid.UUID
	MagazineId uuid.UUID
}

func (EntryCommentDeleted) Kind() string { return "entry_comment.deleted" }

type EntryCommentPurged struct {
	EntryId    uuid.UUID
	MagazineId uuid.UUID
}

func (EntryCommentPurged) Kind() string { return "entry_comment.purged" }

// Post comment events.

type PostCommentCreated struct {
	CommentId  uuid.UUID
	PostId     uuid.UUID
	MagazineId uuid.UUID
}

func (PostCommentCreated) Kind() string { return "post_comment.created" }

type PostCommentDeleted struct {
	CommentId  uuid.UUID
	PostId     uuid.UUID
	MagazineId uuid.UUID
}

func (PostCommentDeleted) Kind() string { return "post_comment.deleted" }

type PostCommentPurged struct {
	PostId     uuid.UUID
	MagazineId uuid.UUID
}

func (PostCommentPurged) Kind() string { return "post_comment.purged" }

// Vote and favourite changes; both are delete-capable paths, so listeners
// always recompute from the store.

type VoteChanged struct {
	SubjectType string
	SubjectId   uuid.UUID
}

func (VoteChanged) Kind() string { return "vote.changed" }

type FavouriteChanged struct {
	SubjectType string
	SubjectId   uuid.UUID
}

func (FavouriteChanged) Kind() string { return "favourite.changed" }
