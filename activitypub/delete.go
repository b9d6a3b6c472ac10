package activitypub

import (
	"context"

	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
)

// handleDelete removes the object. An actor deleting itself purges the
// account and everything it published; anything else is a soft delete that
// keeps the row for thread integrity. A Delete for an unknown object is a
// no-op: replays and out-of-order deliveries make those routine.
func (p *Processor) handleDelete(ctx context.Context, act *domain.Activity, magazine string) error {
	if act.ObjectURI == "" {
		p.log.Debug().Str("activity", act.ID).Msg("delete without object ignored")
		return nil
	}

	// Actor self-deletion: the object is the actor itself.
	if act.ObjectURI == act.Actor {
		return p.deleteActor(ctx, act.ObjectURI)
	}

	if entry, err := p.db.EntryByApID(act.ObjectURI); err != nil {
		return err
	} else if entry != nil {
		if err := p.db.SoftDeleteEntry(entry.Id); err != nil {
			return err
		}
		return p.events.Dispatch(ctx, events.EntryDeleted{EntryId: entry.Id, MagazineId: entry.MagazineId})
	}

	if post, err := p.db.PostByApID(act.ObjectURI); err != nil {
		return err
	} else if post != nil {
		if err := p.db.SoftDeletePost(post.Id); err != nil {
			return err
		}
		return p.events.Dispatch(ctx, events.PostDeleted{PostId: post.Id, MagazineId: post.MagazineId})
	}

	if comment, err := p.db.EntryCommentByApID(act.ObjectURI); err != nil {
		return err
	} else if comment != nil {
		if err := p.db.SoftDeleteEntryComment(comment.Id); err != nil {
			return err
		}
		entry, err := p.db.EntryById(comment.EntryId)
		if err != nil {
			return err
		}
		if entry == nil {
			// Parent already gone; the comment no longer counts anywhere.
			return nil
		}
		ev := events.EntryCommentDeleted{CommentId: comment.Id, EntryId: entry.Id, MagazineId: entry.MagazineId}
		return p.events.Dispatch(ctx, ev)
	}

	if comment, err := p.db.PostCommentByApID(act.ObjectURI); err != nil {
		return err
	} else if comment != nil {
		if err := p.db.SoftDeletePostComment(comment.Id); err != nil {
			return err
		}
		post, err := p.db.PostById(comment.PostId)
		if err != nil {
			return err
		}
		if post == nil {
			return nil
		}
		ev := events.PostCommentDeleted{CommentId: comment.Id, PostId: post.Id, MagazineId: post.MagazineId}
		return p.events.Dispatch(ctx, ev)
	}

	p.log.Debug().Str("object", act.ObjectURI).Msg("delete for unknown object ignored")
	return nil
}

// deleteActor purges a remote account and all content it published. Each
// removal raises its event so every affected counter is recounted; the
// events fire after the rows are gone, making the recounts authoritative.
func (p *Processor) deleteActor(ctx context.Context, actorIRI string) error {
	user, err := p.db.UserByApID(actorIRI)
	if err != nil {
		return err
	}
	if user == nil {
		p.log.Debug().Str("actor", actorIRI).Msg("delete for unknown actor ignored")
		return nil
	}

	commentIds, err := p.db.EntryCommentIdsByUser(user.Id)
	if err != nil {
		return err
	}
	for _, id := range commentIds {
		comment, err := p.db.EntryCommentById(id)
		if err != nil || comment == nil {
			return err
		}
		entry, err := p.db.EntryById(comment.EntryId)
		if err != nil {
			return err
		}
		if err := p.db.PurgeEntryComment(id); err != nil {
			return err
		}
		if entry != nil {
			ev := events.EntryCommentPurged{EntryId: entry.Id, MagazineId: entry.MagazineId}
			if err := p.events.Dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}

	postCommentIds, err := p.db.PostCommentIdsByUser(user.Id)
	if err != nil {
		return err
	}
	for _, id := range postCommentIds {
		comment, err := p.db.PostCommentById(id)
		if err != nil || comment == nil {
			return err
		}
		post, err := p.db.PostById(comment.PostId)
		if err != nil {
			return err
		}
		if err := p.db.PurgePostComment(id); err != nil {
			return err
		}
		if post != nil {
			ev := events.PostCommentPurged{PostId: post.Id, MagazineId: post.MagazineId}
			if err := p.events.Dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}

	entryIds, err := p.db.EntryIdsByUser(user.Id)
	if err != nil {
		return err
	}
	for _, id := range entryIds {
		entry, err := p.db.EntryById(id)
		if err != nil || entry == nil {
			return err
		}
		// The whole thread goes with the entry, other authors included.
		if err := p.db.PurgeEntryComments(id); err != nil {
			return err
		}
		if err := p.db.PurgeEntry(id); err != nil {
			return err
		}
		ev := events.EntryDeleted{EntryId: entry.Id, MagazineId: entry.MagazineId}
		if err := p.events.Dispatch(ctx, ev); err != nil {
			return err
		}
	}

	postIds, err := p.db.PostIdsByUser(user.Id)
	if err != nil {
		return err
	}
	for _, id := range postIds {
		post, err := p.db.PostById(id)
		if err != nil || post == nil {
			return err
		}
		if err := p.db.PurgePostComments(id); err != nil {
			return err
		}
		if err := p.db.PurgePost(id); err != nil {
			return err
		}
		ev := events.PostDeleted{PostId: post.Id, MagazineId: post.MagazineId}
		if err := p.events.Dispatch(ctx, ev); err != nil {
			return err
		}
	}

	if err := p.db.DeleteUser(user.Id); err != nil {
		return err
	}
	p.log.Info().Str("actor", actorIRI).Msg("remote account purged")
	return nil
}
