package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
	"github.com/h-a-s-h/kbin/queue"
)

// innerActivity is the activity being undone or accepted, carried inside
// the outer envelope's object field.
type innerActivity struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// handleUndo reverts a previously applied Follow, Like, Dislike or
// Announce. The inner activity is matched by its IRI; if nothing matches
// the undo is a no-op, which covers both replays and undoes of activities
// this server never applied.
func (p *Processor) handleUndo(ctx context.Context, act *domain.Activity, magazine string) error {
	inner, err := p.innerActivity(act)
	if err != nil {
		return err
	}

	switch domain.Verb(inner.Type) {
	case domain.VerbFollow:
		return p.db.DeleteFollowByApID(inner.ID)

	case domain.VerbLike:
		subject, id, err := p.db.DeleteFavouriteByApID(inner.ID)
		if err != nil {
			return err
		}
		if id == nil {
			return nil
		}
		ev := events.FavouriteChanged{SubjectType: string(subject), SubjectId: *id}
		return p.events.Dispatch(ctx, ev)

	case domain.VerbAnnounce, domain.VerbDislike:
		subject, id, err := p.db.DeleteVoteByApID(inner.ID)
		if err != nil {
			return err
		}
		if id == nil {
			return nil
		}
		ev := events.VoteChanged{SubjectType: string(subject), SubjectId: *id}
		return p.events.Dispatch(ctx, ev)

	default:
		p.log.Debug().Str("type", inner.Type).Msg("undo of unsupported activity ignored")
		return nil
	}
}

// handleAccept marks a follow this server sent out as confirmed by the
// remote side.
func (p *Processor) handleAccept(ctx context.Context, act *domain.Activity, magazine string) error {
	inner, err := p.innerActivity(act)
	if err != nil {
		return err
	}
	if domain.Verb(inner.Type) != domain.VerbFollow {
		p.log.Debug().Str("type", inner.Type).Msg("accept of unsupported activity ignored")
		return nil
	}
	return p.db.AcceptFollowByApID(inner.ID)
}

func (p *Processor) innerActivity(act *domain.Activity) (*innerActivity, error) {
	var outer struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(act.Raw, &outer); err != nil {
		return nil, queue.Unrecoverable(err)
	}

	var inner innerActivity
	if err := json.Unmarshal(outer.Object, &inner); err == nil && (inner.ID != "" || inner.Type != "") {
		return &inner, nil
	}

	// The object may be a bare IRI; without the inner type the undo cannot
	// be routed, so only the IRI-bearing tables can be tried. Treat it as a
	// follow reference first, the common case from Mastodon.
	if act.ObjectURI != "" {
		return &innerActivity{ID: act.ObjectURI, Type: string(domain.VerbFollow)}, nil
	}
	return nil, queue.Unrecoverable(fmt.Errorf("activity %s has no usable inner object", act.ID))
}
