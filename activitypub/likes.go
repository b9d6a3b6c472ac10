package activitypub

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
)

// handleLike records a favourite on the liked object.
func (p *Processor) handleLike(ctx context.Context, act *domain.Activity, magazine string) error {
	actor, err := p.resolver.ResolveActor(ctx, act.Actor)
	if err != nil {
		return p.mapResolveErr(err)
	}

	ref, err := p.resolver.Resolve(ctx, act.ObjectURI)
	if err != nil {
		return p.mapResolveErr(err)
	}

	subject, ok := favouritableSubject(ref.Kind)
	if !ok {
		p.log.Debug().
			Str("kind", string(ref.Kind)).
			Str("object", act.ObjectURI).
			Msg("like on unsupported subject ignored")
		return nil
	}

	fav := &domain.Favourite{
		Id:          uuid.New(),
		UserId:      actor.Id,
		SubjectType: subject,
		SubjectId:   ref.Id,
		ApID:        act.ID,
		CreatedAt:   time.Now(),
	}
	if err := p.db.UpsertFavourite(fav); err != nil {
		return err
	}

	ev := events.FavouriteChanged{SubjectType: string(subject), SubjectId: ref.Id}
	return p.events.Dispatch(ctx, ev)
}

// handleDislike records a downvote. Lemmy federates downvotes as Dislike;
// they land in the same vote table as boosts with the opposite sign.
func (p *Processor) handleDislike(ctx context.Context, act *domain.Activity, magazine string) error {
	return p.applyVote(ctx, act, -1)
}

func favouritableSubject(kind ObjectKind) (domain.SubjectType, bool) {
	switch kind {
	case KindEntry:
		return domain.SubjectEntry, true
	case KindPost:
		return domain.SubjectPost, true
	case KindEntryComment:
		return domain.SubjectEntryComment, true
	case KindPostComment:
		return domain.SubjectPostComment, true
	default:
		return "", false
	}
}
