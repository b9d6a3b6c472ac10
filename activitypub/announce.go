package activitypub

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
)

// handleAnnounce records a boost as an upvote on the announced object. The
// resolver checks the local store first, so boosting something already
// known costs no fetch.
func (p *Processor) handleAnnounce(ctx context.Context, act *domain.Activity, magazine string) error {
	return p.applyVote(ctx, act, +1)
}

func (p *Processor) applyVote(ctx context.Context, act *domain.Activity, choice int) error {
	actor, err := p.resolver.ResolveActor(ctx, act.Actor)
	if err != nil {
		return p.mapResolveErr(err)
	}

	ref, err := p.resolver.Resolve(ctx, act.ObjectURI)
	if err != nil {
		return p.mapResolveErr(err)
	}

	subject, ok := votableSubject(ref.Kind)
	if !ok {
		p.log.Debug().
			Str("kind", string(ref.Kind)).
			Str("object", act.ObjectURI).
			Msg("vote on unsupported subject ignored")
		return nil
	}

	vote := &domain.Vote{
		Id:          uuid.New(),
		UserId:      actor.Id,
		SubjectType: subject,
		SubjectId:   ref.Id,
		Choice:      choice,
		ApID:        act.ID,
		CreatedAt:   time.Now(),
	}
	if err := p.db.UpsertVote(vote); err != nil {
		return err
	}

	ev := events.VoteChanged{SubjectType: string(subject), SubjectId: ref.Id}
	return p.events.Dispatch(ctx, ev)
}

// votableSubject maps a resolved reference onto a vote subject. Only
// entries and posts carry a score.
func votableSubject(kind ObjectKind) (domain.SubjectType, bool) {
	switch kind {
	case KindEntry:
		return domain.SubjectEntry, true
	case KindPost:
		return domain.SubjectPost, true
	default:
		return "", false
	}
}
