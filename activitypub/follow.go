package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/queue"
)

// handleFollow stores the follow and queues a signed Accept back to the
// follower. Follows are auto-accepted; the Accept is delivered
// asynchronously so a slow follower inbox never blocks the worker.
func (p *Processor) handleFollow(ctx context.Context, act *domain.Activity, magazine string) error {
	actor, err := p.resolver.ResolveActor(ctx, act.Actor)
	if err != nil {
		return p.mapResolveErr(err)
	}

	target, err := p.localTarget(act.ObjectURI)
	if err != nil {
		return err
	}

	follow := &domain.Follow{
		Id:         uuid.New(),
		FollowerId: actor.Id,
		TargetType: target.targetType,
		TargetId:   target.id,
		ApID:       act.ID,
		Accepted:   true,
		CreatedAt:  time.Now(),
	}
	created, err := p.db.CreateFollow(follow)
	if err != nil {
		return err
	}
	if !created {
		// Replayed Follow; the Accept already went out.
		return nil
	}

	accept, err := json.Marshal(map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s#accept-%s", target.iri, uuid.NewString()),
		"type":     "Accept",
		"actor":    target.iri,
		"object":   json.RawMessage(act.Raw),
	})
	if err != nil {
		return err
	}

	payload := DeliverPayload{
		InboxURI:   actor.InboxURI,
		Activity:   accept,
		SignerKind: target.signerKind,
		SignerId:   target.id,
	}
	if err := p.bus.Enqueue(ctx, queue.KindDeliver, payload); err != nil {
		return err
	}

	p.log.Info().
		Str("follower", act.Actor).
		Str("target", act.ObjectURI).
		Msg("follow accepted")
	return nil
}

// localTarget resolves an IRI under this instance's origin to the local
// user or magazine it names. A follow for anything else is undeliverable
// and dead-letters.
type localTarget struct {
	targetType domain.SubjectTarget
	signerKind string
	id         uuid.UUID
	iri        string
}

func (p *Processor) localTarget(iri string) (*localTarget, error) {
	base := p.conf.BaseURL()
	rest, ok := strings.CutPrefix(iri, base+"/")
	if !ok {
		return nil, queue.Unrecoverable(fmt.Errorf("follow target %s is not local", iri))
	}

	switch {
	case strings.HasPrefix(rest, "u/"):
		username := strings.TrimPrefix(rest, "u/")
		user, err := p.db.UserByUsername(username)
		if err != nil {
			return nil, err
		}
		if user == nil || !user.IsLocal() {
			return nil, queue.Unrecoverable(fmt.Errorf("no local user %q", username))
		}
		return &localTarget{targetType: domain.TargetUser, signerKind: SignerUser, id: user.Id, iri: iri}, nil

	case strings.HasPrefix(rest, "m/"):
		name := strings.TrimPrefix(rest, "m/")
		mag, err := p.db.MagazineByName(name)
		if err != nil {
			return nil, err
		}
		if mag == nil || !mag.IsLocal() {
			return nil, queue.Unrecoverable(fmt.Errorf("no local magazine %q", name))
		}
		return &localTarget{targetType: domain.TargetMagazine, signerKind: SignerMagazine, id: mag.Id, iri: iri}, nil

	default:
		return nil, queue.Unrecoverable(fmt.Errorf("follow target %s is not followable", iri))
	}
}
