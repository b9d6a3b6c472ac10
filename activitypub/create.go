package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/queue"
)

// handleCreate materializes the created object. The object document usually
// rides inside the activity; when only an IRI was sent it is fetched. A
// Create for an object that already exists locally is a replay and falls
// through as a no-op inside the materializers.
func (p *Processor) handleCreate(ctx context.Context, act *domain.Activity, magazine string) error {
	doc, err := p.embeddedObject(ctx, act)
	if err != nil {
		return err
	}

	// Delivery to a magazine inbox pins the target magazine; it must exist.
	if magazine != "" {
		mag, err := p.db.MagazineByName(magazine)
		if err != nil {
			return err
		}
		if mag == nil {
			return queue.Unrecoverable(fmt.Errorf("magazine %q does not exist", magazine))
		}
		doc.localMagazine = mag.Name
	}

	ref, err := p.resolver.materialize(ctx, doc, 0)
	if err != nil {
		return p.mapResolveErr(err)
	}

	p.log.Info().
		Str("kind", string(ref.Kind)).
		Str("object", doc.ID).
		Msg("object created")
	return nil
}

// mapResolveErr turns permanent resolution failures into dead-letter
// errors; transient fetch failures stay retryable.
func (p *Processor) mapResolveErr(err error) error {
	if errors.Is(err, ErrUnresolvable) {
		return queue.Unrecoverable(err)
	}
	return err
}
