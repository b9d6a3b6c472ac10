package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/h-a-s-h/kbin/db"
	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
	"github.com/h-a-s-h/kbin/queue"
	"github.com/h-a-s-h/kbin/util"
)

// verbHandler processes one parsed activity. magazine is the local magazine
// name the activity was addressed to, empty for the shared inbox.
type verbHandler func(ctx context.Context, act *domain.Activity, magazine string) error

// Processor executes queued inbound activities. Dispatch over the verb is an
// explicit lookup table built at construction; an unlisted verb is ignored,
// never guessed at.
type Processor struct {
	db       *db.DB
	resolver *Resolver
	events   *events.Dispatcher
	bus      *queue.Bus
	pages    PageFetcher
	post     Poster
	conf     util.Conf
	log      zerolog.Logger

	handlers map[domain.Verb]verbHandler
}

func NewProcessor(database *db.DB, resolver *Resolver, ev *events.Dispatcher, bus *queue.Bus, pages PageFetcher, post Poster, conf util.Conf, log zerolog.Logger) *Processor {
	p := &Processor{
		db:       database,
		resolver: resolver,
		events:   ev,
		bus:      bus,
		pages:    pages,
		post:     post,
		conf:     conf,
		log:      log,
	}
	p.handlers = map[domain.Verb]verbHandler{
		domain.VerbCreate:   p.handleCreate,
		domain.VerbUpdate:   p.handleUpdate,
		domain.VerbDelete:   p.handleDelete,
		domain.VerbAnnounce: p.handleAnnounce,
		domain.VerbLike:     p.handleLike,
		domain.VerbDislike:  p.handleDislike,
		domain.VerbFollow:   p.handleFollow,
		domain.VerbUndo:     p.handleUndo,
		domain.VerbAccept:   p.handleAccept,
	}
	return p
}

// Register binds the processor's work kinds on the bus.
func (p *Processor) Register(bus *queue.Bus) {
	bus.Register(queue.KindInboundActivity, p.HandleInbound)
	bus.Register(queue.KindEntryEmbed, p.HandleEmbed)
	bus.Register(queue.KindDeliver, p.HandleDeliver)
}

// HandleInbound is the worker behind activity.inbound items: parse, dedup,
// dispatch to the verb handler.
func (p *Processor) HandleInbound(ctx context.Context, payload []byte) error {
	var inbound InboundPayload
	if err := json.Unmarshal(payload, &inbound); err != nil {
		return queue.Unrecoverable(fmt.Errorf("failed to decode inbound payload: %w", err))
	}

	act, err := domain.ParseActivity(inbound.Raw)
	if err != nil {
		return queue.Unrecoverable(err)
	}

	// At-least-once delivery means the same activity can be leased twice and
	// the same activity id can arrive over the wire twice. One durable log
	// row per activity id collapses both cases. The row is written only once
	// the handler has succeeded, so a transient failure stays retryable.
	if act.ID != "" {
		seen, err := p.db.SeenActivity(act.ID)
		if err != nil {
			return err
		}
		if seen {
			p.log.Debug().Str("activity", act.ID).Msg("duplicate activity skipped")
			return nil
		}
	}

	if handler, ok := p.handlers[act.Verb]; ok {
		if err := handler(ctx, act, inbound.Magazine); err != nil {
			return fmt.Errorf("%s %s: %w", act.Verb, act.ID, err)
		}
	} else {
		p.log.Debug().
			Str("verb", string(act.Verb)).
			Str("activity", act.ID).
			Msg("unsupported verb ignored")
	}

	if act.ID != "" {
		if _, err := p.db.RecordActivity(act.ID, string(act.Verb), act.Actor); err != nil {
			return err
		}
	}
	return nil
}

// embeddedObject pulls the embedded object document out of the raw
// activity, falling back to a fetch when only an IRI was sent.
func (p *Processor) embeddedObject(ctx context.Context, act *domain.Activity) (*objectDoc, error) {
	var outer struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(act.Raw, &outer); err != nil {
		return nil, queue.Unrecoverable(fmt.Errorf("failed to parse activity object: %w", err))
	}

	var doc objectDoc
	if err := json.Unmarshal(outer.Object, &doc); err == nil && doc.Type != "" {
		if doc.ID == "" {
			doc.ID = act.ObjectURI
		}
		if len(doc.AttributedTo) == 0 && act.Actor != "" {
			doc.AttributedTo = json.RawMessage(fmt.Sprintf("%q", act.Actor))
		}
		return &doc, nil
	}

	if act.ObjectURI == "" {
		return nil, queue.Unrecoverable(fmt.Errorf("activity %s has no usable object", act.ID))
	}
	raw, err := p.resolver.fetch.Fetch(ctx, act.ObjectURI)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, queue.Unrecoverable(fmt.Errorf("%w: %s: %v", ErrParse, act.ObjectURI, err))
	}
	if doc.ID == "" {
		doc.ID = act.ObjectURI
	}
	return &doc, nil
}
