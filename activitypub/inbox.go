package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/h-a-s-h/kbin/queue"
)

// ErrRejected marks an envelope the dispatcher refused to accept. The web
// layer maps it to 400; everything else is a server-side failure.
var ErrRejected = errors.New("activity rejected")

// envelope is the minimal shape an inbound activity must have before it is
// worth queueing. Full parsing happens later, in the worker.
type envelope struct {
	ID    string `json:"id"`
	Type  string `json:"type" validate:"required"`
	Actor string `json:"actor" validate:"required_without=ID"`
}

// InboundPayload is what travels through the work queue for an inbound
// activity: the raw document plus where it arrived.
type InboundPayload struct {
	Raw      json.RawMessage `json:"raw"`
	Magazine string          `json:"magazine,omitempty"`
}

// Dispatcher is the single entry point for inbound activities. The HTTP
// inbox and the CLI importer both funnel through Receive, so acceptance
// rules live in exactly one place. Receive never does network I/O: it
// validates the envelope and enqueues, nothing more.
type Dispatcher struct {
	bus      *queue.Bus
	validate *validator.Validate
	log      zerolog.Logger
}

func NewDispatcher(bus *queue.Bus, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		validate: validator.New(),
		log:      log,
	}
}

// Receive accepts a raw activity for asynchronous processing. magazine is
// the local magazine name the activity was addressed to, or empty for the
// shared inbox. Returns ErrRejected-wrapped errors for documents not worth
// queueing.
func (d *Dispatcher) Receive(ctx context.Context, raw []byte, magazine string) error {
	if !json.Valid(raw) {
		return fmt.Errorf("%w: body is not valid json", ErrRejected)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := d.validate.Struct(&env); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	payload := InboundPayload{Raw: raw, Magazine: magazine}
	if err := d.bus.Enqueue(ctx, queue.KindInboundActivity, payload); err != nil {
		return err
	}

	d.log.Debug().
		Str("type", env.Type).
		Str("actor", env.Actor).
		Msg("activity accepted")
	return nil
}
