package activitypub

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestReceiveAcceptsMinimalActivity(t *testing.T) {
	h := newHarness(t)
	d := NewDispatcher(h.bus, zerolog.Nop())

	raw := []byte(`{"id": "https://remote.example/a/1", "type": "Like", "actor": "https://remote.example/u/alice"}`)
	if err := d.Receive(context.Background(), raw, ""); err != nil {
		t.Fatalf("receive failed: %v", err)
	}

	pending, err := h.db.CountWorkByStatus("pending")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("expected 1 queued item, got %d", pending)
	}
}

func TestReceiveRejectsMissingType(t *testing.T) {
	h := newHarness(t)
	d := NewDispatcher(h.bus, zerolog.Nop())

	err := d.Receive(context.Background(), []byte(`{"actor": "https://remote.example/u/alice"}`), "")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestReceiveRejectsAnonymousActivity(t *testing.T) {
	h := newHarness(t)
	d := NewDispatcher(h.bus, zerolog.Nop())

	// Neither id nor actor: nothing to attribute or deduplicate by.
	err := d.Receive(context.Background(), []byte(`{"type": "Like"}`), "")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestReceiveRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	d := NewDispatcher(h.bus, zerolog.Nop())

	err := d.Receive(context.Background(), []byte("<not json>"), "")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}

	pending, _ := h.db.CountWorkByStatus("pending")
	if pending != 0 {
		t.Errorf("rejected input must not be queued, found %d items", pending)
	}
}
