package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/h-a-s-h/kbin/queue"
)

func embedPayload(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	payload, err := json.Marshal(EmbedPayload{EntryId: id})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return payload
}

func seedEntry(t *testing.T, h *harness) uuid.UUID {
	t.Helper()
	h.addActor(actorIRI)
	h.addPage(pageIRI)
	ref, err := h.resolver.Resolve(context.Background(), pageIRI)
	if err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}
	return ref.Id
}

func TestEmbedAttachesOpenGraphImage(t *testing.T) {
	h := newHarness(t)
	entryId := seedEntry(t, h)
	h.pages.body = `<html><head>
		<meta property="og:image" content="https://example.com/preview.jpg">
	</head><body></body></html>`

	if err := h.processor.HandleEmbed(context.Background(), embedPayload(t, entryId)); err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	entry, err := h.db.EntryById(entryId)
	if err != nil || entry == nil {
		t.Fatalf("entry lookup failed: %v", err)
	}
	if !entry.HasEmbed {
		t.Error("embed flag not set")
	}
	if entry.ImageURL != "https://example.com/preview.jpg" {
		t.Errorf("unexpected image url %q", entry.ImageURL)
	}
}

func TestEmbedFetchFailureLeavesEntryIntact(t *testing.T) {
	h := newHarness(t)
	entryId := seedEntry(t, h)
	h.pages.err = errors.New("connection refused")

	// A dead link is not the entry's problem.
	if err := h.processor.HandleEmbed(context.Background(), embedPayload(t, entryId)); err != nil {
		t.Fatalf("embed failure must not propagate: %v", err)
	}

	entry, _ := h.db.EntryById(entryId)
	if entry.HasEmbed || entry.ImageURL != "" {
		t.Error("failed embed probe must not touch the entry")
	}
}

func TestEmbedWithoutMetadataIsNoOp(t *testing.T) {
	h := newHarness(t)
	entryId := seedEntry(t, h)
	h.pages.body = `<html><head><title>plain page</title></head></html>`

	if err := h.processor.HandleEmbed(context.Background(), embedPayload(t, entryId)); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	entry, _ := h.db.EntryById(entryId)
	if entry.HasEmbed {
		t.Error("no metadata, no embed")
	}
}

func TestEmbedForMissingEntryDeadLetters(t *testing.T) {
	h := newHarness(t)

	err := h.processor.HandleEmbed(context.Background(), embedPayload(t, uuid.New()))
	if !queue.IsUnrecoverable(err) {
		t.Errorf("expected unrecoverable, got %v", err)
	}
}

func TestParseOpenGraphPrefersVideoForEmbedURL(t *testing.T) {
	page := []byte(`<html><head>
		<meta property="og:image" content="https://example.com/still.jpg">
		<meta property="og:video" content="https://example.com/clip.mp4">
	</head></html>`)

	meta := parseOpenGraph(page)
	if meta.image != "https://example.com/still.jpg" {
		t.Errorf("unexpected image %q", meta.image)
	}
	if meta.video != "https://example.com/clip.mp4" {
		t.Errorf("unexpected video %q", meta.video)
	}
}

func TestParseOpenGraphIgnoresNonHTTPContent(t *testing.T) {
	page := []byte(fmt.Sprintf(`<html><head>
		<meta property="og:image" content=%q>
	</head></html>`, "javascript:alert(1)"))

	meta := parseOpenGraph(page)
	if meta.image != "" {
		t.Errorf("non-http content accepted: %q", meta.image)
	}
}
