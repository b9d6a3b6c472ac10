package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/queue"
	"github.com/h-a-s-h/kbin/util"
)

// inbound wraps a raw activity the way the dispatcher would before calling
// the worker directly.
func inbound(t *testing.T, activity string, magazine string) []byte {
	t.Helper()
	payload, err := json.Marshal(InboundPayload{Raw: []byte(activity), Magazine: magazine})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return payload
}

func TestCreateMaterializesEntryAndQueuesEmbed(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)

	activity := fmt.Sprintf(`{
		"id": "https://remote.example/a/1",
		"type": "Create",
		"actor": %q,
		"object": {
			"id": %q,
			"type": "Page",
			"name": "An interesting link",
			"url": "https://example.com/article",
			"attributedTo": %q
		}
	}`, actorIRI, pageIRI, actorIRI)

	if err := h.processor.HandleInbound(context.Background(), inbound(t, activity, "")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	entry, err := h.db.EntryByApID(pageIRI)
	if err != nil || entry == nil {
		t.Fatalf("entry not created: %v", err)
	}
	if entry.Title != "An interesting link" {
		t.Errorf("unexpected title %q", entry.Title)
	}

	mag, err := h.db.MagazineByName("random")
	if err != nil || mag == nil {
		t.Fatalf("default magazine missing: %v", err)
	}
	if mag.EntryCount != 1 {
		t.Errorf("expected magazine entry count 1, got %d", mag.EntryCount)
	}

	// The link spawned an embed probe on the queue.
	pending, err := h.db.CountWorkByStatus("pending")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("expected 1 queued embed item, got %d", pending)
	}
}

func TestDuplicateActivityIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)

	activity := fmt.Sprintf(`{
		"id": "https://remote.example/a/1",
		"type": "Create",
		"actor": %q,
		"object": {
			"id": "https://remote.example/n/1",
			"type": "Note",
			"content": "hello",
			"attributedTo": %q
		}
	}`, actorIRI, actorIRI)

	for i := 0; i < 2; i++ {
		if err := h.processor.HandleInbound(context.Background(), inbound(t, activity, "")); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	mag, err := h.db.MagazineByName("random")
	if err != nil {
		t.Fatalf("magazine lookup failed: %v", err)
	}
	if mag.PostCount != 1 {
		t.Errorf("redelivered activity was applied twice: post count %d", mag.PostCount)
	}
}

func TestTransientFailureIsRetriedNotSkipped(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.fetcher.failNext = 1

	noteIRI := "https://remote.example/n/flaky"
	activity := fmt.Sprintf(`{
		"id": "https://remote.example/a/flaky1",
		"type": "Create",
		"actor": %q,
		"object": {"id": %q, "type": "Note", "content": "eventually", "attributedTo": %q}
	}`, actorIRI, noteIRI, actorIRI)
	payload := inbound(t, activity, "")

	err := h.processor.HandleInbound(context.Background(), payload)
	if err == nil {
		t.Fatal("expected the first delivery to fail on the unreachable actor")
	}
	if queue.IsUnrecoverable(err) {
		t.Fatalf("an unreachable remote must stay retryable, got %v", err)
	}

	// Redelivery of the same activity id runs the handler again; a failed
	// attempt must not count against the duplicate log.
	if err := h.processor.HandleInbound(context.Background(), payload); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	post, err := h.db.PostByApID(noteIRI)
	if err != nil || post == nil {
		t.Fatalf("retried activity was dropped: %v", err)
	}
}

func TestCreateIntoMissingMagazineDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)

	activity := fmt.Sprintf(`{
		"id": "https://remote.example/a/1",
		"type": "Create",
		"actor": %q,
		"object": {"id": "https://remote.example/n/1", "type": "Note", "content": "x", "attributedTo": %q}
	}`, actorIRI, actorIRI)

	err := h.processor.HandleInbound(context.Background(), inbound(t, activity, "nope"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !queue.IsUnrecoverable(err) {
		t.Errorf("expected unrecoverable, got %v", err)
	}
}

func TestDeleteUnknownObjectIsNoOp(t *testing.T) {
	h := newHarness(t)

	activity := `{
		"id": "https://remote.example/a/1",
		"type": "Delete",
		"actor": "https://remote.example/u/alice",
		"object": "https://remote.example/e/never-seen"
	}`

	if err := h.processor.HandleInbound(context.Background(), inbound(t, activity, "")); err != nil {
		t.Errorf("delete of unknown object must not fail: %v", err)
	}
}

func TestDeleteSoftDeletesAndRecounts(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	if _, err := h.resolver.Resolve(context.Background(), pageIRI); err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}

	activity := fmt.Sprintf(`{
		"id": "https://remote.example/a/del1",
		"type": "Delete",
		"actor": %q,
		"object": %q
	}`, actorIRI, pageIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, activity, "")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	entry, err := h.db.EntryByApID(pageIRI)
	if err != nil || entry == nil {
		t.Fatalf("entry should survive as soft-deleted: %v", err)
	}
	if !entry.IsDeleted {
		t.Error("entry not marked deleted")
	}

	mag, _ := h.db.MagazineByName("random")
	if mag.EntryCount != 0 {
		t.Errorf("expected entry count 0 after delete, got %d", mag.EntryCount)
	}
}

func TestAnnounceOfKnownObjectCostsNoFetch(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	if _, err := h.resolver.Resolve(context.Background(), pageIRI); err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}
	fetches := h.fetcher.fetches.Load()

	activity := fmt.Sprintf(`{
		"id": "https://remote.example/a/boost1",
		"type": "Announce",
		"actor": %q,
		"object": %q
	}`, actorIRI, pageIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, activity, "")); err != nil {
		t.Fatalf("announce failed: %v", err)
	}

	if got := h.fetcher.fetches.Load(); got != fetches {
		t.Errorf("announce of cached object hit the network: %d extra fetches", got-fetches)
	}

	entry, _ := h.db.EntryByApID(pageIRI)
	if entry.Score != 1 {
		t.Errorf("expected score 1, got %d", entry.Score)
	}
}

func TestDislikeThenUndoRestoresScore(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	dislike := fmt.Sprintf(`{
		"id": "https://remote.example/a/down1",
		"type": "Dislike",
		"actor": %q,
		"object": %q
	}`, actorIRI, pageIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, dislike, "")); err != nil {
		t.Fatalf("dislike failed: %v", err)
	}
	entry, _ := h.db.EntryByApID(pageIRI)
	if entry.Score != -1 {
		t.Fatalf("expected score -1, got %d", entry.Score)
	}

	undo := fmt.Sprintf(`{
		"id": "https://remote.example/a/undo1",
		"type": "Undo",
		"actor": %q,
		"object": {"id": "https://remote.example/a/down1", "type": "Dislike"}
	}`, actorIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, undo, "")); err != nil {
		t.Fatalf("undo failed: %v", err)
	}
	entry, _ = h.db.EntryByApID(pageIRI)
	if entry.Score != 0 {
		t.Errorf("expected score 0 after undo, got %d", entry.Score)
	}
}

func TestLikeRecordsFavourite(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	like := fmt.Sprintf(`{
		"id": "https://remote.example/a/like1",
		"type": "Like",
		"actor": %q,
		"object": %q
	}`, actorIRI, pageIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, like, "")); err != nil {
		t.Fatalf("like failed: %v", err)
	}

	entry, _ := h.db.EntryByApID(pageIRI)
	if entry.FavouriteCount != 1 {
		t.Errorf("expected favourite count 1, got %d", entry.FavouriteCount)
	}
	if entry.Score != 0 {
		t.Errorf("a like must not move the score, got %d", entry.Score)
	}
}

func TestFollowQueuesSignedAccept(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)

	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	mag := &domain.Magazine{
		Id: uuid.New(), Name: "tech", Title: "tech",
		PublicKeyPem: keys.Public, PrivateKeyPem: keys.Private, CreatedAt: time.Now(),
	}
	if err := h.db.CreateMagazine(mag); err != nil {
		t.Fatalf("failed to create magazine: %v", err)
	}

	follow := fmt.Sprintf(`{
		"id": "https://remote.example/a/follow1",
		"type": "Follow",
		"actor": %q,
		"object": "https://kbin.test/m/tech"
	}`, actorIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, follow, "")); err != nil {
		t.Fatalf("follow failed: %v", err)
	}

	// Drain the queue; the Accept delivery should go out signed.
	if err := h.bus.DrainPending(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if got := h.poster.posts.Load(); got != 1 {
		t.Errorf("expected 1 delivery, got %d", got)
	}

	// Replay changes nothing and sends nothing.
	if err := h.processor.HandleInbound(context.Background(), inbound(t, follow, "")); err != nil {
		t.Fatalf("replayed follow failed: %v", err)
	}
	if err := h.bus.DrainPending(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if got := h.poster.posts.Load(); got != 1 {
		t.Errorf("replayed follow sent another accept")
	}
}

func TestUnknownVerbIsIgnored(t *testing.T) {
	h := newHarness(t)

	activity := `{
		"id": "https://remote.example/a/odd",
		"type": "Arrive",
		"actor": "https://remote.example/u/alice"
	}`
	if err := h.processor.HandleInbound(context.Background(), inbound(t, activity, "")); err != nil {
		t.Errorf("unknown verb must be ignored, got %v", err)
	}
}

func TestUpdateEditsEntryBody(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	if _, err := h.resolver.Resolve(context.Background(), pageIRI); err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}

	update := fmt.Sprintf(`{
		"id": "https://remote.example/a/up1",
		"type": "Update",
		"actor": %q,
		"object": {
			"id": %q,
			"type": "Page",
			"name": "A corrected title",
			"content": "now with text",
			"attributedTo": %q
		}
	}`, actorIRI, pageIRI, actorIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, update, "")); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	entry, _ := h.db.EntryByApID(pageIRI)
	if entry.Title != "A corrected title" || entry.Body != "now with text" {
		t.Errorf("update not applied: title=%q body=%q", entry.Title, entry.Body)
	}
	if entry.EditedAt == nil {
		t.Error("edited_at not set")
	}
}

func TestActorDeletePurgesContent(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	if _, err := h.resolver.Resolve(context.Background(), pageIRI); err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}

	del := fmt.Sprintf(`{
		"id": "https://remote.example/a/bye",
		"type": "Delete",
		"actor": %q,
		"object": %q
	}`, actorIRI, actorIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, del, "")); err != nil {
		t.Fatalf("actor delete failed: %v", err)
	}

	if user, _ := h.db.UserByApID(actorIRI); user != nil {
		t.Error("actor row should be gone")
	}
	if entry, _ := h.db.EntryByApID(pageIRI); entry != nil {
		t.Error("entry should be purged, not soft-deleted")
	}
	mag, _ := h.db.MagazineByName("random")
	if mag.EntryCount != 0 {
		t.Errorf("expected entry count 0 after purge, got %d", mag.EntryCount)
	}
}

func TestActorDeletePurgesWholeThread(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	bobIRI := "https://remote.example/u/bob"
	h.fetcher.docs[bobIRI] = fmt.Sprintf(`{
		"id": %q,
		"type": "Person",
		"preferredUsername": "bob",
		"inbox": "https://remote.example/inbox"
	}`, bobIRI)
	commentIRI := "https://remote.example/c/by-bob"
	h.fetcher.docs[commentIRI] = fmt.Sprintf(`{
		"id": %q,
		"type": "Note",
		"content": "someone else's reply",
		"inReplyTo": %q,
		"attributedTo": %q
	}`, commentIRI, pageIRI, bobIRI)

	if _, err := h.resolver.Resolve(context.Background(), commentIRI); err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}

	del := fmt.Sprintf(`{
		"id": "https://remote.example/a/bye2",
		"type": "Delete",
		"actor": %q,
		"object": %q
	}`, actorIRI, actorIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, del, "")); err != nil {
		t.Fatalf("actor delete failed: %v", err)
	}

	// The other author's comment goes with the purged entry.
	if comment, _ := h.db.EntryCommentByApID(commentIRI); comment != nil {
		t.Error("comment under the purged entry should be gone")
	}
	mag, _ := h.db.MagazineByName("random")
	if mag.EntryCommentCount != 0 {
		t.Errorf("expected entry comment count 0 after purge, got %d", mag.EntryCommentCount)
	}
}

func TestDeleteOfOrphanCommentStillSoftDeletes(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)
	commentIRI := "https://remote.example/c/orphaned"
	h.fetcher.docs[commentIRI] = fmt.Sprintf(`{
		"id": %q,
		"type": "Note",
		"content": "soon to be orphaned",
		"inReplyTo": %q,
		"attributedTo": %q
	}`, commentIRI, pageIRI, actorIRI)

	if _, err := h.resolver.Resolve(context.Background(), commentIRI); err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}
	comment, err := h.db.EntryCommentByApID(commentIRI)
	if err != nil || comment == nil {
		t.Fatalf("comment not stored: %v", err)
	}
	// Drop the parent row out from under the comment.
	if err := h.db.PurgeEntry(comment.EntryId); err != nil {
		t.Fatalf("purge failed: %v", err)
	}

	del := fmt.Sprintf(`{
		"id": "https://remote.example/a/del-orphan",
		"type": "Delete",
		"actor": %q,
		"object": %q
	}`, actorIRI, commentIRI)
	if err := h.processor.HandleInbound(context.Background(), inbound(t, del, "")); err != nil {
		t.Fatalf("delete of orphan comment failed: %v", err)
	}

	comment, err = h.db.EntryCommentByApID(commentIRI)
	if err != nil || comment == nil {
		t.Fatalf("comment row missing: %v", err)
	}
	if !comment.IsDeleted {
		t.Error("orphan comment not marked deleted")
	}
}

func TestMalformedPayloadDeadLetters(t *testing.T) {
	h := newHarness(t)

	err := h.processor.HandleInbound(context.Background(), []byte("not json"))
	if !queue.IsUnrecoverable(err) {
		t.Errorf("expected unrecoverable, got %v", err)
	}
}
