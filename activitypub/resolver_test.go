package activitypub

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/h-a-s-h/kbin/db"
	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
	"github.com/h-a-s-h/kbin/queue"
	"github.com/h-a-s-h/kbin/util"
)

// fakeFetcher serves canned documents and counts every network round trip.
// failNext makes the next n fetches fail as if the remote were unreachable.
type fakeFetcher struct {
	docs     map[string]string
	failNext int
	fetches  atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, iri string) ([]byte, error) {
	f.fetches.Add(1)
	if f.failNext > 0 {
		f.failNext--
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, iri)
	}
	doc, ok := f.docs[iri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRemoteGone, iri)
	}
	return []byte(doc), nil
}

type fakePages struct {
	body string
	err  error
}

func (f *fakePages) FetchPage(ctx context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

type fakePoster struct {
	posts atomic.Int32
	err   error
}

func (f *fakePoster) Post(ctx context.Context, inboxURI string, activity []byte, key *rsa.PrivateKey, keyId string) error {
	f.posts.Add(1)
	return f.err
}

// harness wires a full pipeline over an in-memory store and fake network.
type harness struct {
	db        *db.DB
	fetcher   *fakeFetcher
	pages     *fakePages
	poster    *fakePoster
	bus       *queue.Bus
	resolver  *Resolver
	processor *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.CreateMagazine(&domain.Magazine{
		Id: uuid.New(), Name: "random", Title: "random", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("failed to create default magazine: %v", err)
	}

	conf := util.Conf{Domain: "kbin.test", DefaultMagazine: "random", WithFederation: true}
	eventBus := events.NewDispatcher(zerolog.Nop())
	events.NewContentCounts(database, zerolog.Nop()).Register(eventBus)

	fetcher := &fakeFetcher{docs: map[string]string{}}
	pages := &fakePages{}
	poster := &fakePoster{}
	bus := queue.New(database, queue.Config{Workers: 2}, zerolog.Nop())
	resolver := NewResolver(database, fetcher, eventBus, bus, "random", zerolog.Nop())
	processor := NewProcessor(database, resolver, eventBus, bus, pages, poster, conf, zerolog.Nop())
	processor.Register(bus)

	return &harness{
		db:        database,
		fetcher:   fetcher,
		pages:     pages,
		poster:    poster,
		bus:       bus,
		resolver:  resolver,
		processor: processor,
	}
}

func (h *harness) addActor(iri string) {
	h.fetcher.docs[iri] = fmt.Sprintf(`{
		"id": %q,
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": "https://remote.example/inbox"
	}`, iri)
}

const actorIRI = "https://remote.example/u/alice"
const pageIRI = "https://remote.example/e/1"

func (h *harness) addPage(iri string) {
	h.fetcher.docs[iri] = fmt.Sprintf(`{
		"id": %q,
		"type": "Page",
		"name": "An interesting link",
		"url": "https://example.com/article",
		"attributedTo": %q
	}`, iri, actorIRI)
}

func TestResolveLocalHitCostsNoFetch(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	first, err := h.resolver.Resolve(context.Background(), pageIRI)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if first.Kind != KindEntry {
		t.Fatalf("expected entry, got %s", first.Kind)
	}
	fetchesAfterFirst := h.fetcher.fetches.Load()

	second, err := h.resolver.Resolve(context.Background(), pageIRI)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("resolving twice produced two entities: %s vs %s", first.Id, second.Id)
	}
	if got := h.fetcher.fetches.Load(); got != fetchesAfterFirst {
		t.Errorf("second resolve hit the network: %d extra fetches", got-fetchesAfterFirst)
	}
}

func TestConcurrentResolveConvergesOnOneEntity(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)

	const n = 8
	refs := make([]*Ref, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			refs[i], errs[i] = h.resolver.Resolve(context.Background(), pageIRI)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolver %d failed: %v", i, errs[i])
		}
		if refs[i].Id != refs[0].Id {
			t.Fatalf("resolvers disagree: %s vs %s", refs[i].Id, refs[0].Id)
		}
	}

	entry, err := h.db.EntryByApID(pageIRI)
	if err != nil || entry == nil {
		t.Fatalf("entry missing after concurrent resolve: %v", err)
	}
}

func TestResolveNoteWithReplyBecomesComment(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	h.addPage(pageIRI)
	commentIRI := "https://remote.example/c/1"
	h.fetcher.docs[commentIRI] = fmt.Sprintf(`{
		"id": %q,
		"type": "Note",
		"content": "nice find",
		"inReplyTo": %q,
		"attributedTo": %q
	}`, commentIRI, pageIRI, actorIRI)

	ref, err := h.resolver.Resolve(context.Background(), commentIRI)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ref.Kind != KindEntryComment {
		t.Fatalf("expected entry comment, got %s", ref.Kind)
	}

	comment, err := h.db.EntryCommentByApID(commentIRI)
	if err != nil || comment == nil {
		t.Fatalf("comment not stored: %v", err)
	}
	entry, err := h.db.EntryById(comment.EntryId)
	if err != nil || entry == nil {
		t.Fatalf("parent entry missing: %v", err)
	}
	if entry.CommentCount != 1 {
		t.Errorf("expected comment count 1, got %d", entry.CommentCount)
	}
}

func TestResolveBareNoteBecomesPost(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)
	noteIRI := "https://remote.example/n/1"
	h.fetcher.docs[noteIRI] = fmt.Sprintf(`{
		"id": %q,
		"type": "Note",
		"content": "just microblogging",
		"attributedTo": %q
	}`, noteIRI, actorIRI)

	ref, err := h.resolver.Resolve(context.Background(), noteIRI)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ref.Kind != KindPost {
		t.Fatalf("expected post, got %s", ref.Kind)
	}
}

func TestResolveGoneObjectIsUnresolvable(t *testing.T) {
	h := newHarness(t)

	_, err := h.resolver.Resolve(context.Background(), "https://remote.example/e/missing")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !isUnresolvable(err) {
		t.Errorf("expected an unresolvable error, got %v", err)
	}
}

func TestResolveTombstoneIsUnresolvable(t *testing.T) {
	h := newHarness(t)
	iri := "https://remote.example/e/deleted"
	h.fetcher.docs[iri] = fmt.Sprintf(`{"id": %q, "type": "Tombstone"}`, iri)

	_, err := h.resolver.Resolve(context.Background(), iri)
	if !isUnresolvable(err) {
		t.Errorf("expected an unresolvable error, got %v", err)
	}
}

func TestResolveGroupBecomesMagazine(t *testing.T) {
	h := newHarness(t)
	groupIRI := "https://remote.example/m/tech"
	h.fetcher.docs[groupIRI] = fmt.Sprintf(`{
		"id": %q,
		"type": "Group",
		"preferredUsername": "tech",
		"name": "Technology"
	}`, groupIRI)

	ref, err := h.resolver.Resolve(context.Background(), groupIRI)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ref.Kind != KindMagazine {
		t.Fatalf("expected magazine, got %s", ref.Kind)
	}

	mag, err := h.db.MagazineByApID(groupIRI)
	if err != nil || mag == nil {
		t.Fatalf("magazine not stored: %v", err)
	}
	if mag.Name != "tech@remote.example" {
		t.Errorf("unexpected magazine name %q", mag.Name)
	}
}

func TestActorCacheRefreshesWhenStale(t *testing.T) {
	h := newHarness(t)
	h.addActor(actorIRI)

	first, err := h.resolver.ResolveActor(context.Background(), actorIRI)
	if err != nil {
		t.Fatalf("resolve actor failed: %v", err)
	}
	fetches := h.fetcher.fetches.Load()

	// Fresh cache: no fetch.
	if _, err := h.resolver.ResolveActor(context.Background(), actorIRI); err != nil {
		t.Fatalf("cached resolve failed: %v", err)
	}
	if got := h.fetcher.fetches.Load(); got != fetches {
		t.Errorf("cached actor resolve hit the network")
	}

	// Stale cache: one refetch, same row.
	h.resolver.actorMaxAge = 0
	refreshed, err := h.resolver.ResolveActor(context.Background(), actorIRI)
	if err != nil {
		t.Fatalf("stale resolve failed: %v", err)
	}
	if refreshed.Id != first.Id {
		t.Errorf("refresh created a new user row")
	}
	if got := h.fetcher.fetches.Load(); got != fetches+1 {
		t.Errorf("expected exactly one refetch, got %d", got-fetches)
	}
}

func TestTruncateCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ü", 200)
	got := truncate(long, 255)
	if len(got) > 255 {
		t.Fatalf("truncate returned %d bytes", len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncate split a multi-byte character")
	}
	if truncate("short", 255) != "short" {
		t.Error("short strings must pass through unchanged")
	}
}

func isUnresolvable(err error) bool {
	return errors.Is(err, ErrUnresolvable)
}
