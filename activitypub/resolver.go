package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/h-a-s-h/kbin/db"
	"github.com/h-a-s-h/kbin/domain"
	"github.com/h-a-s-h/kbin/events"
	"github.com/h-a-s-h/kbin/queue"
)

// ObjectKind says which table a resolved reference lives in.
type ObjectKind string

const (
	KindUser         ObjectKind = "user"
	KindMagazine     ObjectKind = "magazine"
	KindEntry        ObjectKind = "entry"
	KindPost         ObjectKind = "post"
	KindEntryComment ObjectKind = "entry_comment"
	KindPostComment  ObjectKind = "post_comment"
)

// Ref is a resolved reference: a kind plus a local entity id. Never a live
// entity pointer; callers re-read what they need.
type Ref struct {
	Kind ObjectKind
	Id   uuid.UUID
}

// ErrUnresolvable means the IRI cannot be mapped to a local entity: the
// remote document is gone, malformed, or of a type this server does not
// materialize. Retrying will fail the same way.
var ErrUnresolvable = errors.New("object could not be resolved")

const maxResolveDepth = 4

// objectDoc is the subset of a fetched ActivityStreams document the
// resolver cares about. Fields that may be a string or a nested object are
// kept raw and unwrapped by stringOrId.
type objectDoc struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	Name              string          `json:"name"`
	Content           string          `json:"content"`
	URL               json.RawMessage `json:"url"`
	InReplyTo         json.RawMessage `json:"inReplyTo"`
	AttributedTo      json.RawMessage `json:"attributedTo"`
	Audience          json.RawMessage `json:"audience"`
	Published         string          `json:"published"`
	PreferredUsername string          `json:"preferredUsername"`
	Inbox             string          `json:"inbox"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`

	// localMagazine pins the target magazine by name when the activity was
	// delivered to a magazine inbox. Set by the Create handler, never parsed.
	localMagazine string
}

// Resolver maps remote IRIs onto local entities. The local store is always
// consulted before the network, and entities are persisted only after a
// complete document has been parsed, with upsert-or-ignore on the IRI so
// that two concurrent resolutions of the same IRI converge on one row.
type Resolver struct {
	db              *db.DB
	fetch           Fetcher
	events          *events.Dispatcher
	bus             *queue.Bus
	defaultMagazine string
	actorMaxAge     time.Duration
	log             zerolog.Logger
}

func NewResolver(database *db.DB, fetch Fetcher, ev *events.Dispatcher, bus *queue.Bus, defaultMagazine string, log zerolog.Logger) *Resolver {
	return &Resolver{
		db:              database,
		fetch:           fetch,
		events:          ev,
		bus:             bus,
		defaultMagazine: defaultMagazine,
		actorMaxAge:     24 * time.Hour,
		log:             log,
	}
}

// Resolve maps an IRI to a local entity, fetching and materializing it if
// necessary. Idempotent: resolving the same IRI again returns the same Ref
// without touching the network.
func (r *Resolver) Resolve(ctx context.Context, iri string) (*Ref, error) {
	return r.resolve(ctx, iri, 0)
}

func (r *Resolver) resolve(ctx context.Context, iri string, depth int) (*Ref, error) {
	if iri == "" {
		return nil, fmt.Errorf("%w: empty iri", ErrUnresolvable)
	}

	if ref, err := r.localRef(iri); err != nil {
		return nil, err
	} else if ref != nil {
		return ref, nil
	}

	if depth >= maxResolveDepth {
		return nil, fmt.Errorf("%w: reference chain too deep at %s", ErrUnresolvable, iri)
	}

	raw, err := r.fetch.Fetch(ctx, iri)
	if err != nil {
		if errors.Is(err, ErrRemoteGone) || errors.Is(err, ErrParse) || errors.Is(err, ErrInvalidContentType) {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", iri, err)
	}

	var doc objectDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnresolvable, iri, err)
	}
	if doc.ID == "" {
		doc.ID = iri
	}

	return r.materialize(ctx, &doc, depth)
}

// materialize turns a parsed document into a local entity, creating it if
// the IRI is not bound yet. Also the entry point for Create handlers that
// carry the object inline.
func (r *Resolver) materialize(ctx context.Context, doc *objectDoc, depth int) (*Ref, error) {
	switch doc.Type {
	case "Person", "Service", "Application":
		user, err := r.materializeActor(doc)
		if err != nil {
			return nil, err
		}
		return &Ref{Kind: KindUser, Id: user.Id}, nil

	case "Group":
		mag, err := r.materializeMagazine(doc)
		if err != nil {
			return nil, err
		}
		return &Ref{Kind: KindMagazine, Id: mag.Id}, nil

	case "Page", "Article", "Link":
		return r.materializeEntry(ctx, doc, depth)

	case "Note", "Question":
		if stringOrId(doc.InReplyTo) != "" {
			return r.materializeComment(ctx, doc, depth)
		}
		return r.materializePost(ctx, doc, depth)

	case "Tombstone":
		return nil, fmt.Errorf("%w: %s is a tombstone", ErrUnresolvable, doc.ID)

	default:
		return nil, fmt.Errorf("%w: unsupported object type %q at %s", ErrUnresolvable, doc.Type, doc.ID)
	}
}

// ResolveActor returns the (possibly cached) user behind an actor IRI,
// refreshing the cache when it has gone stale.
func (r *Resolver) ResolveActor(ctx context.Context, iri string) (*domain.User, error) {
	return r.resolveActor(ctx, iri, 0)
}

func (r *Resolver) resolveActor(ctx context.Context, iri string, depth int) (*domain.User, error) {
	if iri == "" {
		return nil, fmt.Errorf("%w: empty actor iri", ErrUnresolvable)
	}

	cached, err := r.db.UserByApID(iri)
	if err != nil {
		return nil, err
	}
	if cached != nil && time.Since(cached.LastFetchedAt) < r.actorMaxAge {
		return cached, nil
	}

	raw, err := r.fetch.Fetch(ctx, iri)
	if err != nil {
		if cached != nil {
			// Stale beats gone.
			return cached, nil
		}
		if errors.Is(err, ErrRemoteGone) || errors.Is(err, ErrParse) || errors.Is(err, ErrInvalidContentType) {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
		}
		return nil, fmt.Errorf("failed to fetch actor %s: %w", iri, err)
	}

	var doc objectDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: actor %s: %v", ErrUnresolvable, iri, err)
	}
	if doc.ID == "" {
		doc.ID = iri
	}

	if cached != nil {
		if err := r.db.RefreshUser(doc.ID, doc.Inbox, doc.PublicKey.PublicKeyPem); err != nil {
			return nil, err
		}
		if refreshed, err := r.db.UserByApID(doc.ID); err != nil {
			return nil, err
		} else if refreshed != nil {
			return refreshed, nil
		}
		return cached, nil
	}
	return r.materializeActor(&doc)
}

func (r *Resolver) materializeActor(doc *objectDoc) (*domain.User, error) {
	if doc.ID == "" || doc.Inbox == "" || doc.PreferredUsername == "" {
		return nil, fmt.Errorf("%w: actor missing required fields", ErrUnresolvable)
	}
	host, err := extractHost(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}

	user := &domain.User{
		Id:            uuid.New(),
		Username:      doc.PreferredUsername,
		Domain:        host,
		ApID:          doc.ID,
		InboxURI:      doc.Inbox,
		PublicKeyPem:  doc.PublicKey.PublicKeyPem,
		LastFetchedAt: time.Now(),
		CreatedAt:     time.Now(),
	}
	if _, err := r.db.UpsertRemoteUser(user); err != nil {
		return nil, err
	}
	// Re-read so a concurrent loser gets the winner's row.
	stored, err := r.db.UserByApID(doc.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("actor %s vanished after insert", doc.ID)
	}
	return stored, nil
}

func (r *Resolver) materializeMagazine(doc *objectDoc) (*domain.Magazine, error) {
	if doc.ID == "" || doc.PreferredUsername == "" {
		return nil, fmt.Errorf("%w: group actor missing required fields", ErrUnresolvable)
	}
	host, err := extractHost(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}

	mag := &domain.Magazine{
		Id:        uuid.New(),
		Name:      fmt.Sprintf("%s@%s", doc.PreferredUsername, host),
		Title:     firstNonEmpty(doc.Name, doc.PreferredUsername),
		ApID:      doc.ID,
		CreatedAt: time.Now(),
	}
	if err := r.db.EnsureMagazine(mag); err != nil {
		return nil, err
	}
	stored, err := r.db.MagazineByApID(doc.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		// The name slot was taken by a different group; that magazine wins.
		stored, err = r.db.MagazineByName(mag.Name)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("magazine %s vanished after insert", mag.Name)
		}
	}
	return stored, nil
}

func (r *Resolver) materializeEntry(ctx context.Context, doc *objectDoc, depth int) (*Ref, error) {
	author, err := r.resolveActor(ctx, stringOrId(doc.AttributedTo), depth+1)
	if err != nil {
		return nil, err
	}
	mag, err := r.magazineFor(ctx, doc, depth)
	if err != nil {
		return nil, err
	}

	entry := &domain.Entry{
		Id:         uuid.New(),
		MagazineId: mag.Id,
		UserId:     author.Id,
		Title:      firstNonEmpty(doc.Name, truncate(stripTags(doc.Content), 255)),
		Url:        stringOrId(doc.URL),
		Body:       doc.Content,
		ApID:       doc.ID,
		CreatedAt:  publishedOrNow(doc.Published),
	}
	created, err := r.db.InsertEntry(entry)
	if err != nil {
		return nil, err
	}
	stored, err := r.db.EntryByApID(doc.ID)
	if err != nil || stored == nil {
		return nil, fmt.Errorf("entry vanished after insert: %w", err)
	}

	if created {
		if err := r.events.Dispatch(ctx, events.EntryCreated{EntryId: stored.Id, MagazineId: stored.MagazineId}); err != nil {
			return nil, err
		}
		if stored.Url != "" && r.bus != nil {
			if err := r.bus.Enqueue(ctx, queue.KindEntryEmbed, EmbedPayload{EntryId: stored.Id}); err != nil {
				r.log.Error().Err(err).Str("entry", stored.Id.String()).Msg("failed to enqueue embed work")
			}
		}
	}
	return &Ref{Kind: KindEntry, Id: stored.Id}, nil
}

func (r *Resolver) materializePost(ctx context.Context, doc *objectDoc, depth int) (*Ref, error) {
	author, err := r.resolveActor(ctx, stringOrId(doc.AttributedTo), depth+1)
	if err != nil {
		return nil, err
	}
	mag, err := r.magazineFor(ctx, doc, depth)
	if err != nil {
		return nil, err
	}

	post := &domain.Post{
		Id:         uuid.New(),
		MagazineId: mag.Id,
		UserId:     author.Id,
		Body:       doc.Content,
		ApID:       doc.ID,
		CreatedAt:  publishedOrNow(doc.Published),
	}
	created, err := r.db.InsertPost(post)
	if err != nil {
		return nil, err
	}
	stored, err := r.db.PostByApID(doc.ID)
	if err != nil || stored == nil {
		return nil, fmt.Errorf("post vanished after insert: %w", err)
	}

	if created {
		if err := r.events.Dispatch(ctx, events.PostCreated{PostId: stored.Id, MagazineId: stored.MagazineId}); err != nil {
			return nil, err
		}
	}
	return &Ref{Kind: KindPost, Id: stored.Id}, nil
}

func (r *Resolver) materializeComment(ctx context.Context, doc *objectDoc, depth int) (*Ref, error) {
	author, err := r.resolveActor(ctx, stringOrId(doc.AttributedTo), depth+1)
	if err != nil {
		return nil, err
	}

	parent, err := r.resolve(ctx, stringOrId(doc.InReplyTo), depth+1)
	if err != nil {
		return nil, err
	}

	switch parent.Kind {
	case KindEntry, KindEntryComment:
		entryId := parent.Id
		var parentId *uuid.UUID
		if parent.Kind == KindEntryComment {
			pc, err := r.db.EntryCommentById(parent.Id)
			if err != nil || pc == nil {
				return nil, fmt.Errorf("parent comment vanished: %w", err)
			}
			entryId = pc.EntryId
			parentId = &pc.Id
		}
		entry, err := r.db.EntryById(entryId)
		if err != nil || entry == nil {
			return nil, fmt.Errorf("parent entry vanished: %w", err)
		}

		comment := &domain.EntryComment{
			Id:        uuid.New(),
			EntryId:   entry.Id,
			UserId:    author.Id,
			ParentId:  parentId,
			Body:      doc.Content,
			ApID:      doc.ID,
			CreatedAt: publishedOrNow(doc.Published),
		}
		created, err := r.db.InsertEntryComment(comment)
		if err != nil {
			return nil, err
		}
		stored, err := r.db.EntryCommentByApID(doc.ID)
		if err != nil || stored == nil {
			return nil, fmt.Errorf("comment vanished after insert: %w", err)
		}
		if created {
			ev := events.EntryCommentCreated{CommentId: stored.Id, EntryId: entry.Id, MagazineId: entry.MagazineId}
			if err := r.events.Dispatch(ctx, ev); err != nil {
				return nil, err
			}
		}
		return &Ref{Kind: KindEntryComment, Id: stored.Id}, nil

	case KindPost, KindPostComment:
		postId := parent.Id
		var parentId *uuid.UUID
		if parent.Kind == KindPostComment {
			pc, err := r.db.PostCommentById(parent.Id)
			if err != nil || pc == nil {
				return nil, fmt.Errorf("parent comment vanished: %w", err)
			}
			postId = pc.PostId
			parentId = &pc.Id
		}
		post, err := r.db.PostById(postId)
		if err != nil || post == nil {
			return nil, fmt.Errorf("parent post vanished: %w", err)
		}

		comment := &domain.PostComment{
			Id:        uuid.New(),
			PostId:    post.Id,
			UserId:    author.Id,
			ParentId:  parentId,
			Body:      doc.Content,
			ApID:      doc.ID,
			CreatedAt: publishedOrNow(doc.Published),
		}
		created, err := r.db.InsertPostComment(comment)
		if err != nil {
			return nil, err
		}
		stored, err := r.db.PostCommentByApID(doc.ID)
		if err != nil || stored == nil {
			return nil, fmt.Errorf("comment vanished after insert: %w", err)
		}
		if created {
			ev := events.PostCommentCreated{CommentId: stored.Id, PostId: post.Id, MagazineId: post.MagazineId}
			if err := r.events.Dispatch(ctx, ev); err != nil {
				return nil, err
			}
		}
		return &Ref{Kind: KindPostComment, Id: stored.Id}, nil

	default:
		return nil, fmt.Errorf("%w: reply parent %s is a %s", ErrUnresolvable, stringOrId(doc.InReplyTo), parent.Kind)
	}
}

// magazineFor picks the target magazine: the pinned local magazine when the
// activity was addressed to one, otherwise the audience collection
// (resolving it if it is an unknown remote group), otherwise the configured
// default magazine.
func (r *Resolver) magazineFor(ctx context.Context, doc *objectDoc, depth int) (*domain.Magazine, error) {
	if doc.localMagazine != "" {
		mag, err := r.db.MagazineByName(doc.localMagazine)
		if err != nil {
			return nil, err
		}
		if mag == nil {
			return nil, fmt.Errorf("%w: magazine %q missing", ErrUnresolvable, doc.localMagazine)
		}
		return mag, nil
	}

	audience := stringOrId(doc.Audience)
	if audience == "" {
		mag, err := r.db.MagazineByName(r.defaultMagazine)
		if err != nil {
			return nil, err
		}
		if mag == nil {
			return nil, fmt.Errorf("%w: default magazine %q missing", ErrUnresolvable, r.defaultMagazine)
		}
		return mag, nil
	}

	mag, err := r.db.MagazineByApID(audience)
	if err != nil {
		return nil, err
	}
	if mag != nil {
		return mag, nil
	}

	ref, err := r.resolve(ctx, audience, depth+1)
	if err != nil {
		return nil, err
	}
	if ref.Kind != KindMagazine {
		return nil, fmt.Errorf("%w: audience %s is not a magazine", ErrUnresolvable, audience)
	}
	return r.db.MagazineById(ref.Id)
}

// localRef checks every IRI-bound table for an existing binding.
func (r *Resolver) localRef(iri string) (*Ref, error) {
	if u, err := r.db.UserByApID(iri); err != nil {
		return nil, err
	} else if u != nil {
		return &Ref{Kind: KindUser, Id: u.Id}, nil
	}
	if m, err := r.db.MagazineByApID(iri); err != nil {
		return nil, err
	} else if m != nil {
		return &Ref{Kind: KindMagazine, Id: m.Id}, nil
	}
	if e, err := r.db.EntryByApID(iri); err != nil {
		return nil, err
	} else if e != nil {
		return &Ref{Kind: KindEntry, Id: e.Id}, nil
	}
	if p, err := r.db.PostByApID(iri); err != nil {
		return nil, err
	} else if p != nil {
		return &Ref{Kind: KindPost, Id: p.Id}, nil
	}
	if c, err := r.db.EntryCommentByApID(iri); err != nil {
		return nil, err
	} else if c != nil {
		return &Ref{Kind: KindEntryComment, Id: c.Id}, nil
	}
	if c, err := r.db.PostCommentByApID(iri); err != nil {
		return nil, err
	} else if c != nil {
		return &Ref{Kind: KindPostComment, Id: c.Id}, nil
	}
	return nil, nil
}

// stringOrId unwraps fields that may be "iri", {"id": "iri"} or a list of
// either, returning the first usable IRI.
func stringOrId(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID   string `json:"id"`
		Href string `json:"href"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.ID, obj.Href)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if v := stringOrId(item); v != "" {
				return v
			}
		}
	}
	return ""
}

func extractHost(iri string) (string, error) {
	parsed, err := url.Parse(iri)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid iri %q", iri)
	}
	return parsed.Host, nil
}

func publishedOrNow(published string) time.Time {
	if published != "" {
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			return t
		}
	}
	return time.Now()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never splits a character.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// stripTags is a crude tag remover good enough for deriving titles from
// HTML content snippets.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
