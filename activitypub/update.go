package activitypub

import (
	"context"

	"github.com/h-a-s-h/kbin/domain"
)

// handleUpdate applies an edit to a locally known copy of the object. An
// Update for something this server never saw is a no-op: there is nothing
// to bring up to date, and fetching it would turn every stray Update into
// a Create.
func (p *Processor) handleUpdate(ctx context.Context, act *domain.Activity, magazine string) error {
	doc, err := p.embeddedObject(ctx, act)
	if err != nil {
		return err
	}

	switch doc.Type {
	case "Person", "Service", "Application":
		// Refresh the cached actor; unknown actors fall through silently.
		return p.db.RefreshUser(doc.ID, doc.Inbox, doc.PublicKey.PublicKeyPem)

	case "Page", "Article", "Link":
		entry, err := p.db.EntryByApID(doc.ID)
		if err != nil {
			return err
		}
		if entry == nil {
			p.log.Debug().Str("object", doc.ID).Msg("update for unknown entry ignored")
			return nil
		}
		title := firstNonEmpty(doc.Name, entry.Title)
		url := firstNonEmpty(stringOrId(doc.URL), entry.Url)
		return p.db.UpdateEntryContent(entry.Id, title, url, doc.Content)

	case "Note", "Question":
		if comment, err := p.db.EntryCommentByApID(doc.ID); err != nil {
			return err
		} else if comment != nil {
			return p.db.UpdateEntryCommentBody(comment.Id, doc.Content)
		}
		if comment, err := p.db.PostCommentByApID(doc.ID); err != nil {
			return err
		} else if comment != nil {
			return p.db.UpdatePostCommentBody(comment.Id, doc.Content)
		}
		if post, err := p.db.PostByApID(doc.ID); err != nil {
			return err
		} else if post != nil {
			return p.db.UpdatePostContent(post.Id, doc.Content)
		}
		p.log.Debug().Str("object", doc.ID).Msg("update for unknown object ignored")
		return nil

	default:
		p.log.Debug().Str("type", doc.Type).Msg("update for unsupported type ignored")
		return nil
	}
}
