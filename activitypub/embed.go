package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/h-a-s-h/kbin/queue"
)

// EmbedPayload identifies the entry whose link should be probed for embed
// metadata.
type EmbedPayload struct {
	EntryId uuid.UUID `json:"entryId"`
}

// HandleEmbed fetches the entry's link and attaches OpenGraph metadata.
// A missing entry dead-letters: the payload references something that no
// longer exists and never will again. Everything past that point is best
// effort; an unreachable or unparsable page leaves the entry exactly as it
// was and completes the work item.
func (p *Processor) HandleEmbed(ctx context.Context, payload []byte) error {
	var em EmbedPayload
	if err := json.Unmarshal(payload, &em); err != nil {
		return queue.Unrecoverable(fmt.Errorf("failed to decode embed payload: %w", err))
	}

	entry, err := p.db.EntryById(em.EntryId)
	if err != nil {
		return err
	}
	if entry == nil {
		return queue.Unrecoverable(fmt.Errorf("entry %s does not exist", em.EntryId))
	}
	if entry.Url == "" {
		return nil
	}

	page, err := p.pages.FetchPage(ctx, entry.Url)
	if err != nil {
		p.log.Debug().Err(err).Str("url", entry.Url).Msg("embed fetch failed, skipping")
		return nil
	}

	meta := parseOpenGraph(page)
	if meta.image == "" && meta.video == "" {
		return nil
	}

	embedURL := meta.video
	if embedURL == "" {
		embedURL = meta.image
	}
	return p.db.SetEntryEmbed(entry.Id, true, embedURL, meta.image)
}

type ogMeta struct {
	image string
	video string
}

// parseOpenGraph walks the document head for og:image and og:video tags.
// Malformed HTML is fine; the tokenizer recovers what it can.
func parseOpenGraph(page []byte) ogMeta {
	var meta ogMeta
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return meta
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var property, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "property", "name":
					property = attr.Val
				case "content":
					content = attr.Val
				}
			}
			if content != "" && strings.HasPrefix(content, "http") {
				switch property {
				case "og:image", "og:image:url", "twitter:image":
					if meta.image == "" {
						meta.image = content
					}
				case "og:video", "og:video:url":
					if meta.video == "" {
						meta.video = content
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta
}
