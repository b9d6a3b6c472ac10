package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/h-a-s-h/kbin/queue"
)

// Signer kinds for outbound delivery. The signing key is re-read from the
// store at execution time, never carried in the payload.
const (
	SignerUser     = "user"
	SignerMagazine = "magazine"
)

// DeliverPayload is one signed delivery to one remote inbox.
type DeliverPayload struct {
	InboxURI   string          `json:"inboxUri"`
	Activity   json.RawMessage `json:"activity"`
	SignerKind string          `json:"signerKind"`
	SignerId   uuid.UUID       `json:"signerId"`
}

// HandleDeliver posts a queued activity. A vanished or keyless signer makes
// the delivery permanently impossible; a remote failure is left to the
// queue's retry backoff.
func (p *Processor) HandleDeliver(ctx context.Context, payload []byte) error {
	var d DeliverPayload
	if err := json.Unmarshal(payload, &d); err != nil {
		return queue.Unrecoverable(fmt.Errorf("failed to decode delivery payload: %w", err))
	}

	keyPem, keyId, err := p.signerKey(d.SignerKind, d.SignerId)
	if err != nil {
		return err
	}

	key, err := ParsePrivateKey(keyPem)
	if err != nil {
		return queue.Unrecoverable(fmt.Errorf("signer %s key unusable: %w", d.SignerId, err))
	}

	if err := p.post.Post(ctx, d.InboxURI, d.Activity, key, keyId); err != nil {
		return fmt.Errorf("delivery to %s failed: %w", d.InboxURI, err)
	}

	p.log.Debug().Str("inbox", d.InboxURI).Msg("activity delivered")
	return nil
}

func (p *Processor) signerKey(kind string, id uuid.UUID) (pem, keyId string, err error) {
	switch kind {
	case SignerUser:
		user, err := p.db.UserById(id)
		if err != nil {
			return "", "", err
		}
		if user == nil || user.PrivateKeyPem == "" {
			return "", "", queue.Unrecoverable(fmt.Errorf("signing user %s is gone", id))
		}
		keyId := fmt.Sprintf("%s/u/%s#main-key", p.conf.BaseURL(), user.Username)
		return user.PrivateKeyPem, keyId, nil

	case SignerMagazine:
		mag, err := p.db.MagazineById(id)
		if err != nil {
			return "", "", err
		}
		if mag == nil || mag.PrivateKeyPem == "" {
			return "", "", queue.Unrecoverable(fmt.Errorf("signing magazine %s is gone", id))
		}
		keyId := fmt.Sprintf("%s/m/%s#main-key", p.conf.BaseURL(), mag.Name)
		return mag.PrivateKeyPem, keyId, nil

	default:
		return "", "", queue.Unrecoverable(fmt.Errorf("unknown signer kind %q", kind))
	}
}
