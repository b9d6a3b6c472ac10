package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Verb is the activity type tag. The processor dispatches over this with an
// explicit lookup, one handler per verb.
type Verb string

const (
	VerbCreate   Verb = "Create"
	VerbUpdate   Verb = "Update"
	VerbDelete   Verb = "Delete"
	VerbAnnounce Verb = "Announce"
	VerbLike     Verb = "Like"
	VerbDislike  Verb = "Dislike"
	VerbFollow   Verb = "Follow"
	VerbUndo     Verb = "Undo"
	VerbAccept   Verb = "Accept"
)

// Activity is the ephemeral envelope around one inbound federation message.
// It is built per message by the dispatcher, consumed by exactly one verb
// handler, and discarded; it is never persisted as-is.
type Activity struct {
	ID        string
	Verb      Verb
	Actor     string
	ObjectURI string
	Published time.Time
	Raw       json.RawMessage
}

type rawEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object"`
	Published string          `json:"published"`
}

// ParseActivity reads the envelope fields out of a raw activity document.
// The verb-specific payload stays opaque; handlers re-parse Raw themselves.
func ParseActivity(raw []byte) (*Activity, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("activity missing type")
	}

	a := &Activity{
		ID:        env.ID,
		Verb:      Verb(env.Type),
		Actor:     env.Actor,
		ObjectURI: ObjectURI(env.Object),
		Raw:       raw,
	}
	if env.Published != "" {
		if t, err := time.Parse(time.RFC3339, env.Published); err == nil {
			a.Published = t
		}
	}
	return a, nil
}

// ObjectURI extracts the object identifier whether the object field is a
// bare IRI string or an embedded document.
func ObjectURI(object json.RawMessage) string {
	if len(object) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(object, &asString); err == nil {
		return asString
	}

	var asDoc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(object, &asDoc); err == nil {
		return asDoc.ID
	}
	return ""
}
