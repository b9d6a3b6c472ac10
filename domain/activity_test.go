package domain

import (
	"encoding/json"
	"testing"
)

func TestParseActivityEnvelope(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.example/a/1",
		"type": "Create",
		"actor": "https://remote.example/u/alice",
		"object": {"id": "https://remote.example/n/1", "type": "Note"},
		"published": "2024-03-01T10:00:00Z"
	}`)

	act, err := ParseActivity(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if act.Verb != VerbCreate {
		t.Errorf("expected Create, got %s", act.Verb)
	}
	if act.ObjectURI != "https://remote.example/n/1" {
		t.Errorf("unexpected object uri %q", act.ObjectURI)
	}
	if act.Published.IsZero() {
		t.Error("published not parsed")
	}
}

func TestParseActivityRequiresType(t *testing.T) {
	if _, err := ParseActivity([]byte(`{"id": "x", "actor": "y"}`)); err == nil {
		t.Error("expected an error for missing type")
	}
}

func TestObjectURIHandlesStringAndDocument(t *testing.T) {
	cases := []struct {
		name   string
		object string
		want   string
	}{
		{"bare iri", `"https://remote.example/n/1"`, "https://remote.example/n/1"},
		{"embedded document", `{"id": "https://remote.example/n/2", "type": "Note"}`, "https://remote.example/n/2"},
		{"document without id", `{"type": "Note"}`, ""},
		{"empty", ``, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ObjectURI(json.RawMessage(tc.object)); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
