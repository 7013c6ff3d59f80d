package activitypub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	lemmyAlice = "https://lemmy.example/u/alice"
	lemmyRust  = "https://lemmy.example/c/rust"
)

func TestParseActivityVariants(t *testing.T) {
	follow := doc{
		"id":     "https://lemmy.example/activities/follow/1",
		"type":   "Follow",
		"actor":  lemmyAlice,
		"object": "https://agora.test/c/golang",
	}
	del := deleteDoc("https://lemmy.example/activities/delete/1", lemmyAlice, "https://lemmy.example/post/1", lemmyRust, nil)

	tests := []struct {
		name     string
		activity doc
		want     string
	}{
		{
			name:     "follow",
			activity: follow,
			want:     "*activitypub.FollowCommunity",
		},
		{
			name: "undo follow",
			activity: doc{
				"id": "https://lemmy.example/activities/undo/1", "type": "Undo",
				"actor": lemmyAlice, "object": follow,
			},
			want: "*activitypub.UndoFollowCommunity",
		},
		{
			name: "accept follow",
			activity: doc{
				"id": "https://lemmy.example/activities/accept/1", "type": "Accept",
				"actor": lemmyRust, "object": follow,
			},
			want: "*activitypub.AcceptFollowCommunity",
		},
		{
			name: "create page",
			activity: doc{
				"id": "https://lemmy.example/activities/create/1", "type": "Create",
				"actor": lemmyAlice, "to": []string{PublicIRI}, "cc": []string{lemmyRust},
				"object": pageDoc("https://lemmy.example/post/1", lemmyAlice, lemmyRust),
			},
			want: "*activitypub.CreateOrUpdatePost",
		},
		{
			name: "create note",
			activity: createNote("https://lemmy.example/activities/create/2", lemmyAlice,
				"https://lemmy.example/comment/1", "https://lemmy.example/post/1", "<p>hi</p>", lemmyRust),
			want: "*activitypub.CreateOrUpdateComment",
		},
		{
			name: "create private message",
			activity: doc{
				"id": "https://lemmy.example/activities/create/3", "type": "Create",
				"actor": lemmyAlice, "to": []string{"https://agora.test/u/bob"},
				"object": doc{
					"id": "https://lemmy.example/private_message/1", "type": "ChatMessage",
					"attributedTo": lemmyAlice, "to": []string{"https://agora.test/u/bob"},
					"content": "<p>psst</p>",
				},
			},
			want: "*activitypub.CreateOrUpdatePrivateMessage",
		},
		{
			name: "add moderator",
			activity: doc{
				"id": "https://lemmy.example/activities/add/1", "type": "Add",
				"actor": lemmyAlice, "to": []string{PublicIRI}, "cc": []string{lemmyRust},
				"object": "https://lemmy.example/u/bob", "target": lemmyRust + "/moderators",
			},
			want: "*activitypub.AddMod",
		},
		{
			name: "remove",
			activity: doc{
				"id": "https://lemmy.example/activities/remove/1", "type": "Remove",
				"actor": lemmyAlice, "to": []string{PublicIRI}, "cc": []string{lemmyRust},
				"object": "https://lemmy.example/post/1",
			},
			want: "*activitypub.RemoveMod",
		},
		{
			name:     "delete",
			activity: del,
			want:     "*activitypub.Delete",
		},
		{
			name: "undo delete",
			activity: doc{
				"id": "https://lemmy.example/activities/undo/2", "type": "Undo",
				"actor": lemmyAlice, "to": []string{PublicIRI}, "cc": []string{lemmyRust},
				"object": del,
			},
			want: "*activitypub.UndoDelete",
		},
		{
			name: "announce",
			activity: doc{
				"id": "https://lemmy.example/activities/announce/1", "type": "Announce",
				"actor": lemmyRust, "to": []string{PublicIRI}, "cc": []string{lemmyRust + "/followers"},
				"object": del,
			},
			want: "*activitypub.AnnounceActivity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(tt.activity)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}
			act, err := ParseActivity(body)
			if err != nil {
				t.Fatalf("ParseActivity failed: %v", err)
			}
			if got := fmt.Sprintf("%T", act); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			if act.ActivityID() != tt.activity["id"] {
				t.Errorf("Expected id %v, got %s", tt.activity["id"], act.ActivityID())
			}
		})
	}
}

func TestParseActivityAnnounceInner(t *testing.T) {
	del := deleteDoc("https://lemmy.example/activities/delete/1", lemmyAlice, "https://lemmy.example/post/1", lemmyRust, nil)
	body, _ := json.Marshal(doc{
		"id": "https://lemmy.example/activities/announce/1", "type": "Announce",
		"actor": lemmyRust, "to": PublicIRI, "object": del,
	})

	act, err := ParseActivity(body)
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	announce, ok := act.(*AnnounceActivity)
	if !ok {
		t.Fatalf("Expected announce, got %T", act)
	}
	inner, ok := announce.Inner().(*Delete)
	if !ok {
		t.Fatalf("Expected inner delete, got %T", announce.Inner())
	}
	if inner.ActorIRI() != lemmyAlice {
		t.Errorf("Expected inner actor %s, got %s", lemmyAlice, inner.ActorIRI())
	}
}

func TestParseActivityRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"id": `},
		{"unknown type", `{"id":"https://x.example/1","type":"Like","actor":"https://x.example/u/a","object":"https://x.example/p/1"}`},
		{"missing actor", `{"id":"https://x.example/1","type":"Follow","object":"https://agora.test/c/golang"}`},
		{"comment not public", `{"id":"https://x.example/1","type":"Create","actor":"https://x.example/u/a","to":["https://x.example/c/rust"],"cc":["https://x.example/c/rust"],
			"object":{"id":"https://x.example/comment/1","type":"Note","attributedTo":"https://x.example/u/a","content":"hi","inReplyTo":"https://x.example/post/1"}}`},
		{"delete without cc", `{"id":"https://x.example/1","type":"Delete","actor":"https://x.example/u/a","to":["` + PublicIRI + `"],"object":"https://x.example/post/1"}`},
		{"announce of follow", `{"id":"https://x.example/1","type":"Announce","actor":"https://x.example/c/rust","to":["` + PublicIRI + `"],
			"object":{"id":"https://x.example/2","type":"Follow","actor":"https://x.example/u/a","object":"https://x.example/c/rust"}}`},
		{"private message to two people", `{"id":"https://x.example/1","type":"Create","actor":"https://x.example/u/a","to":["https://agora.test/u/bob"],
			"object":{"id":"https://x.example/pm/1","type":"ChatMessage","attributedTo":"https://x.example/u/a","to":["https://agora.test/u/bob","https://agora.test/u/carol"],"content":"hi"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActivity([]byte(tt.body))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("Expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestUnparsedKeysRoundTrip(t *testing.T) {
	body := []byte(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://lemmy.example/activities/follow/1",
		"type": "Follow",
		"actor": "https://lemmy.example/u/alice",
		"object": "https://agora.test/c/golang",
		"signature": {"type": "RsaSignature2017"},
		"x-custom": 42
	}`)

	act, err := ParseActivity(body)
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	follow := act.(*FollowCommunity)
	if len(follow.Unparsed) != 2 {
		t.Errorf("Expected 2 unparsed keys, got %v", follow.Unparsed)
	}

	out, err := json.Marshal(follow)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var round map[string]json.RawMessage
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if string(round["x-custom"]) != "42" {
		t.Errorf("Expected x-custom to survive, got %s", round["x-custom"])
	}
	if _, ok := round["signature"]; !ok {
		t.Error("Expected signature to survive")
	}
	if _, ok := round["object"]; !ok {
		t.Error("Expected known keys to be written too")
	}
}

func TestIRIsForms(t *testing.T) {
	tests := []struct {
		name string
		json string
		want IRIs
	}{
		{"single string", `"https://a.example/u/x"`, IRIs{"https://a.example/u/x"}},
		{"array", `["https://a.example/u/x", "https://b.example/u/y"]`, IRIs{"https://a.example/u/x", "https://b.example/u/y"}},
		{"array of objects", `[{"id": "https://a.example/u/x", "type": "Person"}]`, IRIs{"https://a.example/u/x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got IRIs
			if err := json.Unmarshal([]byte(tt.json), &got); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}

	public := IRIs{"as:Public", "https://a.example/c/rust"}
	if !public.ContainsPublic() {
		t.Error("as:Public should count as public")
	}
	if rest := public.withoutPublic(); len(rest) != 1 || rest[0] != "https://a.example/c/rust" {
		t.Errorf("Expected community only, got %v", rest)
	}
}

func TestObjectRefForms(t *testing.T) {
	tests := []struct {
		name string
		json string
		want ObjectRef
	}{
		{"string", `"https://example.com/notes/123"`, "https://example.com/notes/123"},
		{"embedded object", `{"id": "https://example.com/notes/456", "type": "Note"}`, "https://example.com/notes/456"},
		{"object without id", `{"type": "Note"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ref ObjectRef
			if err := json.Unmarshal([]byte(tt.json), &ref); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			if ref != tt.want {
				t.Errorf("Expected '%s', got '%s'", tt.want, ref)
			}
		})
	}
}

func TestTagsSingleObject(t *testing.T) {
	var tags Tags
	if err := json.Unmarshal([]byte(`{"type": "Mention", "href": "https://agora.test/u/bob", "name": "@bob@agora.test"}`), &tags); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if len(tags) != 1 || tags[0].Href != "https://agora.test/u/bob" {
		t.Errorf("Expected one mention of bob, got %v", tags)
	}
}

func TestHandleInboxMissingSignature(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	HandleInbox(w, req, e.inst)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleInboxTooLarge(t *testing.T) {
	e := newTestEnv(t)
	body := bytes.Repeat([]byte("a"), maxActivitySize+10)
	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(body))
	req.Header.Set("Signature", `keyId="https://x.example/u/a#main-key"`)
	w := httptest.NewRecorder()

	HandleInbox(w, req, e.inst)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestHandleInboxStatus(t *testing.T) {
	e := newTestEnv(t)
	golang := e.localCommunity("golang")
	alice := e.addRemotePerson("lemmy.example", "alice")

	follow := mustJSON(t, doc{
		"id":     "https://lemmy.example/activities/follow/1",
		"type":   "Follow",
		"actor":  alice.iri,
		"object": golang.ActorURI,
	})

	post := func(body []byte) int {
		w := httptest.NewRecorder()
		HandleInbox(w, e.signedInboxRequest(alice.key, alice.iri+"#main-key", body), e.inst)
		return w.Code
	}

	if code := post(follow); code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}
	if code := post(follow); code != http.StatusOK {
		t.Errorf("Expected 200 for a repeated delivery, got %d", code)
	}
	if code := post([]byte(`{"type":"Like"}`)); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown activity, got %d", code)
	}
}
