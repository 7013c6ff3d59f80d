package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/deemkeen/agora/util"
)

// WebfingerLink is one link of a webfinger document
type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// WebfingerResponse is a JRD document as served under /.well-known/webfinger
type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

// selfLink returns the ActivityPub actor IRI of the document
func (w *WebfingerResponse) selfLink() string {
	for _, l := range w.Links {
		if l.Rel == "self" && (l.Type == ContentType || l.Type == `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`) {
			return l.Href
		}
	}
	return ""
}

// webfingerLookup resolves name@domain to an actor IRI
func (inst *Instance) webfingerLookup(ctx context.Context, m util.Mention, budget *FetchBudget) (string, error) {
	if err := budget.Spend(); err != nil {
		return "", err
	}
	resource := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", m.Domain, url.QueryEscape("acct:"+m.Name+"@"+m.Domain))
	body, err := inst.Fetcher.Fetch(ctx, resource)
	if err != nil {
		return "", err
	}
	var doc WebfingerResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: invalid webfinger response: %v", ErrMalformedPayload, err)
	}
	href := doc.selfLink()
	if href == "" {
		return "", fmt.Errorf("%w: no actor link for %s@%s", ErrNotFound, m.Name, m.Domain)
	}
	return href, nil
}

type addressedMentions struct {
	ccs     IRIs
	inboxes []string
	tags    Tags
}

// collectNonLocalMentions builds the addressing of an outgoing comment: the
// community, the author of the parent and every remote person mentioned in
// content. Mentions that cannot be resolved are left out.
func (inst *Instance) collectNonLocalMentions(ctx context.Context, content string, community *domain.Community, parentCreator *domain.Person) addressedMentions {
	out := addressedMentions{
		ccs: IRIs{community.ActorURI, parentCreator.ActorURI},
	}
	if !parentCreator.Local {
		out.inboxes = append(out.inboxes, parentCreator.SharedInboxOrInbox())
	}

	budget := inst.NewBudget()
	for _, m := range util.ExtractMentions(content) {
		if m.Domain == inst.Hostname() {
			continue
		}
		actorIRI, err := inst.webfingerLookup(ctx, m, budget)
		if err != nil {
			log.Warnf("Outbox: Failed to resolve mention @%s@%s: %v", m.Name, m.Domain, err)
			if errors.Is(err, ErrFetchLimitExceeded) {
				break
			}
			continue
		}
		person, err := inst.readPerson(ctx, actorIRI, budget)
		if err != nil {
			log.Warnf("Outbox: Failed to resolve mentioned actor %s: %v", actorIRI, err)
			continue
		}
		if !out.ccs.Contains(person.ActorURI) {
			out.ccs = append(out.ccs, person.ActorURI)
		}
		out.inboxes = append(out.inboxes, person.SharedInboxOrInbox())
		out.tags = append(out.tags, Mention{
			Type: "Mention",
			Href: person.ActorURI,
			Name: "@" + m.Name + "@" + m.Domain,
		})
	}
	return out
}
