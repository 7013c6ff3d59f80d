package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// Actor is a person or a community
type Actor interface {
	ActorIRI() string
	InboxIRI() string
	SharedInboxOrInbox() string
	PublicKey() string
	PrivateKey() string
	IsLocal() bool
	RefreshedAt() time.Time
}

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           json.RawMessage `json:"@context,omitempty"`
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	PreferredUsername string          `json:"preferredUsername"`
	Name              string          `json:"name,omitempty"`
	Summary           string          `json:"summary,omitempty"`
	Inbox             string          `json:"inbox"`
	Outbox            string          `json:"outbox,omitempty"`
	Followers         string          `json:"followers,omitempty"`
	Moderators        string          `json:"moderators,omitempty"`
	Endpoints         *Endpoints      `json:"endpoints,omitempty"`
	PublicKey         PublicKey       `json:"publicKey"`
	Published         *time.Time      `json:"published,omitempty"`
}

func (a *ActorResponse) sharedInbox() string {
	if a.Endpoints == nil {
		return ""
	}
	return a.Endpoints.SharedInbox
}

func parseActor(body []byte) (*ActorResponse, error) {
	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("%w: failed to parse actor JSON: %v", ErrMalformedPayload, err)
	}

	// Validate required fields
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("%w: actor missing required fields", ErrMalformedPayload)
	}
	if err := verifyDomainsMatch(actor.ID, actor.Inbox); err != nil {
		return nil, err
	}
	return &actor, nil
}

// GetOrFetchActor returns the person or community with the given IRI. Unknown
// actors and remote actors that were not refreshed within a day are fetched.
func (inst *Instance) GetOrFetchActor(ctx context.Context, iri string, budget *FetchBudget) (Actor, error) {
	if _, err := parseIRI(iri); err != nil {
		return nil, err
	}

	cached, err := inst.readLocalActor(ctx, iri)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if cached != nil && !needsRefresh(cached) {
		return cached, nil
	}
	if cached == nil && inst.IsLocalIRI(iri) {
		return nil, fmt.Errorf("%w: no local actor %s", ErrActorUnresolvable, iri)
	}

	obj, err := fetchRemote(ctx, inst, iri, kindAny, budget)
	if err != nil {
		if cached != nil {
			log.Warnf("Resolver: Refresh of actor %s failed, using cached copy: %v", iri, err)
			return cached, nil
		}
		if errors.Is(err, ErrFetchLimitExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrActorUnresolvable, iri, err)
	}

	switch a := obj.(type) {
	case *domain.Person:
		return a, nil
	case *domain.Community:
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s is not an actor", ErrActorUnresolvable, iri)
}

func (inst *Instance) readLocalActor(ctx context.Context, iri string) (Actor, error) {
	person, err := inst.Store.ReadPersonByURI(ctx, iri)
	if err == nil {
		return person, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	community, err := inst.Store.ReadCommunityByURI(ctx, iri)
	if err != nil {
		return nil, err
	}
	return community, nil
}

func personFromApub(ctx context.Context, inst *Instance, body []byte) (*domain.Person, error) {
	actor, err := parseActor(body)
	if err != nil {
		return nil, err
	}

	name := actor.PreferredUsername
	if name == "" {
		name = extractUsername(actor.ID)
	}

	p := &domain.Person{
		Name:           name,
		DisplayName:    actor.Name,
		ActorURI:       actor.ID,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.sharedInbox(),
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		LastRefreshed:  time.Now(),
	}
	if actor.Published != nil {
		p.CreatedAt = *actor.Published
	}

	stored, err := inst.Store.UpsertPerson(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote person: %w", err)
	}
	return stored, nil
}

func communityFromApub(ctx context.Context, inst *Instance, body []byte, budget *FetchBudget) (*domain.Community, error) {
	actor, err := parseActor(body)
	if err != nil {
		return nil, err
	}

	name := actor.PreferredUsername
	if name == "" {
		name = extractUsername(actor.ID)
	}

	c := &domain.Community{
		Name:           name,
		Title:          actor.Name,
		Description:    actor.Summary,
		ActorURI:       actor.ID,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.sharedInbox(),
		FollowersURI:   actor.Followers,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		LastRefreshed:  time.Now(),
	}
	if actor.Published != nil {
		c.CreatedAt = *actor.Published
	}

	stored, err := inst.Store.UpsertCommunity(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to store remote community: %w", err)
	}

	if actor.Moderators != "" {
		if err := inst.updateModerators(ctx, stored, actor.Moderators, budget); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// updateModerators fetches the moderators collection of a remote community
// and replaces the stored moderator list. Moderators that cannot be resolved
// are skipped; running out of budget fails the whole resolution.
func (inst *Instance) updateModerators(ctx context.Context, community *domain.Community, collectionIRI string, budget *FetchBudget) error {
	if err := verifyDomainsMatch(community.ActorURI, collectionIRI); err != nil {
		return err
	}
	if err := budget.Spend(); err != nil {
		return err
	}

	body, err := inst.Fetcher.Fetch(ctx, collectionIRI)
	if err != nil {
		log.Warnf("Resolver: Failed to fetch moderators of %s: %v", community.ActorURI, err)
		return nil
	}
	var collection OrderedCollection
	if err := json.Unmarshal(body, &collection); err != nil {
		log.Warnf("Resolver: Invalid moderators collection %s: %v", collectionIRI, err)
		return nil
	}

	var ids []uuid.UUID
	for _, iri := range collection.OrderedItems {
		modId, err := NewObjectId[*domain.Person](iri)
		if err != nil {
			continue
		}
		mod, err := modId.Dereference(ctx, inst, budget)
		if err != nil {
			if errors.Is(err, ErrFetchLimitExceeded) {
				return err
			}
			log.Warnf("Resolver: Skipping moderator %s of %s: %v", iri, community.ActorURI, err)
			continue
		}
		ids = append(ids, mod.Id)
	}
	return inst.Store.SetCommunityModerators(ctx, community.Id, ids)
}

// PersonToApub renders a local person as an actor document
func (inst *Instance) PersonToApub(p *domain.Person) *ActorResponse {
	return &ActorResponse{
		Context:           defaultContext,
		ID:                p.ActorURI,
		Type:              "Person",
		PreferredUsername: p.Name,
		Name:              p.DisplayName,
		Inbox:             p.InboxURI,
		Outbox:            p.ActorURI + "/outbox",
		Endpoints:         &Endpoints{SharedInbox: inst.LocalURL("/inbox")},
		PublicKey: PublicKey{
			ID:           p.ActorURI + "#main-key",
			Owner:        p.ActorURI,
			PublicKeyPem: p.PublicKeyPem,
		},
		Published: &p.CreatedAt,
	}
}

// CommunityToApub renders a local community as a Group document
func (inst *Instance) CommunityToApub(c *domain.Community) *ActorResponse {
	return &ActorResponse{
		Context:           defaultContext,
		ID:                c.ActorURI,
		Type:              "Group",
		PreferredUsername: c.Name,
		Name:              c.Title,
		Summary:           c.Description,
		Inbox:             c.InboxURI,
		Outbox:            c.ActorURI + "/outbox",
		Followers:         c.FollowersURI,
		Moderators:        c.ModeratorsURI(),
		Endpoints:         &Endpoints{SharedInbox: inst.LocalURL("/inbox")},
		PublicKey: PublicKey{
			ID:           c.ActorURI + "#main-key",
			Owner:        c.ActorURI,
			PublicKeyPem: c.PublicKeyPem,
		},
		Published: &c.CreatedAt,
	}
}

// ModeratorsToApub lists the moderators of a community
func (inst *Instance) ModeratorsToApub(ctx context.Context, c *domain.Community) (*OrderedCollection, error) {
	mods, err := inst.Store.ReadCommunityModerators(ctx, c.Id)
	if err != nil {
		return nil, err
	}
	items := make(IRIs, 0, len(mods))
	for _, m := range mods {
		items = append(items, m.ActorURI)
	}
	return &OrderedCollection{
		Context:      defaultContext,
		ID:           c.ModeratorsURI(),
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}, nil
}

// FollowersToApub reports the follower count of a community without listing members
func (inst *Instance) FollowersToApub(ctx context.Context, c *domain.Community) (*OrderedCollection, error) {
	followers, err := inst.Store.ReadCommunityFollowers(ctx, c.Id)
	if err != nil {
		return nil, err
	}
	return &OrderedCollection{
		Context:      defaultContext,
		ID:           c.FollowersURI,
		Type:         "OrderedCollection",
		TotalItems:   len(followers),
		OrderedItems: IRIs{},
	}, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/u/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(strings.TrimRight(uri, "/"), "/")
	if len(parts) > 0 {
		username := parts[len(parts)-1]
		// Remove @ prefix if present
		return strings.TrimPrefix(username, "@")
	}
	return ""
}
