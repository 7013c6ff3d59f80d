package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/agora/domain"
)

// Page is the wire form of a post
type Page struct {
	Context         json.RawMessage `json:"@context,omitempty"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	AttributedTo    ObjectRef       `json:"attributedTo"`
	To              IRIs            `json:"to,omitempty"`
	Audience        string          `json:"audience,omitempty"`
	Name            string          `json:"name"`
	Content         string          `json:"content,omitempty"`
	MediaType       string          `json:"mediaType,omitempty"`
	URL             string          `json:"url,omitempty"`
	Sensitive       bool            `json:"sensitive"`
	CommentsEnabled *bool           `json:"commentsEnabled,omitempty"`
	Published       *time.Time      `json:"published,omitempty"`
	Updated         *time.Time      `json:"updated,omitempty"`
}

// communityIRI returns the community the page was posted to
func (p *Page) communityIRI() string {
	if p.Audience != "" {
		return p.Audience
	}
	if rest := p.To.withoutPublic(); len(rest) > 0 {
		return rest[0]
	}
	return ""
}

func (p *Page) validate() error {
	if p.Type != "Page" {
		return fmt.Errorf("%w: expected Page, got %s", ErrMalformedPayload, p.Type)
	}
	if p.ID == "" || p.AttributedTo == "" || p.Name == "" {
		return fmt.Errorf("%w: page without id, author or name", ErrMalformedPayload)
	}
	if p.communityIRI() == "" {
		return fmt.Errorf("%w: page %s without community", ErrMalformedPayload, p.ID)
	}
	return nil
}

// toPost stores the page, resolving its author and community
func (p *Page) toPost(ctx context.Context, inst *Instance, budget *FetchBudget) (*domain.Post, error) {
	if err := verifyDomainsMatch(p.ID, string(p.AttributedTo)); err != nil {
		return nil, err
	}
	creator, err := inst.readPerson(ctx, string(p.AttributedTo), budget)
	if err != nil {
		return nil, err
	}
	community, err := inst.readCommunity(ctx, p.communityIRI(), budget)
	if err != nil {
		return nil, err
	}

	post := &domain.Post{
		ObjectURI:   p.ID,
		Name:        p.Name,
		Body:        p.Content,
		URL:         p.URL,
		CreatorId:   creator.Id,
		CommunityId: community.Id,
		Local:       inst.IsLocalIRI(p.ID),
		Locked:      p.CommentsEnabled != nil && !*p.CommentsEnabled,
		Sensitive:   p.Sensitive,
		EditedAt:    p.Updated,
	}
	if p.Published != nil {
		post.CreatedAt = *p.Published
	}
	return inst.Store.UpsertPost(ctx, post)
}

func postFromApub(ctx context.Context, inst *Instance, body []byte, budget *FetchBudget) (*domain.Post, error) {
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := page.validate(); err != nil {
		return nil, err
	}
	return page.toPost(ctx, inst, budget)
}

// PostToApub renders a stored post as a Page
func (inst *Instance) PostToApub(ctx context.Context, post *domain.Post) (*Page, error) {
	creator, err := inst.Store.ReadPersonById(ctx, post.CreatorId)
	if err != nil {
		return nil, err
	}
	community, err := inst.Store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return nil, err
	}
	commentsEnabled := !post.Locked
	published := post.CreatedAt
	return &Page{
		Context:         defaultContext,
		ID:              post.ObjectURI,
		Type:            "Page",
		AttributedTo:    ObjectRef(creator.ActorURI),
		To:              IRIs{community.ActorURI, PublicIRI},
		Audience:        community.ActorURI,
		Name:            post.Name,
		Content:         post.Body,
		MediaType:       "text/html",
		URL:             post.URL,
		Sensitive:       post.Sensitive,
		CommentsEnabled: &commentsEnabled,
		Published:       &published,
		Updated:         post.EditedAt,
	}, nil
}

// CreateOrUpdatePost announces a new or edited post to a community
type CreateOrUpdatePost struct {
	envelope
	Object Page `json:"object"`
}

func (a *CreateOrUpdatePost) UnmarshalJSON(b []byte) error {
	type plain CreateOrUpdatePost
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a CreateOrUpdatePost) MarshalJSON() ([]byte, error) {
	type plain CreateOrUpdatePost
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *CreateOrUpdatePost) validate() error {
	if err := a.validateEnvelope("Create", "Update"); err != nil {
		return err
	}
	if err := a.validateCommunityAudience(); err != nil {
		return err
	}
	return a.Object.validate()
}

func (a *CreateOrUpdatePost) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	community, err := inst.extractCommunity(ctx, a.Cc, budget)
	if err != nil {
		return err
	}
	if community.ActorURI != a.Object.communityIRI() {
		return fmt.Errorf("%w: page %s belongs to another community", ErrNotAuthorized, a.Object.ID)
	}
	if community.Deleted {
		return fmt.Errorf("%w: community %s is deleted", ErrNotAuthorized, community.ActorURI)
	}
	person, err := inst.verifyPersonInCommunity(ctx, a.ActorIRI(), community, budget)
	if err != nil {
		return err
	}
	if err := verifyDomainsMatch(a.ActorIRI(), a.Object.ID); err != nil {
		return err
	}
	if string(a.Object.AttributedTo) != a.ActorIRI() {
		return fmt.Errorf("%w: page %s is attributed to %s", ErrNotAuthorized, a.Object.ID, a.Object.AttributedTo)
	}
	if a.Kind == "Update" {
		if existing, err := inst.Store.ReadPostByURI(ctx, a.Object.ID); err == nil && existing.CreatorId != person.Id {
			return fmt.Errorf("%w: %s is not the author of %s", ErrNotAuthorized, a.ActorIRI(), a.Object.ID)
		}
	}
	return nil
}

func (a *CreateOrUpdatePost) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	post, err := a.Object.toPost(ctx, inst, budget)
	if err != nil {
		return err
	}

	kind := domain.EventPostCreated
	if a.Kind == "Update" {
		kind = domain.EventPostEdited
	}
	inst.notify(ctx, domain.Event{
		Kind:        kind,
		ObjectId:    post.Id,
		ObjectURI:   post.ObjectURI,
		CommunityId: post.CommunityId,
	})
	return inst.relayToFollowers(ctx, a, post.CommunityId)
}

// PostToCreate wraps a stored post in the Create activity listed by the
// outbox of its community. The id is derived from the post so that repeated
// listings stay stable.
func (inst *Instance) PostToCreate(ctx context.Context, post *domain.Post) (*CreateOrUpdatePost, error) {
	page, err := inst.PostToApub(ctx, post)
	if err != nil {
		return nil, err
	}
	act := &CreateOrUpdatePost{
		envelope: envelope{
			ID:    post.ObjectURI + "/create",
			Kind:  "Create",
			Actor: page.AttributedTo,
			To:    IRIs{PublicIRI},
			Cc:    IRIs{page.Audience},
		},
		Object: *page,
	}
	act.Object.Context = nil
	return act, nil
}

// SendCreateOrUpdatePost publishes a local post to its community. kind is
// "Create" or "Update".
func (inst *Instance) SendCreateOrUpdatePost(ctx context.Context, post *domain.Post, actor *domain.Person, kind string) error {
	page, err := inst.PostToApub(ctx, post)
	if err != nil {
		return err
	}
	community, err := inst.Store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return err
	}
	act := &CreateOrUpdatePost{
		envelope: newEnvelope(inst, kind, actor.ActorURI),
		Object:   *page,
	}
	act.Object.Context = nil
	act.To = IRIs{PublicIRI}
	act.Cc = IRIs{community.ActorURI}
	return inst.sendToCommunity(ctx, act, actor, community, nil)
}
