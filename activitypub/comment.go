package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/deemkeen/agora/util"
	"github.com/google/uuid"
)

// Tags is the tag list of a note. A single tag object is accepted too.
type Tags []Mention

func (t *Tags) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var m Mention
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		*t = Tags{m}
		return nil
	}
	var list []Mention
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*t = list
	return nil
}

// Note is the wire form of a comment
type Note struct {
	Context      json.RawMessage `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo ObjectRef       `json:"attributedTo"`
	To           IRIs            `json:"to,omitempty"`
	Cc           IRIs            `json:"cc,omitempty"`
	Content      string          `json:"content"`
	MediaType    string          `json:"mediaType,omitempty"`
	InReplyTo    ObjectRef       `json:"inReplyTo"`
	Tag          Tags            `json:"tag,omitempty"`
	Published    *time.Time      `json:"published,omitempty"`
	Updated      *time.Time      `json:"updated,omitempty"`
}

func (n *Note) validate() error {
	if n.Type != "Note" {
		return fmt.Errorf("%w: expected Note, got %s", ErrMalformedPayload, n.Type)
	}
	if n.ID == "" || n.AttributedTo == "" || n.InReplyTo == "" {
		return fmt.Errorf("%w: note without id, author or parent", ErrMalformedPayload)
	}
	return nil
}

// verify checks that the note may be stored as a comment in community
func (n *Note) verify(ctx context.Context, inst *Instance, community *domain.Community, budget *FetchBudget) error {
	if err := verifyDomainsMatch(string(n.AttributedTo), n.ID); err != nil {
		return err
	}
	parent, err := inst.ResolvePostOrComment(ctx, string(n.InReplyTo), budget)
	if err != nil {
		return err
	}
	post, err := inst.postOf(ctx, parent)
	if err != nil {
		return err
	}
	if post.CommunityId != community.Id {
		return fmt.Errorf("%w: %s replies to a post of another community", ErrNotAuthorized, n.ID)
	}
	if post.Locked {
		return fmt.Errorf("%w: post %s is locked", ErrNotAuthorized, post.ObjectURI)
	}
	return nil
}

// toComment stores the note as a comment
func (n *Note) toComment(ctx context.Context, inst *Instance, budget *FetchBudget) (*domain.Comment, *domain.Post, error) {
	creator, err := inst.readPerson(ctx, string(n.AttributedTo), budget)
	if err != nil {
		return nil, nil, err
	}
	parent, err := inst.ResolvePostOrComment(ctx, string(n.InReplyTo), budget)
	if err != nil {
		return nil, nil, err
	}
	post, err := inst.postOf(ctx, parent)
	if err != nil {
		return nil, nil, err
	}

	comment := &domain.Comment{
		ObjectURI: n.ID,
		Content:   n.Content,
		CreatorId: creator.Id,
		PostId:    post.Id,
		Local:     inst.IsLocalIRI(n.ID),
		EditedAt:  n.Updated,
	}
	if parent.Comment != nil {
		comment.ParentId = &parent.Comment.Id
	}
	if n.Published != nil {
		comment.CreatedAt = *n.Published
	}
	stored, err := inst.Store.UpsertComment(ctx, comment)
	if err != nil {
		return nil, nil, err
	}
	return stored, post, nil
}

func (inst *Instance) postOf(ctx context.Context, o PostOrComment) (*domain.Post, error) {
	if o.Post != nil {
		return o.Post, nil
	}
	return inst.Store.ReadPostById(ctx, o.Comment.PostId)
}

func commentFromApub(ctx context.Context, inst *Instance, body []byte, budget *FetchBudget) (*domain.Comment, error) {
	var note Note
	if err := json.Unmarshal(body, &note); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := note.validate(); err != nil {
		return nil, err
	}
	if err := verifyDomainsMatch(string(note.AttributedTo), note.ID); err != nil {
		return nil, err
	}
	comment, _, err := note.toComment(ctx, inst, budget)
	return comment, err
}

// CommentToApub renders a stored comment as a Note
func (inst *Instance) CommentToApub(ctx context.Context, comment *domain.Comment) (*Note, error) {
	creator, err := inst.Store.ReadPersonById(ctx, comment.CreatorId)
	if err != nil {
		return nil, err
	}
	post, err := inst.Store.ReadPostById(ctx, comment.PostId)
	if err != nil {
		return nil, err
	}
	community, err := inst.Store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return nil, err
	}

	inReplyTo := post.ObjectURI
	if comment.ParentId != nil {
		parent, err := inst.Store.ReadCommentById(ctx, *comment.ParentId)
		if err != nil {
			return nil, err
		}
		inReplyTo = parent.ObjectURI
	}

	published := comment.CreatedAt
	return &Note{
		Context:      defaultContext,
		ID:           comment.ObjectURI,
		Type:         "Note",
		AttributedTo: ObjectRef(creator.ActorURI),
		To:           IRIs{PublicIRI},
		Cc:           IRIs{community.ActorURI},
		Content:      comment.Content,
		MediaType:    "text/html",
		InReplyTo:    ObjectRef(inReplyTo),
		Published:    &published,
		Updated:      comment.EditedAt,
	}, nil
}

// CreateOrUpdateComment carries a new or edited comment
type CreateOrUpdateComment struct {
	envelope
	Object Note `json:"object"`
	Tag    Tags `json:"tag,omitempty"`
}

func (a *CreateOrUpdateComment) UnmarshalJSON(b []byte) error {
	type plain CreateOrUpdateComment
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a CreateOrUpdateComment) MarshalJSON() ([]byte, error) {
	type plain CreateOrUpdateComment
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *CreateOrUpdateComment) validate() error {
	if err := a.validateEnvelope("Create", "Update"); err != nil {
		return err
	}
	if err := a.validateCommunityAudience(); err != nil {
		return err
	}
	return a.Object.validate()
}

func (a *CreateOrUpdateComment) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	community, err := inst.extractCommunity(ctx, a.Cc, budget)
	if err != nil {
		return err
	}
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	person, err := inst.verifyPersonInCommunity(ctx, a.ActorIRI(), community, budget)
	if err != nil {
		return err
	}
	if err := verifyDomainsMatch(a.ActorIRI(), a.Object.ID); err != nil {
		return err
	}
	if string(a.Object.AttributedTo) != a.ActorIRI() {
		return fmt.Errorf("%w: note %s is attributed to %s", ErrNotAuthorized, a.Object.ID, a.Object.AttributedTo)
	}
	if a.Kind == "Update" {
		if existing, err := inst.Store.ReadCommentByURI(ctx, a.Object.ID); err == nil && existing.CreatorId != person.Id {
			return fmt.Errorf("%w: %s is not the author of %s", ErrNotAuthorized, a.ActorIRI(), a.Object.ID)
		}
	}
	return a.Object.verify(ctx, inst, community, budget)
}

func (a *CreateOrUpdateComment) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	comment, post, err := a.Object.toComment(ctx, inst, budget)
	if err != nil {
		return err
	}

	kind := domain.EventCommentCreated
	if a.Kind == "Update" {
		kind = domain.EventCommentEdited
	}
	inst.notify(ctx, domain.Event{
		Kind:        kind,
		ObjectId:    comment.Id,
		ObjectURI:   comment.ObjectURI,
		CommunityId: post.CommunityId,
		Recipients:  inst.commentRecipients(ctx, comment, post, &a.Object),
	})
	return inst.relayToFollowers(ctx, a, post.CommunityId)
}

// commentRecipients returns the local persons to notify about comment: the
// author of the parent and every mentioned local person, never the author.
func (inst *Instance) commentRecipients(ctx context.Context, comment *domain.Comment, post *domain.Post, note *Note) []uuid.UUID {
	seen := map[uuid.UUID]bool{comment.CreatorId: true}
	var recipients []uuid.UUID
	add := func(p *domain.Person) {
		if p == nil || !p.Local || seen[p.Id] {
			return
		}
		seen[p.Id] = true
		recipients = append(recipients, p.Id)
	}

	parentCreator := post.CreatorId
	if comment.ParentId != nil {
		if parent, err := inst.Store.ReadCommentById(ctx, *comment.ParentId); err == nil {
			parentCreator = parent.CreatorId
		}
	}
	if p, err := inst.Store.ReadPersonById(ctx, parentCreator); err == nil {
		add(p)
	}

	for _, tag := range note.Tag {
		if tag.Type != "Mention" || !inst.IsLocalIRI(tag.Href) {
			continue
		}
		if p, err := inst.Store.ReadPersonByURI(ctx, tag.Href); err == nil {
			add(p)
		}
	}
	for _, m := range util.ExtractMentions(note.Content) {
		if m.Domain != inst.Hostname() {
			continue
		}
		if p, err := inst.Store.ReadLocalPersonByName(ctx, m.Name); err == nil {
			add(p)
		}
	}
	return recipients
}

// SendCreateOrUpdateComment publishes a local comment to its community, the
// author of the parent and every mentioned remote person. kind is "Create"
// or "Update".
func (inst *Instance) SendCreateOrUpdateComment(ctx context.Context, comment *domain.Comment, actor *domain.Person, kind string) error {
	note, err := inst.CommentToApub(ctx, comment)
	if err != nil {
		return err
	}
	post, err := inst.Store.ReadPostById(ctx, comment.PostId)
	if err != nil {
		return err
	}
	community, err := inst.Store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return err
	}

	parentCreatorId := post.CreatorId
	if comment.ParentId != nil {
		parent, err := inst.Store.ReadCommentById(ctx, *comment.ParentId)
		if err != nil {
			return err
		}
		parentCreatorId = parent.CreatorId
	}
	parentCreator, err := inst.Store.ReadPersonById(ctx, parentCreatorId)
	if err != nil {
		return err
	}

	mentions := inst.collectNonLocalMentions(ctx, comment.Content, community, parentCreator)

	note.Context = nil
	note.Cc = mentions.ccs
	note.Tag = mentions.tags
	act := &CreateOrUpdateComment{
		envelope: newEnvelope(inst, kind, actor.ActorURI),
		Object:   *note,
		Tag:      mentions.tags,
	}
	act.To = IRIs{PublicIRI}
	act.Cc = mentions.ccs

	log.Debugf("Outbox: Sending %s for comment %s to %d mentioned inboxes", kind, comment.ObjectURI, len(mentions.inboxes))
	return inst.sendToCommunity(ctx, act, actor, community, mentions.inboxes)
}
