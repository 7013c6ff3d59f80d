package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// ChatMessage is the wire form of a private message. Peers send it typed as
// ChatMessage or Note.
type ChatMessage struct {
	Context      json.RawMessage `json:"@context,omitempty"`
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AttributedTo ObjectRef       `json:"attributedTo"`
	To           IRIs            `json:"to"`
	Content      string          `json:"content"`
	MediaType    string          `json:"mediaType,omitempty"`
	Published    *time.Time      `json:"published,omitempty"`
	Updated      *time.Time      `json:"updated,omitempty"`
}

func (m *ChatMessage) validate() error {
	if m.Type != "ChatMessage" && m.Type != "Note" {
		return fmt.Errorf("%w: expected ChatMessage, got %s", ErrMalformedPayload, m.Type)
	}
	if m.ID == "" || m.AttributedTo == "" {
		return fmt.Errorf("%w: message without id or author", ErrMalformedPayload)
	}
	if len(m.To) != 1 || m.To.ContainsPublic() {
		return fmt.Errorf("%w: message %s must address exactly one person", ErrMalformedPayload, m.ID)
	}
	return nil
}

func (m *ChatMessage) toPrivateMessage(ctx context.Context, inst *Instance, budget *FetchBudget) (*domain.PrivateMessage, error) {
	creator, err := inst.readPerson(ctx, string(m.AttributedTo), budget)
	if err != nil {
		return nil, err
	}
	recipient, err := inst.readPerson(ctx, m.To[0], budget)
	if err != nil {
		return nil, err
	}

	pm := &domain.PrivateMessage{
		ObjectURI:   m.ID,
		Content:     m.Content,
		CreatorId:   creator.Id,
		RecipientId: recipient.Id,
		Local:       inst.IsLocalIRI(m.ID),
		EditedAt:    m.Updated,
	}
	if m.Published != nil {
		pm.CreatedAt = *m.Published
	}
	return inst.Store.UpsertPrivateMessage(ctx, pm)
}

func privateMessageFromApub(ctx context.Context, inst *Instance, body []byte, budget *FetchBudget) (*domain.PrivateMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	if err := verifyDomainsMatch(string(msg.AttributedTo), msg.ID); err != nil {
		return nil, err
	}
	return msg.toPrivateMessage(ctx, inst, budget)
}

// PrivateMessageToApub renders a stored private message
func (inst *Instance) PrivateMessageToApub(ctx context.Context, pm *domain.PrivateMessage) (*ChatMessage, error) {
	creator, err := inst.Store.ReadPersonById(ctx, pm.CreatorId)
	if err != nil {
		return nil, err
	}
	recipient, err := inst.Store.ReadPersonById(ctx, pm.RecipientId)
	if err != nil {
		return nil, err
	}
	published := pm.CreatedAt
	return &ChatMessage{
		Context:      defaultContext,
		ID:           pm.ObjectURI,
		Type:         "ChatMessage",
		AttributedTo: ObjectRef(creator.ActorURI),
		To:           IRIs{recipient.ActorURI},
		Content:      pm.Content,
		MediaType:    "text/html",
		Published:    &published,
		Updated:      pm.EditedAt,
	}, nil
}

// CreateOrUpdatePrivateMessage carries a new or edited private message
type CreateOrUpdatePrivateMessage struct {
	envelope
	Object ChatMessage `json:"object"`
}

func (a *CreateOrUpdatePrivateMessage) UnmarshalJSON(b []byte) error {
	type plain CreateOrUpdatePrivateMessage
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a CreateOrUpdatePrivateMessage) MarshalJSON() ([]byte, error) {
	type plain CreateOrUpdatePrivateMessage
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *CreateOrUpdatePrivateMessage) validate() error {
	if err := a.validateEnvelope("Create", "Update"); err != nil {
		return err
	}
	if len(a.To) == 0 || a.To.ContainsPublic() {
		return fmt.Errorf("%w: private message addressed publicly", ErrMalformedPayload)
	}
	return a.Object.validate()
}

func (a *CreateOrUpdatePrivateMessage) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	if err := verifyDomainsMatch(a.ActorIRI(), a.Object.ID); err != nil {
		return err
	}
	if string(a.Object.AttributedTo) != a.ActorIRI() {
		return fmt.Errorf("%w: message %s is attributed to %s", ErrNotAuthorized, a.Object.ID, a.Object.AttributedTo)
	}
	if a.Kind == "Update" {
		existing, err := inst.Store.ReadPrivateMessageByURI(ctx, a.Object.ID)
		if err == nil {
			creator, err := inst.readPerson(ctx, a.ActorIRI(), budget)
			if err != nil {
				return err
			}
			if existing.CreatorId != creator.Id {
				return fmt.Errorf("%w: %s is not the author of %s", ErrNotAuthorized, a.ActorIRI(), a.Object.ID)
			}
		}
	}
	_, err := inst.readPerson(ctx, a.Object.To[0], budget)
	return err
}

func (a *CreateOrUpdatePrivateMessage) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	pm, err := a.Object.toPrivateMessage(ctx, inst, budget)
	if err != nil {
		return err
	}
	kind := domain.EventPrivateMessageCreated
	if a.Kind == "Update" {
		kind = domain.EventPrivateMessageEdited
	}
	inst.notify(ctx, domain.Event{
		Kind:       kind,
		ObjectId:   pm.Id,
		ObjectURI:  pm.ObjectURI,
		Recipients: []uuid.UUID{pm.RecipientId},
	})
	return nil
}

// SendCreateOrUpdatePrivateMessage delivers a local private message to its recipient
func (inst *Instance) SendCreateOrUpdatePrivateMessage(ctx context.Context, pm *domain.PrivateMessage, actor *domain.Person, kind string) error {
	msg, err := inst.PrivateMessageToApub(ctx, pm)
	if err != nil {
		return err
	}
	recipient, err := inst.Store.ReadPersonById(ctx, pm.RecipientId)
	if err != nil {
		return err
	}
	msg.Context = nil
	act := &CreateOrUpdatePrivateMessage{
		envelope: newEnvelope(inst, kind, actor.ActorURI),
		Object:   *msg,
	}
	act.To = IRIs{recipient.ActorURI}
	return inst.sendActivity(ctx, act, actor, []string{recipient.SharedInboxOrInbox()}, true)
}
