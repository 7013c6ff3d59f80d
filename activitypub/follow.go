package activitypub

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
)

// FollowCommunity subscribes a person to a local community
type FollowCommunity struct {
	envelope
	Object ObjectRef `json:"object"`
}

func (a *FollowCommunity) UnmarshalJSON(b []byte) error {
	type plain FollowCommunity
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a FollowCommunity) MarshalJSON() ([]byte, error) {
	type plain FollowCommunity
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *FollowCommunity) validate() error {
	if err := a.validateEnvelope("Follow"); err != nil {
		return err
	}
	if a.Object == "" {
		return fmt.Errorf("%w: Follow without object", ErrMalformedPayload)
	}
	return nil
}

func (a *FollowCommunity) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	community, err := inst.readCommunity(ctx, string(a.Object), budget)
	if err != nil {
		return err
	}
	if !community.Local {
		return fmt.Errorf("%w: %s is not a community of this instance", ErrNotAuthorized, community.ActorURI)
	}
	_, err = inst.verifyPersonInCommunity(ctx, a.ActorIRI(), community, budget)
	return err
}

func (a *FollowCommunity) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	community, err := inst.readCommunity(ctx, string(a.Object), budget)
	if err != nil {
		return err
	}
	person, err := inst.readPerson(ctx, a.ActorIRI(), budget)
	if err != nil {
		return err
	}
	if err := inst.Store.FollowCommunity(ctx, community.Id, person.Id, false); err != nil {
		return err
	}
	log.Infof("Follow: %s now follows %s", person.ActorURI, community.ActorURI)
	return inst.sendAcceptFollow(ctx, community, a, person)
}

// UndoFollowCommunity ends a subscription
type UndoFollowCommunity struct {
	envelope
	Object FollowCommunity `json:"object"`
}

func (a *UndoFollowCommunity) UnmarshalJSON(b []byte) error {
	type plain UndoFollowCommunity
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a UndoFollowCommunity) MarshalJSON() ([]byte, error) {
	type plain UndoFollowCommunity
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *UndoFollowCommunity) validate() error {
	if err := a.validateEnvelope("Undo"); err != nil {
		return err
	}
	return a.Object.validate()
}

func (a *UndoFollowCommunity) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	if a.Object.ActorIRI() != a.ActorIRI() {
		return fmt.Errorf("%w: %s cannot undo a follow by %s", ErrNotAuthorized, a.ActorIRI(), a.Object.ActorIRI())
	}
	return a.Object.Verify(ctx, inst, budget)
}

func (a *UndoFollowCommunity) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	community, err := inst.readCommunity(ctx, string(a.Object.Object), budget)
	if err != nil {
		return err
	}
	person, err := inst.readPerson(ctx, a.ActorIRI(), budget)
	if err != nil {
		return err
	}
	log.Infof("Follow: %s unfollowed %s", person.ActorURI, community.ActorURI)
	return inst.Store.UnfollowCommunity(ctx, community.Id, person.Id)
}

// AcceptFollowCommunity confirms a follow one of our persons sent to a remote community
type AcceptFollowCommunity struct {
	envelope
	Object FollowCommunity `json:"object"`
}

func (a *AcceptFollowCommunity) UnmarshalJSON(b []byte) error {
	type plain AcceptFollowCommunity
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a AcceptFollowCommunity) MarshalJSON() ([]byte, error) {
	type plain AcceptFollowCommunity
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *AcceptFollowCommunity) validate() error {
	if err := a.validateEnvelope("Accept"); err != nil {
		return err
	}
	return a.Object.validate()
}

func (a *AcceptFollowCommunity) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	if string(a.Object.Object) != a.ActorIRI() {
		return fmt.Errorf("%w: %s cannot accept a follow of %s", ErrNotAuthorized, a.ActorIRI(), a.Object.Object)
	}
	if !inst.IsLocalIRI(a.Object.ActorIRI()) {
		return fmt.Errorf("%w: accepted follow was not sent by this instance", ErrNotAuthorized)
	}
	_, err := inst.readCommunity(ctx, a.ActorIRI(), budget)
	return err
}

func (a *AcceptFollowCommunity) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	community, err := inst.readCommunity(ctx, a.ActorIRI(), budget)
	if err != nil {
		return err
	}
	person, err := inst.Store.ReadPersonByURI(ctx, a.Object.ActorIRI())
	if err != nil {
		return err
	}
	log.Infof("Follow: %s accepted follow by %s", community.ActorURI, person.ActorURI)
	return inst.Store.AcceptCommunityFollow(ctx, community.Id, person.Id)
}

// SendFollowCommunity subscribes a local person to a community. Following
// a local community takes effect immediately; a remote one stays pending
// until it accepts.
func (inst *Instance) SendFollowCommunity(ctx context.Context, person *domain.Person, community *domain.Community) error {
	if community.Local {
		return inst.Store.FollowCommunity(ctx, community.Id, person.Id, false)
	}
	if err := inst.Store.FollowCommunity(ctx, community.Id, person.Id, true); err != nil {
		return err
	}
	follow := inst.newFollow(person, community)
	return inst.sendActivity(ctx, follow, person, []string{community.InboxURI}, false)
}

// SendUndoFollowCommunity ends the subscription of a local person
func (inst *Instance) SendUndoFollowCommunity(ctx context.Context, person *domain.Person, community *domain.Community) error {
	if err := inst.Store.UnfollowCommunity(ctx, community.Id, person.Id); err != nil {
		return err
	}
	if community.Local {
		return nil
	}
	follow := inst.newFollow(person, community)
	follow.Context = nil
	undo := &UndoFollowCommunity{
		envelope: newEnvelope(inst, "Undo", person.ActorURI),
		Object:   *follow,
	}
	undo.To = IRIs{community.ActorURI}
	return inst.sendActivity(ctx, undo, person, []string{community.InboxURI}, false)
}

func (inst *Instance) newFollow(person *domain.Person, community *domain.Community) *FollowCommunity {
	follow := &FollowCommunity{
		envelope: newEnvelope(inst, "Follow", person.ActorURI),
		Object:   ObjectRef(community.ActorURI),
	}
	follow.To = IRIs{community.ActorURI}
	return follow
}

func (inst *Instance) sendAcceptFollow(ctx context.Context, community *domain.Community, follow *FollowCommunity, person *domain.Person) error {
	inner := *follow
	inner.Context = nil
	accept := &AcceptFollowCommunity{
		envelope: newEnvelope(inst, "Accept", community.ActorURI),
		Object:   inner,
	}
	accept.To = IRIs{person.ActorURI}
	return inst.sendActivity(ctx, accept, community, []string{person.InboxURI}, false)
}
