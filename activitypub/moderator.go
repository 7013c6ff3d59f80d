package activitypub

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// AddMod appoints a person as moderator of the community in cc
type AddMod struct {
	envelope
	Object ObjectRef `json:"object"`
	Target string    `json:"target"`
}

func (a *AddMod) UnmarshalJSON(b []byte) error {
	type plain AddMod
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a AddMod) MarshalJSON() ([]byte, error) {
	type plain AddMod
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *AddMod) validate() error {
	if err := a.validateEnvelope("Add"); err != nil {
		return err
	}
	if err := a.validateCommunityAudience(); err != nil {
		return err
	}
	if a.Object == "" || a.Target == "" {
		return fmt.Errorf("%w: Add without object or target", ErrMalformedPayload)
	}
	return nil
}

func (a *AddMod) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	community, err := inst.extractCommunity(ctx, a.Cc, budget)
	if err != nil {
		return err
	}
	if _, err := inst.verifyPersonInCommunity(ctx, a.ActorIRI(), community, budget); err != nil {
		return err
	}
	if err := inst.verifyModAction(ctx, a.ActorIRI(), community, budget); err != nil {
		return err
	}
	return verifyModeratorsTarget(a.Target, community)
}

func (a *AddMod) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	community, err := inst.extractCommunity(ctx, a.Cc, budget)
	if err != nil {
		return err
	}
	newMod, err := inst.readPerson(ctx, string(a.Object), budget)
	if err != nil {
		return err
	}
	actor, err := inst.readPerson(ctx, a.ActorIRI(), budget)
	if err != nil {
		return err
	}

	if err := inst.Store.JoinCommunityModerator(ctx, community.Id, newMod.Id); err != nil {
		return err
	}
	inst.writeModLog(ctx, &domain.ModLogEntry{
		ModeratorId: actor.Id,
		CommunityId: community.Id,
		Action:      domain.ModActionAddModerator,
		TargetURI:   newMod.ActorURI,
		Removed:     true,
	})
	inst.notify(ctx, domain.Event{
		Kind:        domain.EventModeratorAdded,
		ObjectId:    newMod.Id,
		ObjectURI:   newMod.ActorURI,
		CommunityId: community.Id,
		Recipients:  localRecipients(newMod),
	})
	return inst.relayToFollowers(ctx, a, community.Id)
}

// RemoveMod either removes a moderator, when target names the moderators
// collection, or removes a post, comment or community as a moderator action.
type RemoveMod struct {
	envelope
	Object ObjectRef `json:"object"`
	Target string    `json:"target,omitempty"`
}

func (a *RemoveMod) UnmarshalJSON(b []byte) error {
	type plain RemoveMod
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a RemoveMod) MarshalJSON() ([]byte, error) {
	type plain RemoveMod
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *RemoveMod) validate() error {
	if err := a.validateEnvelope("Remove"); err != nil {
		return err
	}
	if err := a.validateCommunityAudience(); err != nil {
		return err
	}
	if a.Object == "" {
		return fmt.Errorf("%w: Remove without object", ErrMalformedPayload)
	}
	return nil
}

func (a *RemoveMod) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	if a.Target == "" {
		return inst.verifyDeleteActivity(ctx, a, string(a.Object), a.Cc, true, budget)
	}

	community, err := inst.extractCommunity(ctx, a.Cc, budget)
	if err != nil {
		return err
	}
	if _, err := inst.verifyPersonInCommunity(ctx, a.ActorIRI(), community, budget); err != nil {
		return err
	}
	if err := inst.verifyModAction(ctx, a.ActorIRI(), community, budget); err != nil {
		return err
	}
	return verifyModeratorsTarget(a.Target, community)
}

func (a *RemoveMod) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if a.Target == "" {
		return inst.receiveDeleteAction(ctx, a, string(a.Object), true, &modAction{}, budget)
	}

	community, err := inst.extractCommunity(ctx, a.Cc, budget)
	if err != nil {
		return err
	}
	removedMod, err := inst.readPerson(ctx, string(a.Object), budget)
	if err != nil {
		return err
	}
	actor, err := inst.readPerson(ctx, a.ActorIRI(), budget)
	if err != nil {
		return err
	}

	if err := inst.Store.LeaveCommunityModerator(ctx, community.Id, removedMod.Id); err != nil {
		return err
	}
	inst.writeModLog(ctx, &domain.ModLogEntry{
		ModeratorId: actor.Id,
		CommunityId: community.Id,
		Action:      domain.ModActionRemoveModerator,
		TargetURI:   removedMod.ActorURI,
		Removed:     true,
	})
	inst.notify(ctx, domain.Event{
		Kind:        domain.EventModeratorRemoved,
		ObjectId:    removedMod.Id,
		ObjectURI:   removedMod.ActorURI,
		CommunityId: community.Id,
		Recipients:  localRecipients(removedMod),
	})
	return inst.relayToFollowers(ctx, a, community.Id)
}

// SendAddMod announces that actor appointed newMod as moderator of community
func (inst *Instance) SendAddMod(ctx context.Context, actor *domain.Person, community *domain.Community, newMod *domain.Person) error {
	act := &AddMod{
		envelope: newEnvelope(inst, "Add", actor.ActorURI),
		Object:   ObjectRef(newMod.ActorURI),
		Target:   community.ModeratorsURI(),
	}
	act.To = IRIs{PublicIRI}
	act.Cc = IRIs{community.ActorURI}
	return inst.sendToCommunity(ctx, act, actor, community, inboxOf(newMod))
}

// SendRemoveMod announces that actor removed removedMod from the moderators of community
func (inst *Instance) SendRemoveMod(ctx context.Context, actor *domain.Person, community *domain.Community, removedMod *domain.Person) error {
	act := &RemoveMod{
		envelope: newEnvelope(inst, "Remove", actor.ActorURI),
		Object:   ObjectRef(removedMod.ActorURI),
		Target:   community.ModeratorsURI(),
	}
	act.To = IRIs{PublicIRI}
	act.Cc = IRIs{community.ActorURI}
	return inst.sendToCommunity(ctx, act, actor, community, inboxOf(removedMod))
}

func (inst *Instance) writeModLog(ctx context.Context, e *domain.ModLogEntry) {
	if err := inst.Store.InsertModLog(ctx, e); err != nil {
		log.Errorf("ModLog: Failed to record %s on %s: %v", e.Action, e.TargetURI, err)
	}
}

// localRecipients returns the id of p if it is a local person
func localRecipients(p *domain.Person) []uuid.UUID {
	if p.Local {
		return []uuid.UUID{p.Id}
	}
	return nil
}

// inboxOf returns the inbox of a remote person, nothing for local ones
func inboxOf(p *domain.Person) []string {
	if p.Local {
		return nil
	}
	return []string{p.SharedInboxOrInbox()}
}
