package activitypub

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// Delete removes a community, post or comment. A summary marks it as a
// moderator action and carries the reason.
type Delete struct {
	envelope
	Object  ObjectRef `json:"object"`
	Summary *string   `json:"summary,omitempty"`
}

func (a *Delete) UnmarshalJSON(b []byte) error {
	type plain Delete
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a Delete) MarshalJSON() ([]byte, error) {
	type plain Delete
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *Delete) validate() error {
	if err := a.validateEnvelope("Delete"); err != nil {
		return err
	}
	if err := a.validateCommunityAudience(); err != nil {
		return err
	}
	if a.Object == "" {
		return fmt.Errorf("%w: Delete without object", ErrMalformedPayload)
	}
	return nil
}

func (a *Delete) isModAction() bool { return a.Summary != nil }

func (a *Delete) modAction() *modAction {
	if !a.isModAction() {
		return nil
	}
	return &modAction{reason: *a.Summary}
}

func (a *Delete) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	return inst.verifyDeleteActivity(ctx, a, string(a.Object), a.Cc, a.isModAction(), budget)
}

func (a *Delete) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	return inst.receiveDeleteAction(ctx, a, string(a.Object), true, a.modAction(), budget)
}

// UndoDelete restores what a Delete removed
type UndoDelete struct {
	envelope
	Object Delete `json:"object"`
}

func (a *UndoDelete) UnmarshalJSON(b []byte) error {
	type plain UndoDelete
	return unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed)
}

func (a UndoDelete) MarshalJSON() ([]byte, error) {
	type plain UndoDelete
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

func (a *UndoDelete) validate() error {
	if err := a.validateEnvelope("Undo"); err != nil {
		return err
	}
	if err := a.validateCommunityAudience(); err != nil {
		return err
	}
	return a.Object.validate()
}

func (a *UndoDelete) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	if a.Object.ActorIRI() != a.ActorIRI() {
		return fmt.Errorf("%w: %s cannot undo a delete by %s", ErrNotAuthorized, a.ActorIRI(), a.Object.ActorIRI())
	}
	return a.Object.Verify(ctx, inst, budget)
}

func (a *UndoDelete) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	return inst.receiveDeleteAction(ctx, a, string(a.Object.Object), false, a.Object.modAction(), budget)
}

// modAction marks a deletion done with moderator rights
type modAction struct {
	reason string
}

// verifyDeleteActivity checks that the actor may delete or restore objectIRI.
// Communities can only be deleted by their moderators. Posts and comments
// can be deleted by their authors, or by moderators of the community in cc
// when isModAction is set.
func (inst *Instance) verifyDeleteActivity(ctx context.Context, act Activity, objectIRI string, cc IRIs, isModAction bool, budget *FetchBudget) error {
	object, err := inst.ResolveDeletable(ctx, objectIRI, budget)
	if err != nil {
		return err
	}

	switch {
	case object.Community != nil:
		community := object.Community
		if community.Local {
			if _, err := inst.verifyPersonInCommunity(ctx, act.ActorIRI(), community, budget); err != nil {
				return err
			}
		}
		return inst.verifyModAction(ctx, act.ActorIRI(), community, budget)
	case object.Post != nil:
		return inst.verifyDeletePostOrComment(ctx, act, objectIRI, object.Post.CommunityId, cc, isModAction, budget)
	default:
		post, err := inst.Store.ReadPostById(ctx, object.Comment.PostId)
		if err != nil {
			return err
		}
		return inst.verifyDeletePostOrComment(ctx, act, objectIRI, post.CommunityId, cc, isModAction, budget)
	}
}

func (inst *Instance) verifyDeletePostOrComment(ctx context.Context, act Activity, objectIRI string, objectCommunity uuid.UUID, cc IRIs, isModAction bool, budget *FetchBudget) error {
	community, err := inst.extractCommunity(ctx, cc, budget)
	if err != nil {
		return err
	}
	if _, err := inst.verifyPersonInCommunity(ctx, act.ActorIRI(), community, budget); err != nil {
		return err
	}
	if !isModAction {
		return verifyDomainsMatch(act.ActorIRI(), objectIRI)
	}
	if objectCommunity != community.Id {
		return fmt.Errorf("%w: %s does not belong to %s", ErrNotAuthorized, objectIRI, community.ActorURI)
	}
	return inst.verifyModAction(ctx, act.ActorIRI(), community, budget)
}

// receiveDeleteAction sets the deleted flag of the object. mod is non-nil
// for moderator actions, which are written to the moderation log.
func (inst *Instance) receiveDeleteAction(ctx context.Context, act Activity, objectIRI string, deleted bool, mod *modAction, budget *FetchBudget) error {
	object, err := inst.ResolveDeletable(ctx, objectIRI, budget)
	if err != nil {
		return err
	}
	actor, err := inst.readPerson(ctx, act.ActorIRI(), budget)
	if err != nil {
		return err
	}

	switch {
	case object.Community != nil:
		community := object.Community
		// A local community tells its followers first, while it still has them.
		if community.Local {
			if err := inst.sendAnnounce(ctx, act, community, nil); err != nil {
				log.Errorf("Deletion: Failed to announce %s of %s: %v", act.Type(), community.ActorURI, err)
			}
		}
		updated, err := inst.Store.UpdateCommunityDeleted(ctx, community.Id, deleted)
		if err != nil {
			return err
		}
		reason := ""
		if mod != nil {
			reason = mod.reason
		}
		inst.writeModLog(ctx, &domain.ModLogEntry{
			ModeratorId: actor.Id,
			CommunityId: updated.Id,
			Action:      domain.ModActionRemoveCommunity,
			TargetURI:   updated.ActorURI,
			Reason:      reason,
			Removed:     deleted,
		})
		inst.notify(ctx, domain.Event{
			Kind:        pick(deleted, domain.EventCommunityDeleted, domain.EventCommunityRestored),
			ObjectId:    updated.Id,
			ObjectURI:   updated.ActorURI,
			CommunityId: updated.Id,
		})
		return nil

	case object.Post != nil:
		updated, err := inst.Store.UpdatePostDeleted(ctx, object.Post.Id, deleted)
		if err != nil {
			return err
		}
		if mod != nil {
			inst.writeModLog(ctx, &domain.ModLogEntry{
				ModeratorId: actor.Id,
				CommunityId: updated.CommunityId,
				Action:      domain.ModActionRemovePost,
				TargetURI:   updated.ObjectURI,
				Reason:      mod.reason,
				Removed:     deleted,
			})
		}
		inst.notify(ctx, domain.Event{
			Kind:        pick(deleted, domain.EventPostDeleted, domain.EventPostRestored),
			ObjectId:    updated.Id,
			ObjectURI:   updated.ObjectURI,
			CommunityId: updated.CommunityId,
		})
		return inst.relayToFollowers(ctx, act, updated.CommunityId)

	default:
		updated, err := inst.Store.UpdateCommentDeleted(ctx, object.Comment.Id, deleted)
		if err != nil {
			return err
		}
		post, err := inst.Store.ReadPostById(ctx, updated.PostId)
		if err != nil {
			return err
		}
		if mod != nil {
			inst.writeModLog(ctx, &domain.ModLogEntry{
				ModeratorId: actor.Id,
				CommunityId: post.CommunityId,
				Action:      domain.ModActionRemoveComment,
				TargetURI:   updated.ObjectURI,
				Reason:      mod.reason,
				Removed:     deleted,
			})
		}
		inst.notify(ctx, domain.Event{
			Kind:        pick(deleted, domain.EventCommentDeleted, domain.EventCommentRestored),
			ObjectId:    updated.Id,
			ObjectURI:   updated.ObjectURI,
			CommunityId: post.CommunityId,
		})
		return inst.relayToFollowers(ctx, act, post.CommunityId)
	}
}

func pick(cond bool, yes, no domain.EventKind) domain.EventKind {
	if cond {
		return yes
	}
	return no
}

// SendApubDelete publishes that actor deleted or restored the object at
// objectIRI, which lives in community.
func (inst *Instance) SendApubDelete(ctx context.Context, actor *domain.Person, community *domain.Community, objectIRI string, deleted bool) error {
	return inst.sendDeletion(ctx, actor, community, objectIRI, deleted, nil)
}

// SendApubRemove is SendApubDelete for moderator actions
func (inst *Instance) SendApubRemove(ctx context.Context, actor *domain.Person, community *domain.Community, objectIRI, reason string, removed bool) error {
	return inst.sendDeletion(ctx, actor, community, objectIRI, removed, &reason)
}

func (inst *Instance) sendDeletion(ctx context.Context, actor *domain.Person, community *domain.Community, objectIRI string, deleted bool, summary *string) error {
	del := &Delete{
		envelope: newEnvelope(inst, "Delete", actor.ActorURI),
		Object:   ObjectRef(objectIRI),
		Summary:  summary,
	}
	del.To = IRIs{PublicIRI}
	del.Cc = IRIs{community.ActorURI}
	if deleted {
		return inst.sendToCommunity(ctx, del, actor, community, nil)
	}

	del.Context = nil
	undo := &UndoDelete{
		envelope: newEnvelope(inst, "Undo", actor.ActorURI),
		Object:   *del,
	}
	undo.To = IRIs{PublicIRI}
	undo.Cc = IRIs{community.ActorURI}
	return inst.sendToCommunity(ctx, undo, actor, community, nil)
}
