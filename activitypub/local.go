package activitypub

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/deemkeen/agora/util"
	"github.com/google/uuid"
)

var localNameRegex = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// CreateLocalPerson registers a person of this instance with a fresh key pair
func (inst *Instance) CreateLocalPerson(ctx context.Context, name string, admin bool) (*domain.Person, error) {
	if !localNameRegex.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrMalformedPayload, name)
	}
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, err
	}
	iri := inst.LocalURL("/u/%s", name)
	return inst.Store.UpsertPerson(ctx, &domain.Person{
		Name:          name,
		ActorURI:      iri,
		InboxURI:      iri + "/inbox",
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		Local:         true,
		Admin:         admin,
	})
}

// CreateLocalCommunity registers a community of this instance. The creator
// becomes its first moderator.
func (inst *Instance) CreateLocalCommunity(ctx context.Context, name, title string, creator *domain.Person) (*domain.Community, error) {
	if !localNameRegex.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrMalformedPayload, name)
	}
	if !creator.Local {
		return nil, fmt.Errorf("%w: %s is not a local person", ErrNotAuthorized, creator.ActorURI)
	}
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return nil, err
	}
	iri := inst.LocalURL("/c/%s", name)
	if title == "" {
		title = name
	}
	community, err := inst.Store.UpsertCommunity(ctx, &domain.Community{
		Name:          name,
		Title:         title,
		ActorURI:      iri,
		InboxURI:      iri + "/inbox",
		FollowersURI:  iri + "/followers",
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		Local:         true,
	})
	if err != nil {
		return nil, err
	}
	if err := inst.Store.JoinCommunityModerator(ctx, community.Id, creator.Id); err != nil {
		return nil, err
	}
	log.Infof("Local: %s created community %s", creator.Name, community.ActorURI)
	return community, nil
}

// CreateLocalPost stores a new post by author and federates it
func (inst *Instance) CreateLocalPost(ctx context.Context, author *domain.Person, community *domain.Community, name, body string) (*domain.Post, error) {
	if err := inst.checkCanContribute(ctx, author, community); err != nil {
		return nil, err
	}
	id := uuid.New()
	post, err := inst.Store.UpsertPost(ctx, &domain.Post{
		Id:          id,
		ObjectURI:   inst.LocalURL("/post/%s", id),
		Name:        util.NormalizeInput(name),
		Body:        util.RenderContent(body),
		CreatorId:   author.Id,
		CommunityId: community.Id,
		Local:       true,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := inst.SendCreateOrUpdatePost(ctx, post, author, "Create"); err != nil {
		return post, fmt.Errorf("post stored but not federated: %w", err)
	}
	return post, nil
}

// CreateLocalComment stores a reply by author to a post or comment and
// federates it. The parent may be remote, it is resolved within one budget.
func (inst *Instance) CreateLocalComment(ctx context.Context, author *domain.Person, parentIRI, content string) (*domain.Comment, error) {
	parent, err := inst.ResolvePostOrComment(ctx, parentIRI, inst.NewBudget())
	if err != nil {
		return nil, err
	}
	post, err := inst.postOf(ctx, parent)
	if err != nil {
		return nil, err
	}
	if post.Locked {
		return nil, fmt.Errorf("%w: post %s is locked", ErrNotAuthorized, post.ObjectURI)
	}
	community, err := inst.Store.ReadCommunityById(ctx, post.CommunityId)
	if err != nil {
		return nil, err
	}
	if err := inst.checkCanContribute(ctx, author, community); err != nil {
		return nil, err
	}

	id := uuid.New()
	comment := &domain.Comment{
		Id:        id,
		ObjectURI: inst.LocalURL("/comment/%s", id),
		Content:   util.RenderContent(content),
		CreatorId: author.Id,
		PostId:    post.Id,
		Local:     true,
		CreatedAt: time.Now(),
	}
	if parent.Comment != nil {
		comment.ParentId = &parent.Comment.Id
	}
	comment, err = inst.Store.UpsertComment(ctx, comment)
	if err != nil {
		return nil, err
	}
	if err := inst.SendCreateOrUpdateComment(ctx, comment, author, "Create"); err != nil {
		return comment, fmt.Errorf("comment stored but not federated: %w", err)
	}
	return comment, nil
}

// CreateLocalPrivateMessage stores a direct message from author to
// recipient. Messages to remote persons are federated, local recipients are
// notified directly.
func (inst *Instance) CreateLocalPrivateMessage(ctx context.Context, author, recipient *domain.Person, content string) (*domain.PrivateMessage, error) {
	if !author.Local {
		return nil, fmt.Errorf("%w: %s is not a local person", ErrNotAuthorized, author.ActorURI)
	}
	if author.Id == recipient.Id {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrMalformedPayload)
	}

	id := uuid.New()
	pm, err := inst.Store.UpsertPrivateMessage(ctx, &domain.PrivateMessage{
		Id:          id,
		ObjectURI:   inst.LocalURL("/private_message/%s", id),
		Content:     util.RenderContent(content),
		CreatorId:   author.Id,
		RecipientId: recipient.Id,
		Local:       true,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return nil, err
	}

	if recipient.Local {
		inst.notify(ctx, domain.Event{
			Kind:       domain.EventPrivateMessageCreated,
			ObjectId:   pm.Id,
			ObjectURI:  pm.ObjectURI,
			Recipients: []uuid.UUID{recipient.Id},
		})
		return pm, nil
	}
	if err := inst.SendCreateOrUpdatePrivateMessage(ctx, pm, author, "Create"); err != nil {
		return pm, fmt.Errorf("message stored but not federated: %w", err)
	}
	return pm, nil
}

func (inst *Instance) checkCanContribute(ctx context.Context, author *domain.Person, community *domain.Community) error {
	if !author.Local {
		return fmt.Errorf("%w: %s is not a local person", ErrNotAuthorized, author.ActorURI)
	}
	if community.Deleted {
		return fmt.Errorf("%w: community %s is deleted", ErrNotAuthorized, community.ActorURI)
	}
	banned, err := inst.Store.IsBannedFromCommunity(ctx, community.Id, author.Id)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("%w: %s is banned from %s", ErrNotAuthorized, author.ActorURI, community.ActorURI)
	}
	return nil
}

// SetModerator appoints target as moderator of community, or removes them
// when add is false. actor must moderate the community or be an admin.
func (inst *Instance) SetModerator(ctx context.Context, actor *domain.Person, community *domain.Community, target *domain.Person, add bool) error {
	if err := inst.checkLocalModerator(ctx, actor, community); err != nil {
		return err
	}

	action := domain.ModActionAddModerator
	if add {
		if err := inst.Store.JoinCommunityModerator(ctx, community.Id, target.Id); err != nil {
			return err
		}
	} else {
		action = domain.ModActionRemoveModerator
		if err := inst.Store.LeaveCommunityModerator(ctx, community.Id, target.Id); err != nil {
			return err
		}
	}
	inst.writeModLog(ctx, &domain.ModLogEntry{
		ModeratorId: actor.Id,
		CommunityId: community.Id,
		Action:      action,
		TargetURI:   target.ActorURI,
		Removed:     true,
	})

	if add {
		return inst.SendAddMod(ctx, actor, community, target)
	}
	return inst.SendRemoveMod(ctx, actor, community, target)
}

// DeleteObject deletes or restores the community, post or comment at iri.
// An empty reason is a deletion by the author; otherwise it is a moderator
// removal and ends up in the moderation log.
func (inst *Instance) DeleteObject(ctx context.Context, actor *domain.Person, iri, reason string, deleted bool) error {
	if !actor.Local {
		return fmt.Errorf("%w: %s is not a local person", ErrNotAuthorized, actor.ActorURI)
	}
	object, err := inst.ResolveDeletable(ctx, iri, inst.NewBudget())
	if err != nil {
		return err
	}

	var (
		community *domain.Community
		creatorId uuid.UUID
		action    domain.ModAction
	)
	switch {
	case object.Community != nil:
		community = object.Community
		action = domain.ModActionRemoveCommunity
	case object.Post != nil:
		creatorId = object.Post.CreatorId
		action = domain.ModActionRemovePost
		if community, err = inst.Store.ReadCommunityById(ctx, object.Post.CommunityId); err != nil {
			return err
		}
	default:
		creatorId = object.Comment.CreatorId
		action = domain.ModActionRemoveComment
		post, err := inst.Store.ReadPostById(ctx, object.Comment.PostId)
		if err != nil {
			return err
		}
		if community, err = inst.Store.ReadCommunityById(ctx, post.CommunityId); err != nil {
			return err
		}
	}

	// communities have no author, deleting one always takes a moderator
	isModAction := reason != "" || object.Community != nil
	if isModAction {
		if err := inst.checkLocalModerator(ctx, actor, community); err != nil {
			return err
		}
	} else if creatorId != actor.Id {
		return fmt.Errorf("%w: %s did not create %s", ErrNotAuthorized, actor.ActorURI, iri)
	}

	switch {
	case object.Community != nil:
		_, err = inst.Store.UpdateCommunityDeleted(ctx, community.Id, deleted)
	case object.Post != nil:
		_, err = inst.Store.UpdatePostDeleted(ctx, object.Post.Id, deleted)
	default:
		_, err = inst.Store.UpdateCommentDeleted(ctx, object.Comment.Id, deleted)
	}
	if err != nil {
		return err
	}
	if isModAction {
		inst.writeModLog(ctx, &domain.ModLogEntry{
			ModeratorId: actor.Id,
			CommunityId: community.Id,
			Action:      action,
			TargetURI:   object.ApId(),
			Reason:      reason,
			Removed:     deleted,
		})
		return inst.SendApubRemove(ctx, actor, community, object.ApId(), reason, deleted)
	}
	return inst.SendApubDelete(ctx, actor, community, object.ApId(), deleted)
}

// BanPerson bans target from community. Bans are not federated.
func (inst *Instance) BanPerson(ctx context.Context, actor *domain.Person, community *domain.Community, target *domain.Person) error {
	if err := inst.checkLocalModerator(ctx, actor, community); err != nil {
		return err
	}
	if err := inst.Store.BanFromCommunity(ctx, community.Id, target.Id); err != nil {
		return err
	}
	log.Infof("Local: %s banned %s from %s", actor.Name, target.ActorURI, community.ActorURI)
	return nil
}

func (inst *Instance) checkLocalModerator(ctx context.Context, actor *domain.Person, community *domain.Community) error {
	if !actor.Local {
		return fmt.Errorf("%w: %s is not a local person", ErrNotAuthorized, actor.ActorURI)
	}
	return inst.verifyModAction(ctx, actor.ActorURI, community, inst.NewBudget())
}
