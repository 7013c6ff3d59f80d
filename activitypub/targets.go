package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// DeletableObject is exactly one of a community, a post or a comment
type DeletableObject struct {
	Community *domain.Community
	Post      *domain.Post
	Comment   *domain.Comment
}

// ApId returns the IRI of the wrapped object
func (o DeletableObject) ApId() string {
	switch {
	case o.Community != nil:
		return o.Community.ActorURI
	case o.Post != nil:
		return o.Post.ObjectURI
	case o.Comment != nil:
		return o.Comment.ObjectURI
	}
	return ""
}

// PostOrComment is exactly one of a post or a comment
type PostOrComment struct {
	Post    *domain.Post
	Comment *domain.Comment
}

func (o PostOrComment) ApId() string {
	if o.Post != nil {
		return o.Post.ObjectURI
	}
	if o.Comment != nil {
		return o.Comment.ObjectURI
	}
	return ""
}

// PostId is the id of the post, or of the post the comment belongs to
func (o PostOrComment) PostId() uuid.UUID {
	if o.Post != nil {
		return o.Post.Id
	}
	return o.Comment.PostId
}

// ResolveDeletable finds the community, post or comment with the given IRI.
// Local storage is probed first in that order. Only when nothing matches is
// the IRI fetched, once, and the fetched document type picks the kind.
func (inst *Instance) ResolveDeletable(ctx context.Context, iri string, budget *FetchBudget) (DeletableObject, error) {
	if _, err := parseIRI(iri); err != nil {
		return DeletableObject{}, err
	}

	community, err := inst.Store.ReadCommunityByURI(ctx, iri)
	if err == nil {
		return DeletableObject{Community: community}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return DeletableObject{}, err
	}

	local, err := inst.readLocalPostOrComment(ctx, iri)
	if err == nil {
		return DeletableObject{Post: local.Post, Comment: local.Comment}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return DeletableObject{}, err
	}

	obj, err := inst.fetchTarget(ctx, iri, budget)
	if err != nil {
		return DeletableObject{}, err
	}
	switch o := obj.(type) {
	case *domain.Community:
		return DeletableObject{Community: o}, nil
	case *domain.Post:
		return DeletableObject{Post: o}, nil
	case *domain.Comment:
		return DeletableObject{Comment: o}, nil
	}
	return DeletableObject{}, fmt.Errorf("%w: %s is not deletable", ErrNotFound, iri)
}

// ResolvePostOrComment finds the post or comment with the given IRI, posts first
func (inst *Instance) ResolvePostOrComment(ctx context.Context, iri string, budget *FetchBudget) (PostOrComment, error) {
	if _, err := parseIRI(iri); err != nil {
		return PostOrComment{}, err
	}

	local, err := inst.readLocalPostOrComment(ctx, iri)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return PostOrComment{}, err
	}

	obj, err := inst.fetchTarget(ctx, iri, budget)
	if err != nil {
		return PostOrComment{}, err
	}
	switch o := obj.(type) {
	case *domain.Post:
		return PostOrComment{Post: o}, nil
	case *domain.Comment:
		return PostOrComment{Comment: o}, nil
	}
	return PostOrComment{}, fmt.Errorf("%w: %s is neither a post nor a comment", ErrNotFound, iri)
}

func (inst *Instance) readLocalPostOrComment(ctx context.Context, iri string) (PostOrComment, error) {
	post, err := inst.Store.ReadPostByURI(ctx, iri)
	if err == nil {
		return PostOrComment{Post: post}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return PostOrComment{}, err
	}
	comment, err := inst.Store.ReadCommentByURI(ctx, iri)
	if err != nil {
		return PostOrComment{}, err
	}
	return PostOrComment{Comment: comment}, nil
}

// fetchTarget fetches an unknown target. Any failure other than running out
// of budget means the target cannot be found.
func (inst *Instance) fetchTarget(ctx context.Context, iri string, budget *FetchBudget) (any, error) {
	if inst.IsLocalIRI(iri) {
		return nil, fmt.Errorf("local object %s: %w", iri, ErrNotFound)
	}
	obj, err := fetchRemote(ctx, inst, iri, kindAny, budget)
	if err != nil {
		if errors.Is(err, ErrFetchLimitExceeded) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, iri, err)
	}
	return obj, nil
}
