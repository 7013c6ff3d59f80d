package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
)

// actorRefreshInterval is how long a cached remote actor is trusted
const actorRefreshInterval = 24 * time.Hour

// Object is the set of entities an ObjectId can point at
type Object interface {
	*domain.Person | *domain.Community | *domain.Post | *domain.Comment | *domain.PrivateMessage
}

// ObjectId is an IRI that is expected to resolve to an entity of kind T
type ObjectId[T Object] struct {
	iri string
}

func NewObjectId[T Object](iri string) (ObjectId[T], error) {
	if _, err := parseIRI(iri); err != nil {
		return ObjectId[T]{}, err
	}
	return ObjectId[T]{iri: iri}, nil
}

func (id ObjectId[T]) String() string { return id.iri }

func (id ObjectId[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.iri)
}

func (id *ObjectId[T]) UnmarshalJSON(b []byte) error {
	var ref ObjectRef
	if err := json.Unmarshal(b, &ref); err != nil {
		return err
	}
	parsed, err := NewObjectId[T](string(ref))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Dereference returns the local copy of the object, fetching and storing it
// first when it is unknown or a stale remote actor. Every fetch is charged
// to budget.
func (id ObjectId[T]) Dereference(ctx context.Context, inst *Instance, budget *FetchBudget) (T, error) {
	var zero T
	if id.iri == "" {
		return zero, fmt.Errorf("%w: empty object id", ErrMalformedPayload)
	}

	cached, err := readLocal[T](ctx, inst, id.iri)
	switch {
	case err == nil:
		if !needsRefresh(cached) {
			return cached, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return zero, err
	case inst.IsLocalIRI(id.iri):
		return zero, fmt.Errorf("local object %s: %w", id.iri, ErrNotFound)
	}

	obj, ferr := fetchRemote(ctx, inst, id.iri, kindOf[T](), budget)
	if ferr != nil {
		if err == nil {
			log.Warnf("Resolver: Refresh of %s failed, using cached copy: %v", id.iri, ferr)
			return cached, nil
		}
		return zero, ferr
	}

	t, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s resolved to %T", ErrKindMismatch, id.iri, obj)
	}
	return t, nil
}

type objectKind int

const (
	kindAny objectKind = iota
	kindPerson
	kindCommunity
	kindPost
	kindComment
	kindPrivateMessage
)

func kindOf[T Object]() objectKind {
	var zero T
	switch any(zero).(type) {
	case *domain.Person:
		return kindPerson
	case *domain.Community:
		return kindCommunity
	case *domain.Post:
		return kindPost
	case *domain.Comment:
		return kindComment
	case *domain.PrivateMessage:
		return kindPrivateMessage
	}
	return kindAny
}

func readLocal[T Object](ctx context.Context, inst *Instance, iri string) (T, error) {
	var zero T
	var obj any
	var err error
	switch kindOf[T]() {
	case kindPerson:
		obj, err = inst.Store.ReadPersonByURI(ctx, iri)
	case kindCommunity:
		obj, err = inst.Store.ReadCommunityByURI(ctx, iri)
	case kindPost:
		obj, err = inst.Store.ReadPostByURI(ctx, iri)
	case kindComment:
		obj, err = inst.Store.ReadCommentByURI(ctx, iri)
	case kindPrivateMessage:
		obj, err = inst.Store.ReadPrivateMessageByURI(ctx, iri)
	}
	if err != nil {
		return zero, err
	}
	return obj.(T), nil
}

// needsRefresh reports whether a cached remote actor should be fetched again
func needsRefresh(obj any) bool {
	a, ok := obj.(Actor)
	if !ok || a.IsLocal() {
		return false
	}
	return a.PublicKey() == "" || time.Since(a.RefreshedAt()) > actorRefreshInterval
}

// fetchRemote spends one fetch from budget, retrieves iri and stores the
// converted entity. The document type decides the entity kind; want only
// breaks the tie for Notes, which are comments unless a private message
// is expected.
func fetchRemote(ctx context.Context, inst *Instance, iri string, want objectKind, budget *FetchBudget) (any, error) {
	if err := budget.Spend(); err != nil {
		return nil, err
	}
	log.Debugf("Resolver: Fetching %s (%d fetches left)", iri, budget.Remaining())

	body, err := inst.Fetcher.Fetch(ctx, iri)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", iri, err)
	}

	h, err := readHeader(body)
	if err != nil {
		return nil, err
	}
	if err := verifyDomainsMatch(iri, h.ID); err != nil {
		return nil, err
	}
	if inst.IsLocalIRI(h.ID) {
		return nil, fmt.Errorf("%w: remote document claims local id %s", ErrDomainMismatch, h.ID)
	}

	switch h.Type {
	case "Person", "Service", "Application":
		return personFromApub(ctx, inst, body)
	case "Group":
		return communityFromApub(ctx, inst, body, budget)
	case "Page":
		return postFromApub(ctx, inst, body, budget)
	case "Note":
		if want == kindPrivateMessage {
			return privateMessageFromApub(ctx, inst, body, budget)
		}
		return commentFromApub(ctx, inst, body, budget)
	case "ChatMessage":
		return privateMessageFromApub(ctx, inst, body, budget)
	case "Tombstone":
		return nil, fmt.Errorf("%s is a tombstone: %w", iri, ErrNotFound)
	default:
		return nil, fmt.Errorf("%w: unsupported document type %s", ErrKindMismatch, h.Type)
	}
}
