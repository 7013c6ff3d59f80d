package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/agora/domain"
)

// verifyActivity checks that the actor lives on the host that issued the activity id
func verifyActivity(inst *Instance, act Activity) error {
	if err := verifyDomainsMatch(act.ActorIRI(), act.ActivityID()); err != nil {
		return err
	}
	if inst.Conf.IsBlocked(hostOf(act.ActorIRI())) {
		return fmt.Errorf("%w: instance %s is blocked", ErrNotAuthorized, hostOf(act.ActorIRI()))
	}
	return nil
}

// verifyPersonInCommunity resolves the acting person and fails if they are
// banned from community.
func (inst *Instance) verifyPersonInCommunity(ctx context.Context, actorIRI string, community *domain.Community, budget *FetchBudget) (*domain.Person, error) {
	person, err := inst.readPerson(ctx, actorIRI, budget)
	if err != nil {
		return nil, err
	}
	banned, err := inst.Store.IsBannedFromCommunity(ctx, community.Id, person.Id)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, fmt.Errorf("%w: %s is banned from %s", ErrNotAuthorized, actorIRI, community.ActorURI)
	}
	return person, nil
}

// verifyModAction succeeds if the actor moderates community or is an admin of this instance
func (inst *Instance) verifyModAction(ctx context.Context, actorIRI string, community *domain.Community, budget *FetchBudget) error {
	person, err := inst.readPerson(ctx, actorIRI, budget)
	if err != nil {
		return err
	}
	if person.Local && person.Admin {
		return nil
	}
	isMod, err := inst.Store.IsCommunityModerator(ctx, community.Id, person.Id)
	if err != nil {
		return err
	}
	if !isMod {
		return fmt.Errorf("%w: %s is not a moderator of %s", ErrNotAuthorized, actorIRI, community.ActorURI)
	}
	return nil
}

// verifyModeratorsTarget checks that target is the moderators collection of community
func verifyModeratorsTarget(target string, community *domain.Community) error {
	if target != community.ModeratorsURI() {
		return fmt.Errorf("%w: target %s is not the moderators collection of %s", ErrMalformedPayload, target, community.ActorURI)
	}
	return nil
}

// extractCommunity returns the first community addressed in cc. Entries that
// are already stored are preferred; only then are unknown entries fetched.
func (inst *Instance) extractCommunity(ctx context.Context, cc IRIs, budget *FetchBudget) (*domain.Community, error) {
	candidates := cc.withoutPublic()
	for _, iri := range candidates {
		community, err := inst.Store.ReadCommunityByURI(ctx, iri)
		if err == nil {
			return community, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	for _, iri := range candidates {
		if inst.IsLocalIRI(iri) {
			continue
		}
		if known, _ := inst.Store.ReadPersonByURI(ctx, iri); known != nil {
			continue
		}
		community, err := inst.readCommunity(ctx, iri, budget)
		if err == nil {
			return community, nil
		}
		if errors.Is(err, ErrFetchLimitExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no community addressed in cc", ErrNotFound)
}

// readCommunity dereferences a community IRI
func (inst *Instance) readCommunity(ctx context.Context, iri string, budget *FetchBudget) (*domain.Community, error) {
	id, err := NewObjectId[*domain.Community](iri)
	if err != nil {
		return nil, err
	}
	return id.Dereference(ctx, inst, budget)
}

// readPerson dereferences a person IRI
func (inst *Instance) readPerson(ctx context.Context, iri string, budget *FetchBudget) (*domain.Person, error) {
	id, err := NewObjectId[*domain.Person](iri)
	if err != nil {
		return nil, err
	}
	return id.Dereference(ctx, inst, budget)
}
