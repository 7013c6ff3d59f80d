package activitypub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// AnnounceActivity is a community forwarding an activity to its followers
type AnnounceActivity struct {
	envelope
	Object json.RawMessage `json:"object"`

	inner Activity
}

func (a *AnnounceActivity) UnmarshalJSON(b []byte) error {
	type plain AnnounceActivity
	if err := unmarshalWithUnparsed(b, (*plain)(a), &a.Unparsed); err != nil {
		return err
	}
	inner, err := parseVariants(a.Object, announcableVariants)
	if err != nil {
		return err
	}
	a.inner = inner
	return nil
}

func (a AnnounceActivity) MarshalJSON() ([]byte, error) {
	type plain AnnounceActivity
	return marshalWithUnparsed(plain(a), a.Unparsed)
}

// Inner returns the announced activity
func (a *AnnounceActivity) Inner() Activity { return a.inner }

func (a *AnnounceActivity) validate() error {
	if err := a.validateEnvelope("Announce"); err != nil {
		return err
	}
	if !a.To.ContainsPublic() {
		return fmt.Errorf("%w: announce is not public", ErrMalformedPayload)
	}
	if a.inner == nil {
		return fmt.Errorf("%w: announce without supported object", ErrMalformedPayload)
	}
	return nil
}

// Verify accepts only activities that concern the announcing community. An
// inner activity issued by another host is not trusted as embedded: it is
// fetched from its own id and that copy replaces it.
func (a *AnnounceActivity) Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	if err := verifyActivity(inst, a); err != nil {
		return err
	}
	community, err := inst.readCommunity(ctx, a.ActorIRI(), budget)
	if err != nil {
		return err
	}

	innerId := a.inner.ActivityID()
	if inst.IsLocalIRI(innerId) {
		// our own activity coming back; Receive skips it if we sent it
		known, err := inst.isActivityAlreadyKnown(ctx, innerId)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: announced activity %s was not issued here", ErrNotAuthorized, innerId)
		}
		return nil
	}

	if hostOf(innerId) != hostOf(community.ActorURI) {
		if err := a.refetchInner(ctx, inst, budget); err != nil {
			return err
		}
	}

	target, err := inst.extractCommunity(ctx, a.inner.audience(), budget)
	if err != nil {
		return err
	}
	if target.Id != community.Id {
		return fmt.Errorf("%w: %s cannot announce activities of %s", ErrNotAuthorized, community.ActorURI, target.ActorURI)
	}
	return a.inner.Verify(ctx, inst, budget)
}

// refetchInner replaces the embedded activity with the copy served at its id
func (a *AnnounceActivity) refetchInner(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	innerId := a.inner.ActivityID()
	if err := budget.Spend(); err != nil {
		return err
	}
	body, err := inst.Fetcher.Fetch(ctx, innerId)
	if err != nil {
		return fmt.Errorf("%w: announced activity %s not confirmed by its origin: %v", ErrNotAuthorized, innerId, err)
	}
	inner, err := parseVariants(body, announcableVariants)
	if err != nil {
		return err
	}
	if inner.ActivityID() != innerId {
		return fmt.Errorf("%w: %s served activity %s", ErrDomainMismatch, innerId, inner.ActivityID())
	}
	a.inner = inner
	a.Object = body
	return nil
}

// Receive applies the announced activity unless it was seen before, for
// instance because it also reached us directly.
func (a *AnnounceActivity) Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error {
	known, err := inst.isActivityAlreadyKnown(ctx, a.inner.ActivityID())
	if err != nil {
		return err
	}
	if known {
		log.Debugf("Announce: Skipping known activity %s", a.inner.ActivityID())
		return nil
	}
	inserted, err := inst.insertActivity(ctx, a.inner.ActivityID(), a.Object, false)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	return a.inner.Receive(ctx, inst, budget)
}

// sendAnnounce wraps act in an Announce by community and delivers it to the
// followers of community and to extraInboxes.
func (inst *Instance) sendAnnounce(ctx context.Context, act Activity, community *domain.Community, extraInboxes []string) error {
	object, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("failed to marshal announced activity: %w", err)
	}

	announce := &AnnounceActivity{
		envelope: newEnvelope(inst, "Announce", community.ActorURI),
		Object:   object,
		inner:    act,
	}
	announce.To = IRIs{PublicIRI}
	announce.Cc = IRIs{community.FollowersURI}

	inboxes, err := inst.followerInboxes(ctx, community)
	if err != nil {
		return err
	}
	return inst.sendActivity(ctx, announce, community, append(inboxes, extraInboxes...), false)
}

// relayToFollowers announces an activity received from a remote peer to the
// followers of the community it concerns, if that community is ours.
func (inst *Instance) relayToFollowers(ctx context.Context, act Activity, communityId uuid.UUID) error {
	community, err := inst.Store.ReadCommunityById(ctx, communityId)
	if err != nil {
		return err
	}
	if !community.Local {
		return nil
	}
	if err := inst.sendAnnounce(ctx, act, community, nil); err != nil {
		log.Errorf("Announce: Failed to relay %s to followers of %s: %v", act.ActivityID(), community.ActorURI, err)
	}
	return nil
}
