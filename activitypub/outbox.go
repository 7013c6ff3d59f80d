package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// sendActivity records an activity issued by a local actor in the ledger and
// queues it for every distinct remote inbox. Local inboxes are skipped.
func (inst *Instance) sendActivity(ctx context.Context, act Activity, actor Actor, inboxes []string, sensitive bool) error {
	if !actor.IsLocal() {
		return fmt.Errorf("cannot send as remote actor %s", actor.ActorIRI())
	}

	activityJSON, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := inst.Store.InsertActivity(ctx, &domain.Activity{
		ActivityURI: act.ActivityID(),
		RawJSON:     string(activityJSON),
		Local:       true,
		Sensitive:   sensitive,
	}); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	queued := 0
	for _, inbox := range uniqueInboxes(inboxes) {
		if inst.IsLocalIRI(inbox) {
			continue
		}
		item := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			InboxURI:     inbox,
			ActivityJSON: string(activityJSON),
			ActorURI:     actor.ActorIRI(),
			NextRetryAt:  time.Now(),
			CreatedAt:    time.Now(),
		}
		if err := inst.Store.EnqueueDelivery(ctx, item); err != nil {
			log.Errorf("Outbox: Failed to queue delivery to %s: %v", inbox, err)
			continue
		}
		queued++
	}

	log.Infof("Outbox: Queued %s %s to %d inboxes", act.Type(), act.ActivityID(), queued)
	return nil
}

// sendToCommunity delivers an activity concerning community. A local
// community announces it to its followers itself; a remote one receives it
// in its inbox and takes care of the fan out.
func (inst *Instance) sendToCommunity(ctx context.Context, act Activity, actor *domain.Person, community *domain.Community, extraInboxes []string) error {
	if community.Local {
		activityJSON, err := json.Marshal(act)
		if err != nil {
			return fmt.Errorf("failed to marshal activity: %w", err)
		}
		if _, err := inst.Store.InsertActivity(ctx, &domain.Activity{
			ActivityURI: act.ActivityID(),
			RawJSON:     string(activityJSON),
			Local:       true,
		}); err != nil {
			return fmt.Errorf("failed to record activity: %w", err)
		}
		return inst.sendAnnounce(ctx, act, community, extraInboxes)
	}

	inboxes := append([]string{community.SharedInboxOrInbox()}, extraInboxes...)
	return inst.sendActivity(ctx, act, actor, inboxes, false)
}

// followerInboxes returns the delivery endpoints of the remote followers of community
func (inst *Instance) followerInboxes(ctx context.Context, community *domain.Community) ([]string, error) {
	followers, err := inst.Store.ReadCommunityFollowers(ctx, community.Id)
	if err != nil {
		return nil, err
	}
	var inboxes []string
	for _, f := range followers {
		if f.Local {
			continue
		}
		inboxes = append(inboxes, f.SharedInboxOrInbox())
	}
	return inboxes, nil
}

// uniqueInboxes drops empty and repeated endpoints, keeping the first occurrence
func uniqueInboxes(inboxes []string) []string {
	seen := make(map[string]bool, len(inboxes))
	out := make([]string, 0, len(inboxes))
	for _, inbox := range inboxes {
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		out = append(out, inbox)
	}
	return out
}
