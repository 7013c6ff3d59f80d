package activitypub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
)

// maxActivitySize caps the body of an inbound activity
const maxActivitySize = 1 << 20

// HandleInbox processes an incoming ActivityPub activity posted to any inbox
// of this instance and answers with the status of the outcome.
func HandleInbox(w http.ResponseWriter, r *http.Request, inst *Instance) {
	if r.Header.Get("Signature") == "" {
		log.Warn("Inbox: Missing HTTP signature")
		recordInboxActivity("", http.StatusUnauthorized)
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxActivitySize+1))
	defer r.Body.Close()
	if err != nil {
		log.Errorf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxActivitySize {
		recordInboxActivity("", http.StatusRequestEntityTooLarge)
		http.Error(w, "Activity too large", http.StatusRequestEntityTooLarge)
		return
	}

	act, err := inst.ReceiveActivity(r.Context(), r, body)
	status := StatusCode(err)

	kind := ""
	if act != nil {
		kind = act.Type()
	}
	recordInboxActivity(kind, status)

	switch {
	case err == nil:
		log.Infof("Inbox: Processed %s %s from %s", kind, act.ActivityID(), act.ActorIRI())
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrAlreadyProcessed):
		log.Debugf("Inbox: %v", err)
		w.WriteHeader(http.StatusOK)
	case status == http.StatusInternalServerError:
		log.Errorf("Inbox: Failed to process %s: %v", kind, err)
		http.Error(w, "Internal error", status)
	default:
		log.Warnf("Inbox: Rejected %s: %v", kind, err)
		http.Error(w, err.Error(), status)
	}
}

// ReceiveActivity runs an inbound activity through parsing, origin and
// signature checks, deduplication, verification and finally applies it.
// The parsed activity is returned whenever parsing succeeded.
func (inst *Instance) ReceiveActivity(ctx context.Context, req *http.Request, body []byte) (Activity, error) {
	// checked on the bare id, whatever the rest of the payload looks like
	if id := peekActivityID(body); id != "" && inst.IsLocalIRI(id) {
		return nil, fmt.Errorf("%w: %s", ErrLocalOriginRejected, id)
	}

	act, err := ParseActivity(body)
	if err != nil {
		return nil, err
	}
	if host := hostOf(act.ActorIRI()); inst.Conf.IsBlocked(host) {
		return act, fmt.Errorf("%w: instance %s is blocked", ErrNotAuthorized, host)
	}

	budget := inst.NewBudget()
	actor, err := inst.GetOrFetchActor(ctx, act.ActorIRI(), budget)
	if err != nil {
		return act, err
	}
	if err := verifySignature(req, body, act, actor); err != nil {
		return act, err
	}

	known, err := inst.isActivityAlreadyKnown(ctx, act.ActivityID())
	if err != nil {
		return act, err
	}
	if known {
		return act, fmt.Errorf("%w: %s", ErrAlreadyProcessed, act.ActivityID())
	}

	if err := act.Verify(ctx, inst, budget); err != nil {
		return act, err
	}

	inserted, err := inst.insertActivity(ctx, act.ActivityID(), body, false)
	if err != nil {
		return act, err
	}
	if !inserted {
		return act, fmt.Errorf("%w: %s", ErrAlreadyProcessed, act.ActivityID())
	}

	if err := act.Receive(ctx, inst, budget); err != nil {
		return act, err
	}
	log.Debugf("Inbox: %s used %d remote fetches", act.ActivityID(), budget.Used())
	return act, nil
}

// verifySignature checks the body digest and that the request was signed
// with the published key of the activity's actor. The key id only has to
// live on the actor's host; its exact layout differs between servers.
func verifySignature(req *http.Request, body []byte, act Activity, actor Actor) error {
	if err := VerifyDigest(req, body); err != nil {
		return err
	}
	keyId, err := verifyRequestKey(req, actor.PublicKey())
	if err != nil {
		return err
	}
	if !keyOwnedBy(keyId, act.ActorIRI()) {
		return fmt.Errorf("%w: signed with %s, not by actor %s", ErrSignatureInvalid, keyId, act.ActorIRI())
	}
	return nil
}

func (inst *Instance) isActivityAlreadyKnown(ctx context.Context, activityId string) (bool, error) {
	_, err := inst.Store.ReadActivityByURI(ctx, activityId)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// insertActivity records a received activity. Remote activities are never
// served again, so they are stored as sensitive.
func (inst *Instance) insertActivity(ctx context.Context, activityId string, raw []byte, local bool) (bool, error) {
	return inst.Store.InsertActivity(ctx, &domain.Activity{
		ActivityURI: activityId,
		RawJSON:     string(raw),
		Local:       local,
		Sensitive:   !local,
	})
}
