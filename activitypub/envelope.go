package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Activity is an inbound activity of one of the supported variants. The set
// of variants is closed: only this package can implement it.
type Activity interface {
	ActivityID() string
	ActorIRI() string
	Type() string
	// Verify checks the activity without changing the social graph
	Verify(ctx context.Context, inst *Instance, budget *FetchBudget) error
	// Receive applies the activity. It runs only after Verify succeeded and
	// the activity was recorded in the ledger.
	Receive(ctx context.Context, inst *Instance, budget *FetchBudget) error

	validate() error
	audience() IRIs
}

// envelope holds the fields every activity carries
type envelope struct {
	Context  json.RawMessage `json:"@context,omitempty"`
	ID       string          `json:"id"`
	Kind     string          `json:"type"`
	Actor    ObjectRef       `json:"actor"`
	To       IRIs            `json:"to,omitempty"`
	Cc       IRIs            `json:"cc,omitempty"`
	Unparsed Unparsed        `json:"-"`
}

func (e *envelope) ActivityID() string { return e.ID }
func (e *envelope) ActorIRI() string { return string(e.Actor) }
func (e *envelope) Type() string { return e.Kind }
func (e *envelope) audience() IRIs { return e.Cc }

// validateEnvelope checks the fields shared by all variants
func (e *envelope) validateEnvelope(kinds ...string) error {
	if e.ID == "" || e.Actor == "" {
		return fmt.Errorf("%w: activity without id or actor", ErrMalformedPayload)
	}
	for _, k := range kinds {
		if e.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("%w: type %s is not one of %v", ErrMalformedPayload, e.Kind, kinds)
}

// validateCommunityAudience checks the addressing of activities sent to a
// community: public, with the community in cc
func (e *envelope) validateCommunityAudience() error {
	if !e.To.ContainsPublic() {
		return fmt.Errorf("%w: activity is not public", ErrMalformedPayload)
	}
	if len(e.Cc) == 0 {
		return fmt.Errorf("%w: activity without cc", ErrMalformedPayload)
	}
	return nil
}

func newEnvelope(inst *Instance, kind string, actor string) envelope {
	return envelope{
		Context: defaultContext,
		ID:      newActivityID(inst, kind),
		Kind:    kind,
		Actor:   ObjectRef(actor),
	}
}

// newActivityID returns a fresh IRI of the form https://host/activities/<type>/<uuid>
func newActivityID(inst *Instance, kind string) string {
	return inst.LocalURL("/activities/%s/%s", strings.ToLower(kind), uuid.New())
}

// inboxVariants lists the variants accepted by an inbox in probing order.
// Community addressed variants come first: a person addressed payload can
// be mistaken for a community one, not the other way round. Private messages
// share the shape of comments and must be tried after them.
var inboxVariants = []func() Activity{
	func() Activity { return &FollowCommunity{} },
	func() Activity { return &UndoFollowCommunity{} },
	func() Activity { return &CreateOrUpdatePost{} },
	func() Activity { return &CreateOrUpdateComment{} },
	func() Activity { return &AddMod{} },
	func() Activity { return &RemoveMod{} },
	func() Activity { return &Delete{} },
	func() Activity { return &UndoDelete{} },
	func() Activity { return &AcceptFollowCommunity{} },
	func() Activity { return &CreateOrUpdatePrivateMessage{} },
	func() Activity { return &AnnounceActivity{} },
}

// announcableVariants may be wrapped in an Announce by a community
var announcableVariants = []func() Activity{
	func() Activity { return &CreateOrUpdatePost{} },
	func() Activity { return &CreateOrUpdateComment{} },
	func() Activity { return &AddMod{} },
	func() Activity { return &RemoveMod{} },
	func() Activity { return &Delete{} },
	func() Activity { return &UndoDelete{} },
}

// ParseActivity decodes an inbound activity. Variants are tried in declared
// order and the first one that decodes and validates wins.
func ParseActivity(raw []byte) (Activity, error) {
	return parseVariants(raw, inboxVariants)
}

// peekActivityID returns the id of a payload without validating anything else
func peekActivityID(raw []byte) string {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(head.ID, &id); err != nil {
		return ""
	}
	return id
}

func parseVariants(raw []byte, variants []func() Activity) (Activity, error) {
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	for _, newVariant := range variants {
		act := newVariant()
		if err := json.Unmarshal(raw, act); err != nil {
			continue
		}
		if err := act.validate(); err != nil {
			continue
		}
		return act, nil
	}
	return nil, fmt.Errorf("%w: no supported activity matches %s %s", ErrMalformedPayload, head.Type, head.ID)
}
