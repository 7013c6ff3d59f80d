package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventCommentCreated        EventKind = "comment_created"
	EventCommentEdited         EventKind = "comment_edited"
	EventCommentDeleted        EventKind = "comment_deleted"
	EventCommentRestored       EventKind = "comment_restored"
	EventPostCreated           EventKind = "post_created"
	EventPostEdited            EventKind = "post_edited"
	EventPostDeleted           EventKind = "post_deleted"
	EventPostRestored          EventKind = "post_restored"
	EventCommunityDeleted      EventKind = "community_deleted"
	EventCommunityRestored     EventKind = "community_restored"
	EventPrivateMessageCreated EventKind = "private_message_created"
	EventPrivateMessageEdited  EventKind = "private_message_edited"
	EventModeratorAdded        EventKind = "moderator_added"
	EventModeratorRemoved      EventKind = "moderator_removed"
)

// Event is emitted after an incoming activity changed local state.
// Recipients lists local persons that should be notified; an empty list
// means the event is only of interest to viewers of the object.
type Event struct {
	Kind        EventKind   `json:"kind"`
	ObjectId    uuid.UUID   `json:"object_id"`
	ObjectURI   string      `json:"object_uri"`
	CommunityId uuid.UUID   `json:"community_id,omitempty"`
	Recipients  []uuid.UUID `json:"recipients,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// IsFor reports whether the event should reach the given person
func (e *Event) IsFor(personId uuid.UUID) bool {
	if len(e.Recipients) == 0 {
		return true
	}
	for _, r := range e.Recipients {
		if r == personId {
			return true
		}
	}
	return false
}

// IsPrivate reports whether the event concerns a private message. Private
// events only reach subscribers that name one of the recipients.
func (e *Event) IsPrivate() bool {
	return e.Kind == EventPrivateMessageCreated || e.Kind == EventPrivateMessageEdited
}
