package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity is an entry of the activity ledger, used for deduplication of
// incoming activities and for serving our own activities by id.
// Entries are written once and never updated.
type Activity struct {
	Id          uuid.UUID
	ActivityURI string
	RawJSON     string
	Local       bool // true if originated from this server
	Sensitive   bool
	CreatedAt   time.Time
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string // The complete activity to deliver
	ActorURI     string // local actor whose key signs the request
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

type ModAction string

const (
	ModActionRemoveCommunity ModAction = "remove_community"
	ModActionRemovePost      ModAction = "remove_post"
	ModActionRemoveComment   ModAction = "remove_comment"
	ModActionAddModerator    ModAction = "add_moderator"
	ModActionRemoveModerator ModAction = "remove_moderator"
)

// ModLogEntry records a moderator action
type ModLogEntry struct {
	Id          uuid.UUID
	ModeratorId uuid.UUID
	CommunityId uuid.UUID
	Action      ModAction
	TargetURI   string
	Reason      string
	Removed     bool // false when the action was undone, e.g. a restore
	CreatedAt   time.Time
}
