package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by the storage layer when no row matches.
var ErrNotFound = errors.New("not found")

// Person is a local account or a cached federated user
type Person struct {
	Id             uuid.UUID
	Name           string
	DisplayName    string
	ActorURI       string
	InboxURI       string
	SharedInboxURI string // empty when the remote server does not advertise one
	PublicKeyPem   string
	PrivateKeyPem  string // only set for local persons
	Local          bool
	Admin          bool
	LastRefreshed  time.Time
	CreatedAt      time.Time
}

func (p *Person) ActorIRI() string { return p.ActorURI }
func (p *Person) InboxIRI() string { return p.InboxURI }
func (p *Person) PublicKey() string { return p.PublicKeyPem }
func (p *Person) PrivateKey() string { return p.PrivateKeyPem }
func (p *Person) IsLocal() bool { return p.Local }
func (p *Person) RefreshedAt() time.Time { return p.LastRefreshed }

// SharedInboxOrInbox returns the endpoint deliveries should go to.
func (p *Person) SharedInboxOrInbox() string {
	if p.SharedInboxURI != "" {
		return p.SharedInboxURI
	}
	return p.InboxURI
}

func (p *Person) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tName: %s \n\tActor: %s \n\tLocal: %t)", p.Id, p.Name, p.ActorURI, p.Local)
}

// Community is a group actor. Remote communities are cached the same way
// remote persons are.
type Community struct {
	Id             uuid.UUID
	Name           string
	Title          string
	Description    string
	ActorURI       string
	InboxURI       string
	SharedInboxURI string
	FollowersURI   string
	PublicKeyPem   string
	PrivateKeyPem  string
	Local          bool
	Deleted        bool
	LastRefreshed  time.Time
	CreatedAt      time.Time
}

func (c *Community) ActorIRI() string { return c.ActorURI }
func (c *Community) InboxIRI() string { return c.InboxURI }
func (c *Community) PublicKey() string { return c.PublicKeyPem }
func (c *Community) PrivateKey() string { return c.PrivateKeyPem }
func (c *Community) IsLocal() bool { return c.Local }
func (c *Community) RefreshedAt() time.Time { return c.LastRefreshed }

func (c *Community) SharedInboxOrInbox() string {
	if c.SharedInboxURI != "" {
		return c.SharedInboxURI
	}
	return c.InboxURI
}

// ModeratorsURI is the collection listing the community's moderators.
func (c *Community) ModeratorsURI() string {
	return c.ActorURI + "/moderators"
}

func (c *Community) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tName: %s \n\tActor: %s \n\tDeleted: %t)", c.Id, c.Name, c.ActorURI, c.Deleted)
}

// CommunityFollower is a subscription of a person to a community. Pending
// is true until the community answered with an Accept.
type CommunityFollower struct {
	CommunityId uuid.UUID
	PersonId    uuid.UUID
	Pending     bool
	CreatedAt   time.Time
}

// CommunityModerator grants moderation rights on a community
type CommunityModerator struct {
	CommunityId uuid.UUID
	PersonId    uuid.UUID
	CreatedAt   time.Time
}
