package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Post struct {
	Id          uuid.UUID
	ObjectURI   string
	Name        string
	Body        string
	URL         string
	CreatorId   uuid.UUID
	CommunityId uuid.UUID
	Local       bool
	Deleted     bool
	Locked      bool
	Sensitive   bool
	CreatedAt   time.Time
	EditedAt    *time.Time // nil if never edited
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tName: %s \n\tObject: %s \n\tCreatedAt: %s)", p.Id, p.Name, p.ObjectURI, p.CreatedAt)
}

type Comment struct {
	Id        uuid.UUID
	ObjectURI string
	Content   string
	CreatorId uuid.UUID
	PostId    uuid.UUID
	ParentId  *uuid.UUID // nil for top level comments
	Local     bool
	Deleted   bool
	CreatedAt time.Time
	EditedAt  *time.Time
}

func (c *Comment) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tObject: %s \n\tContent: %s \n\tCreatedAt: %s)", c.Id, c.ObjectURI, c.Content, c.CreatedAt)
}

// PrivateMessage is a direct message between two persons
type PrivateMessage struct {
	Id          uuid.UUID
	ObjectURI   string
	Content     string
	CreatorId   uuid.UUID
	RecipientId uuid.UUID
	Local       bool
	Deleted     bool
	CreatedAt   time.Time
	EditedAt    *time.Time
}
