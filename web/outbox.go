package web

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const itemsPerPage = 20

// handleOutbox returns the OrderedCollection of a community's posts.
// This allows remote servers to backfill a community they just followed.
func (s *Server) handleOutbox(c *gin.Context) {
	community, err := s.localCommunity(c)
	if err != nil {
		return
	}
	outboxURL := community.ActorURI + "/outbox"

	page := ParsePageParam(c.Query("page"))
	if page == 0 {
		renderActivity(c, gin.H{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id":       outboxURL,
			"type":     "OrderedCollection",
			"first":    fmt.Sprintf("%s?page=1", outboxURL),
		})
		return
	}

	ctx := c.Request.Context()
	offset := (page - 1) * itemsPerPage
	posts, err := s.store.ReadCommunityPosts(ctx, community.Id, itemsPerPage+1, offset)
	if err != nil {
		handleError(c, "outbox", err)
		return
	}

	// Check if there are more items
	hasMore := len(posts) > itemsPerPage
	if hasMore {
		posts = posts[:itemsPerPage]
	}

	items := make([]any, 0, len(posts))
	for i := range posts {
		act, err := s.inst.PostToCreate(ctx, &posts[i])
		if err != nil {
			log.Warnf("Outbox: Skipping post %s: %v", posts[i].ObjectURI, err)
			continue
		}
		items = append(items, act)
	}

	collectionPage := gin.H{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}
	renderActivity(c, collectionPage)
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
