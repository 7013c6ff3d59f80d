package web

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/gin-gonic/gin"
)

// handleError answers 404 for missing entities and 500 otherwise
func handleError(c *gin.Context, what string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		notFound(c)
		return
	}
	log.Errorf("Web: Failed to read %s: %v", what, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}

func (s *Server) handlePerson(c *gin.Context) {
	person, err := s.store.ReadLocalPersonByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		handleError(c, "person", err)
		return
	}
	renderActivity(c, s.inst.PersonToApub(person))
}

func (s *Server) handleCommunity(c *gin.Context) {
	community, err := s.localCommunity(c)
	if err != nil {
		return
	}
	renderActivity(c, s.inst.CommunityToApub(community))
}

func (s *Server) handleModerators(c *gin.Context) {
	community, err := s.localCommunity(c)
	if err != nil {
		return
	}
	coll, err := s.inst.ModeratorsToApub(c.Request.Context(), community)
	if err != nil {
		handleError(c, "moderators", err)
		return
	}
	renderActivity(c, coll)
}

func (s *Server) handleFollowers(c *gin.Context) {
	community, err := s.localCommunity(c)
	if err != nil {
		return
	}
	coll, err := s.inst.FollowersToApub(c.Request.Context(), community)
	if err != nil {
		handleError(c, "followers", err)
		return
	}
	renderActivity(c, coll)
}

// localCommunity reads the community named in the path. Deleted communities
// are answered with 404; the error return only tells the caller to stop.
func (s *Server) localCommunity(c *gin.Context) (*domain.Community, error) {
	community, err := s.store.ReadLocalCommunityByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		handleError(c, "community", err)
		return nil, err
	}
	if community.Deleted {
		notFound(c)
		return nil, domain.ErrNotFound
	}
	return community, nil
}

func (s *Server) handlePost(c *gin.Context) {
	ctx := c.Request.Context()
	post, err := s.store.ReadPostByURI(ctx, s.inst.LocalURL("/post/%s", c.Param("id")))
	if err != nil {
		handleError(c, "post", err)
		return
	}
	if post.Deleted {
		tombstone(c, post.ObjectURI)
		return
	}
	page, err := s.inst.PostToApub(ctx, post)
	if err != nil {
		handleError(c, "post", err)
		return
	}
	renderActivity(c, page)
}

func (s *Server) handleComment(c *gin.Context) {
	ctx := c.Request.Context()
	comment, err := s.store.ReadCommentByURI(ctx, s.inst.LocalURL("/comment/%s", c.Param("id")))
	if err != nil {
		handleError(c, "comment", err)
		return
	}
	if comment.Deleted {
		tombstone(c, comment.ObjectURI)
		return
	}
	note, err := s.inst.CommentToApub(ctx, comment)
	if err != nil {
		handleError(c, "comment", err)
		return
	}
	renderActivity(c, note)
}

// handleActivity serves an activity of this instance from the ledger.
// Entries marked sensitive are never served.
func (s *Server) handleActivity(c *gin.Context) {
	iri := s.inst.LocalURL("/activities/%s/%s", c.Param("type"), c.Param("id"))
	activity, err := s.store.ReadActivityByURI(c.Request.Context(), iri)
	if err != nil {
		handleError(c, "activity", err)
		return
	}
	if !activity.Local || activity.Sensitive {
		notFound(c)
		return
	}
	c.Data(http.StatusOK, activityJSON, []byte(activity.RawJSON))
}

// tombstone answers for deleted objects, 410 as Lemmy and Mastodon do
func tombstone(c *gin.Context, iri string) {
	c.Header("Content-Type", activityJSON)
	c.JSON(http.StatusGone, gin.H{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       iri,
		"type":     "Tombstone",
	})
}
