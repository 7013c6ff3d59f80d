package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deemkeen/agora/activitypub"
	"github.com/deemkeen/agora/domain"
	"github.com/gin-gonic/gin"
)

// handleWebfinger resolves acct:name@host to a local person or community.
// Persons win when both share a name.
func (s *Server) handleWebfinger(c *gin.Context) {
	name, ok := parseResource(c.Query("resource"), s.conf.Conf.SslDomain)
	if !ok {
		webfingerNotFound(c)
		return
	}

	ctx := c.Request.Context()
	var actorIRI string
	if person, err := s.store.ReadLocalPersonByName(ctx, name); err == nil {
		actorIRI = person.ActorURI
	} else if !errors.Is(err, domain.ErrNotFound) {
		handleError(c, "webfinger person", err)
		return
	} else if community, err := s.store.ReadLocalCommunityByName(ctx, name); err == nil && !community.Deleted {
		actorIRI = community.ActorURI
	} else {
		webfingerNotFound(c)
		return
	}

	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, GetWebfinger(name, s.conf.Conf.SslDomain, actorIRI))
}

// parseResource extracts the local name from acct:name@domain
func parseResource(resource, domain string) (string, bool) {
	if !strings.HasPrefix(resource, "acct:") {
		return "", false
	}
	name, host, ok := strings.Cut(strings.TrimPrefix(resource, "acct:"), "@")
	if !ok || name == "" || !strings.EqualFold(host, domain) {
		return "", false
	}
	return strings.TrimPrefix(name, "!"), true
}

func GetWebfinger(name, domain, actorIRI string) *activitypub.WebfingerResponse {
	return &activitypub.WebfingerResponse{
		Subject: "acct:" + name + "@" + domain,
		Aliases: []string{actorIRI},
		Links: []activitypub.WebfingerLink{
			{Rel: "self", Type: activitypub.ContentType, Href: actorIRI},
		},
	}
}

func webfingerNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
}
