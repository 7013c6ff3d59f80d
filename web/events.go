package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleRecentEvents lists retained notification events, optionally for one person
func (s *Server) handleRecentEvents(c *gin.Context) {
	var person uuid.UUID
	if p := c.Query("person"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
			return
		}
		person = id
	}
	c.JSON(http.StatusOK, gin.H{"events": s.hub.Recent(person)})
}
