package web

import (
	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/activitypub"
	"github.com/gin-gonic/gin"
)

// handleInbox serves the shared inbox and the per actor inboxes. Routing by
// recipient is not needed: activities are addressed by their content.
func (s *Server) handleInbox(c *gin.Context) {
	log.Debugf("POST %s", c.Request.URL.Path)
	activitypub.HandleInbox(c.Writer, c.Request, s.inst)
}
