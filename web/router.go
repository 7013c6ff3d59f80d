package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/activitypub"
	"github.com/deemkeen/agora/db"
	"github.com/deemkeen/agora/notify"
	"github.com/deemkeen/agora/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const activityJSON = "application/activity+json; charset=utf-8"

// maxBodySize caps inbound activities
const maxBodySize = 1 << 20

// Server serves the federation endpoints of an instance
type Server struct {
	conf  *util.AppConfig
	store *db.DB
	inst  *activitypub.Instance
	hub   *notify.Hub
}

func NewServer(conf *util.AppConfig, store *db.DB, inst *activitypub.Instance, hub *notify.Hub) *Server {
	return &Server{conf: conf, store: store, inst: inst, hub: hub}
}

// Handler builds the gin engine with all routes
func (s *Server) Handler() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	g.GET("/api/v1/events", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})
	g.GET("/api/v1/events/recent", s.handleRecentEvents)

	if !s.conf.Conf.WithAp {
		return g
	}

	// Stricter rate limit for inboxes: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	inbox := []gin.HandlerFunc{RateLimitMiddleware(apLimiter), MaxBytesMiddleware(maxBodySize), s.handleInbox}

	g.POST("/inbox", inbox...)
	g.POST("/u/:name/inbox", inbox...)
	g.POST("/c/:name/inbox", inbox...)

	g.GET("/u/:name", s.handlePerson)
	g.GET("/c/:name", s.handleCommunity)
	g.GET("/c/:name/moderators", s.handleModerators)
	g.GET("/c/:name/followers", s.handleFollowers)
	g.GET("/c/:name/outbox", s.handleOutbox)
	g.GET("/post/:id", s.handlePost)
	g.GET("/comment/:id", s.handleComment)
	g.GET("/activities/:type/:id", s.handleActivity)
	g.GET("/.well-known/webfinger", s.handleWebfinger)

	return g
}

// Run serves HTTP until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("Starting HTTP server on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// renderActivity writes v as an ActivityPub document
func renderActivity(c *gin.Context, v any) {
	c.Header("Content-Type", activityJSON)
	c.JSON(http.StatusOK, v)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
}
