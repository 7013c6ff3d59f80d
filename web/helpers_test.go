package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/deemkeen/agora/activitypub"
	"github.com/deemkeen/agora/db"
	"github.com/deemkeen/agora/notify"
	"github.com/deemkeen/agora/util"
	"github.com/gin-gonic/gin"
)

const testHost = "agora.test"

type testServer struct {
	ctx    context.Context
	store  *db.DB
	inst   *activitypub.Instance
	hub    *notify.Hub
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "agora.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testHost
	conf.Conf.WithAp = true
	conf.Conf.FetchLimit = util.DefaultFetchLimit

	hub := notify.NewHub()
	inst := activitypub.NewInstance(store, conf, activitypub.NewHTTPFetcher(), hub)
	return &testServer{
		ctx:    ctx,
		store:  store,
		inst:   inst,
		hub:    hub,
		engine: NewServer(conf, store, inst, hub).Handler(),
	}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}
