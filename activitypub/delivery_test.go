package activitypub

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/deemkeen/agora/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inboxServer accepts deliveries signed by the given key and records their bodies
type inboxServer struct {
	*httptest.Server
	mu       sync.Mutex
	received []string
	status   int
}

func newInboxServer(t *testing.T, publicKeyPem string) *inboxServer {
	s := &inboxServer{status: http.StatusAccepted}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := VerifyDigest(r, body); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if _, err := VerifyRequest(r, publicKeyPem); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.received = append(s.received, string(body))
		w.WriteHeader(s.status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *inboxServer) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *inboxServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestDeliveryWorkerSignsAndDelivers(t *testing.T) {
	e := newTestEnv(t)
	bob := e.localPerson("bob", false)
	srv := newInboxServer(t, bob.PublicKeyPem)

	require.NoError(t, e.db.EnqueueDelivery(e.ctx, &domain.DeliveryQueueItem{
		InboxURI:     srv.URL + "/inbox",
		ActivityJSON: `{"type":"Follow"}`,
		ActorURI:     bob.ActorURI,
	}))

	e.inst.processDeliveryQueue(e.ctx, srv.Client())

	assert.Equal(t, 1, srv.count())
	n, err := e.db.CountDeliveries(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeliveryWorkerRetries(t *testing.T) {
	tests := []struct {
		name       string
		attempts   int
		wantQueued int
	}{
		{"first failure is rescheduled", 0, 1},
		{"last attempt is dropped", maxDeliveryAttempts - 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			bob := e.localPerson("bob", false)
			srv := newInboxServer(t, bob.PublicKeyPem)
			srv.setStatus(http.StatusInternalServerError)

			require.NoError(t, e.db.EnqueueDelivery(e.ctx, &domain.DeliveryQueueItem{
				InboxURI:     srv.URL + "/inbox",
				ActivityJSON: `{"type":"Delete"}`,
				ActorURI:     bob.ActorURI,
				Attempts:     tt.attempts,
			}))

			e.inst.processDeliveryQueue(e.ctx, srv.Client())

			n, err := e.db.CountDeliveries(e.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQueued, n)

			// rescheduled items are not due again right away
			pending, err := e.db.ReadPendingDeliveries(e.ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestDeliveryWorkerNeedsLocalSigner(t *testing.T) {
	e := newTestEnv(t)
	dave := e.cachePerson(&remoteActor{iri: "https://lemmy.example/u/dave"})

	item := &domain.DeliveryQueueItem{
		InboxURI:     "https://lemmy.example/inbox",
		ActivityJSON: `{"type":"Follow"}`,
		ActorURI:     dave.ActorURI,
	}
	err := e.inst.deliverActivity(e.ctx, http.DefaultClient, item)
	assert.Error(t, err)
}
