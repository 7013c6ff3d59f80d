package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/agora/db"
	"github.com/deemkeen/agora/domain"
	"github.com/deemkeen/agora/util"
	"github.com/stretchr/testify/require"
)

const testHost = "agora.test"

var (
	sharedKeyOnce sync.Once
	sharedKey     *rsa.PrivateKey
	sharedKeyPem  string
)

// testKey returns one key pair shared by all remote test actors
func testKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	sharedKeyOnce.Do(func() {
		key, pub, err := generateTestKeyPair()
		if err != nil {
			panic(err)
		}
		pubPem, err := publicKeyToPEM(pub)
		if err != nil {
			panic(err)
		}
		sharedKey, sharedKeyPem = key, pubPem
	})
	return sharedKey, sharedKeyPem
}

// fakeFetcher serves canned documents and counts every fetch
type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string][]byte
	calls map[string]int
	total int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{docs: map[string][]byte{}, calls: map[string]int{}}
}

func (f *fakeFetcher) add(iri string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[iri] = b
}

func (f *fakeFetcher) Fetch(ctx context.Context, iri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total++
	f.calls[iri]++
	body, ok := f.docs[iri]
	if !ok {
		return nil, fmt.Errorf("%w: %s returned 404", ErrNotFound, iri)
	}
	return body, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeFetcher) fetched(iri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[iri]
}

func (f *fakeFetcher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total = 0
	f.calls = map[string]int{}
}

// recordingNotifier keeps every emitted event
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, e domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) ofKind(kind domain.EventKind) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, e := range n.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	inst     *Instance
	db       *db.DB
	fetcher  *fakeFetcher
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "agora.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testHost
	conf.Conf.FetchLimit = util.DefaultFetchLimit

	fetcher := newFakeFetcher()
	notifier := &recordingNotifier{}
	return &testEnv{
		t:        t,
		ctx:      ctx,
		inst:     NewInstance(store, conf, fetcher, notifier),
		db:       store,
		fetcher:  fetcher,
		notifier: notifier,
	}
}

// remoteActor is an actor on another instance whose document is served by the fake fetcher
type remoteActor struct {
	iri string
	key *rsa.PrivateKey
}

func (e *testEnv) actorDoc(iri, typ, name, pubPem string) *ActorResponse {
	host := hostOf(iri)
	return &ActorResponse{
		Context:           defaultContext,
		ID:                iri,
		Type:              typ,
		PreferredUsername: name,
		Inbox:             iri + "/inbox",
		Endpoints:         &Endpoints{SharedInbox: "https://" + host + "/inbox"},
		PublicKey: PublicKey{
			ID:           iri + "#main-key",
			Owner:        iri,
			PublicKeyPem: pubPem,
		},
	}
}

// addRemotePerson publishes a person document at https://host/u/name
func (e *testEnv) addRemotePerson(host, name string) *remoteActor {
	key, pubPem := testKey(e.t)
	iri := "https://" + host + "/u/" + name
	e.fetcher.add(iri, e.actorDoc(iri, "Person", name, pubPem))
	return &remoteActor{iri: iri, key: key}
}

// addRemoteCommunity publishes a group document at https://host/c/name
// together with its moderators collection
func (e *testEnv) addRemoteCommunity(host, name string, mods ...string) *remoteActor {
	key, pubPem := testKey(e.t)
	iri := "https://" + host + "/c/" + name
	group := e.actorDoc(iri, "Group", name, pubPem)
	group.Followers = iri + "/followers"
	group.Moderators = iri + "/moderators"
	e.fetcher.add(iri, group)
	e.fetcher.add(iri+"/moderators", &OrderedCollection{
		ID:           iri + "/moderators",
		Type:         "OrderedCollection",
		TotalItems:   len(mods),
		OrderedItems: IRIs(mods),
	})
	return &remoteActor{iri: iri, key: key}
}

// cachePerson stores a remote person as if it had been fetched just now
func (e *testEnv) cachePerson(a *remoteActor) *domain.Person {
	_, pubPem := testKey(e.t)
	p, err := e.db.UpsertPerson(e.ctx, &domain.Person{
		Name:           extractUsername(a.iri),
		ActorURI:       a.iri,
		InboxURI:       a.iri + "/inbox",
		SharedInboxURI: "https://" + hostOf(a.iri) + "/inbox",
		PublicKeyPem:   pubPem,
		LastRefreshed:  time.Now(),
	})
	require.NoError(e.t, err)
	return p
}

// cacheCommunity stores a remote community as if it had been fetched just now
func (e *testEnv) cacheCommunity(a *remoteActor, mods ...*domain.Person) *domain.Community {
	_, pubPem := testKey(e.t)
	c, err := e.db.UpsertCommunity(e.ctx, &domain.Community{
		Name:           extractUsername(a.iri),
		ActorURI:       a.iri,
		InboxURI:       a.iri + "/inbox",
		SharedInboxURI: "https://" + hostOf(a.iri) + "/inbox",
		FollowersURI:   a.iri + "/followers",
		PublicKeyPem:   pubPem,
		LastRefreshed:  time.Now(),
	})
	require.NoError(e.t, err)
	for _, m := range mods {
		require.NoError(e.t, e.db.JoinCommunityModerator(e.ctx, c.Id, m.Id))
	}
	return c
}

func (e *testEnv) localPerson(name string, admin bool) *domain.Person {
	keys, err := util.GeneratePemKeypair()
	require.NoError(e.t, err)
	iri := e.inst.LocalURL("/u/%s", name)
	p, err := e.db.UpsertPerson(e.ctx, &domain.Person{
		Name:          name,
		ActorURI:      iri,
		InboxURI:      iri + "/inbox",
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		Local:         true,
		Admin:         admin,
	})
	require.NoError(e.t, err)
	return p
}

func (e *testEnv) localCommunity(name string) *domain.Community {
	keys, err := util.GeneratePemKeypair()
	require.NoError(e.t, err)
	iri := e.inst.LocalURL("/c/%s", name)
	c, err := e.db.UpsertCommunity(e.ctx, &domain.Community{
		Name:          name,
		Title:         name,
		ActorURI:      iri,
		InboxURI:      iri + "/inbox",
		FollowersURI:  iri + "/followers",
		PublicKeyPem:  keys.Public,
		PrivateKeyPem: keys.Private,
		Local:         true,
	})
	require.NoError(e.t, err)
	return c
}

func (e *testEnv) storePost(iri string, creator *domain.Person, community *domain.Community) *domain.Post {
	p, err := e.db.UpsertPost(e.ctx, &domain.Post{
		ObjectURI:   iri,
		Name:        "A post",
		Body:        "<p>body</p>",
		CreatorId:   creator.Id,
		CommunityId: community.Id,
		Local:       e.inst.IsLocalIRI(iri),
	})
	require.NoError(e.t, err)
	return p
}

func (e *testEnv) storeComment(iri string, creator *domain.Person, post *domain.Post) *domain.Comment {
	c, err := e.db.UpsertComment(e.ctx, &domain.Comment{
		ObjectURI: iri,
		Content:   "<p>comment</p>",
		CreatorId: creator.Id,
		PostId:    post.Id,
		Local:     e.inst.IsLocalIRI(iri),
	})
	require.NoError(e.t, err)
	return c
}

// deliver posts activity to the shared inbox, signed by from
func (e *testEnv) deliver(from *remoteActor, activity any) error {
	body := mustJSON(e.t, activity)
	req := e.signedInboxRequest(from.key, from.iri+"#main-key", body)
	_, err := e.inst.ReceiveActivity(e.ctx, req, body)
	return err
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	if b, ok := v.([]byte); ok {
		return b
	}
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func (e *testEnv) signedInboxRequest(key *rsa.PrivateKey, keyId string, body []byte) *http.Request {
	url := e.inst.LocalURL("/inbox")
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", testHost)
	require.NoError(e.t, SignRequest(req, key, keyId, body))
	return req
}
