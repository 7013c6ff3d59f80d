package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
)

// setupTestDB opens a fresh database file for a single test
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "agora.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestPerson(t *testing.T, db *DB, name string, local bool) *domain.Person {
	t.Helper()
	p, err := db.UpsertPerson(context.Background(), &domain.Person{
		Name:         name,
		ActorURI:     "https://example.com/u/" + name,
		InboxURI:     "https://example.com/u/" + name + "/inbox",
		PublicKeyPem: "pubkey-" + name,
		Local:        local,
	})
	if err != nil {
		t.Fatalf("UpsertPerson failed: %v", err)
	}
	return p
}

func createTestCommunity(t *testing.T, db *DB, name string) *domain.Community {
	t.Helper()
	c, err := db.UpsertCommunity(context.Background(), &domain.Community{
		Name:     name,
		Title:    "Community " + name,
		ActorURI: "https://example.com/c/" + name,
		InboxURI: "https://example.com/c/" + name + "/inbox",
		Local:    true,
	})
	if err != nil {
		t.Fatalf("UpsertCommunity failed: %v", err)
	}
	return c
}

func TestUpsertPersonRefreshesExisting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := createTestPerson(t, db, "alice", false)

	updated, err := db.UpsertPerson(ctx, &domain.Person{
		Name:         "alice",
		DisplayName:  "Alice",
		ActorURI:     first.ActorURI,
		InboxURI:     first.InboxURI,
		PublicKeyPem: "rotated",
	})
	if err != nil {
		t.Fatalf("UpsertPerson failed: %v", err)
	}

	if updated.Id != first.Id {
		t.Errorf("Expected Id %s to be kept, got %s", first.Id, updated.Id)
	}
	if updated.PublicKeyPem != "rotated" {
		t.Errorf("Expected rotated key, got %s", updated.PublicKeyPem)
	}
	if updated.DisplayName != "Alice" {
		t.Errorf("Expected display name Alice, got %s", updated.DisplayName)
	}
}

func TestReadPersonNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.ReadPersonByURI(context.Background(), "https://nowhere.example/u/ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	_, err = db.ReadPersonById(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReadLocalPersonByName(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestPerson(t, db, "local", true)
	createTestPerson(t, db, "remote", false)

	p, err := db.ReadLocalPersonByName(ctx, "local")
	if err != nil {
		t.Fatalf("ReadLocalPersonByName failed: %v", err)
	}
	if !p.Local {
		t.Error("Expected local person")
	}
	if _, err := db.ReadLocalPersonByName(ctx, "remote"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for remote person, got %v", err)
	}
}

func TestCommunityDeletedFlag(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := createTestCommunity(t, db, "golang")

	deleted, err := db.UpdateCommunityDeleted(ctx, c.Id, true)
	if err != nil {
		t.Fatalf("UpdateCommunityDeleted failed: %v", err)
	}
	if !deleted.Deleted {
		t.Error("Expected community to be deleted")
	}

	restored, err := db.UpdateCommunityDeleted(ctx, c.Id, false)
	if err != nil {
		t.Fatalf("UpdateCommunityDeleted failed: %v", err)
	}
	if restored.Deleted {
		t.Error("Expected community to be restored")
	}

	if _, err := db.UpdateCommunityDeleted(ctx, uuid.New(), true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown community, got %v", err)
	}
}

func TestCommunityModerators(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := createTestCommunity(t, db, "golang")
	alice := createTestPerson(t, db, "alice", true)
	bob := createTestPerson(t, db, "bob", false)

	if err := db.JoinCommunityModerator(ctx, c.Id, alice.Id); err != nil {
		t.Fatalf("JoinCommunityModerator failed: %v", err)
	}
	// adding twice is a no-op
	if err := db.JoinCommunityModerator(ctx, c.Id, alice.Id); err != nil {
		t.Fatalf("JoinCommunityModerator failed: %v", err)
	}

	isMod, err := db.IsCommunityModerator(ctx, c.Id, alice.Id)
	if err != nil {
		t.Fatalf("IsCommunityModerator failed: %v", err)
	}
	if !isMod {
		t.Error("Expected alice to be moderator")
	}

	if err := db.SetCommunityModerators(ctx, c.Id, []uuid.UUID{bob.Id}); err != nil {
		t.Fatalf("SetCommunityModerators failed: %v", err)
	}
	mods, err := db.ReadCommunityModerators(ctx, c.Id)
	if err != nil {
		t.Fatalf("ReadCommunityModerators failed: %v", err)
	}
	if len(mods) != 1 || mods[0].Id != bob.Id {
		t.Errorf("Expected only bob as moderator, got %v", mods)
	}

	if err := db.LeaveCommunityModerator(ctx, c.Id, bob.Id); err != nil {
		t.Fatalf("LeaveCommunityModerator failed: %v", err)
	}
	isMod, _ = db.IsCommunityModerator(ctx, c.Id, bob.Id)
	if isMod {
		t.Error("Expected bob to no longer be moderator")
	}
}

func TestCommunityFollowers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := createTestCommunity(t, db, "golang")
	alice := createTestPerson(t, db, "alice", false)
	bob := createTestPerson(t, db, "bob", false)

	if err := db.FollowCommunity(ctx, c.Id, alice.Id, false); err != nil {
		t.Fatalf("FollowCommunity failed: %v", err)
	}
	if err := db.FollowCommunity(ctx, c.Id, bob.Id, true); err != nil {
		t.Fatalf("FollowCommunity failed: %v", err)
	}

	followers, err := db.ReadCommunityFollowers(ctx, c.Id)
	if err != nil {
		t.Fatalf("ReadCommunityFollowers failed: %v", err)
	}
	if len(followers) != 1 {
		t.Fatalf("Expected 1 accepted follower, got %d", len(followers))
	}

	if err := db.AcceptCommunityFollow(ctx, c.Id, bob.Id); err != nil {
		t.Fatalf("AcceptCommunityFollow failed: %v", err)
	}
	followers, _ = db.ReadCommunityFollowers(ctx, c.Id)
	if len(followers) != 2 {
		t.Errorf("Expected 2 followers after accept, got %d", len(followers))
	}

	if err := db.UnfollowCommunity(ctx, c.Id, alice.Id); err != nil {
		t.Fatalf("UnfollowCommunity failed: %v", err)
	}
	followers, _ = db.ReadCommunityFollowers(ctx, c.Id)
	if len(followers) != 1 || followers[0].Id != bob.Id {
		t.Errorf("Expected only bob to remain, got %v", followers)
	}
}

func TestCommunityBans(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := createTestCommunity(t, db, "golang")
	alice := createTestPerson(t, db, "alice", false)

	banned, err := db.IsBannedFromCommunity(ctx, c.Id, alice.Id)
	if err != nil {
		t.Fatalf("IsBannedFromCommunity failed: %v", err)
	}
	if banned {
		t.Error("Expected alice not to be banned")
	}

	if err := db.BanFromCommunity(ctx, c.Id, alice.Id); err != nil {
		t.Fatalf("BanFromCommunity failed: %v", err)
	}
	banned, _ = db.IsBannedFromCommunity(ctx, c.Id, alice.Id)
	if !banned {
		t.Error("Expected alice to be banned")
	}
}

func TestPostUpsertKeepsOwnership(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := createTestCommunity(t, db, "golang")
	alice := createTestPerson(t, db, "alice", false)

	post, err := db.UpsertPost(ctx, &domain.Post{
		ObjectURI:   "https://example.com/post/1",
		Name:        "Hello",
		Body:        "first",
		CreatorId:   alice.Id,
		CommunityId: c.Id,
	})
	if err != nil {
		t.Fatalf("UpsertPost failed: %v", err)
	}
	if post.EditedAt != nil {
		t.Error("Expected EditedAt to be nil for new post")
	}

	edited := time.Now()
	updated, err := db.UpsertPost(ctx, &domain.Post{
		ObjectURI:   post.ObjectURI,
		Name:        "Hello again",
		Body:        "second",
		CreatorId:   uuid.New(),
		CommunityId: uuid.New(),
		EditedAt:    &edited,
	})
	if err != nil {
		t.Fatalf("UpsertPost failed: %v", err)
	}

	if updated.Id != post.Id {
		t.Errorf("Expected Id %s, got %s", post.Id, updated.Id)
	}
	if updated.Body != "second" {
		t.Errorf("Expected body 'second', got '%s'", updated.Body)
	}
	if updated.CreatorId != alice.Id {
		t.Errorf("Expected creator to stay %s, got %s", alice.Id, updated.CreatorId)
	}
	if updated.CommunityId != c.Id {
		t.Errorf("Expected community to stay %s, got %s", c.Id, updated.CommunityId)
	}
	if updated.EditedAt == nil {
		t.Error("Expected EditedAt to be set")
	}

	posts, err := db.ReadCommunityPosts(ctx, c.Id, 10, 0)
	if err != nil {
		t.Fatalf("ReadCommunityPosts failed: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("Expected 1 post, got %d", len(posts))
	}

	if _, err := db.UpdatePostDeleted(ctx, post.Id, true); err != nil {
		t.Fatalf("UpdatePostDeleted failed: %v", err)
	}
	posts, _ = db.ReadCommunityPosts(ctx, c.Id, 10, 0)
	if len(posts) != 0 {
		t.Errorf("Expected deleted post to be hidden, got %d", len(posts))
	}
}

func TestCommentParent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice := createTestPerson(t, db, "alice", false)
	postId := uuid.New()

	top, err := db.UpsertComment(ctx, &domain.Comment{
		ObjectURI: "https://example.com/comment/1",
		Content:   "top",
		CreatorId: alice.Id,
		PostId:    postId,
	})
	if err != nil {
		t.Fatalf("UpsertComment failed: %v", err)
	}
	if top.ParentId != nil {
		t.Error("Expected top level comment without parent")
	}

	reply, err := db.UpsertComment(ctx, &domain.Comment{
		ObjectURI: "https://example.com/comment/2",
		Content:   "reply",
		CreatorId: alice.Id,
		PostId:    postId,
		ParentId:  &top.Id,
	})
	if err != nil {
		t.Fatalf("UpsertComment failed: %v", err)
	}
	if reply.ParentId == nil || *reply.ParentId != top.Id {
		t.Errorf("Expected parent %s, got %v", top.Id, reply.ParentId)
	}

	deleted, err := db.UpdateCommentDeleted(ctx, reply.Id, true)
	if err != nil {
		t.Fatalf("UpdateCommentDeleted failed: %v", err)
	}
	if !deleted.Deleted {
		t.Error("Expected comment to be deleted")
	}
}

func TestPrivateMessageUpsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice := createTestPerson(t, db, "alice", false)
	bob := createTestPerson(t, db, "bob", true)

	m, err := db.UpsertPrivateMessage(ctx, &domain.PrivateMessage{
		ObjectURI:   "https://example.com/private_message/1",
		Content:     "hi bob",
		CreatorId:   alice.Id,
		RecipientId: bob.Id,
	})
	if err != nil {
		t.Fatalf("UpsertPrivateMessage failed: %v", err)
	}

	read, err := db.ReadPrivateMessageByURI(ctx, m.ObjectURI)
	if err != nil {
		t.Fatalf("ReadPrivateMessageByURI failed: %v", err)
	}
	if read.Content != "hi bob" {
		t.Errorf("Expected content 'hi bob', got '%s'", read.Content)
	}
	if read.RecipientId != bob.Id {
		t.Errorf("Expected recipient %s, got %s", bob.Id, read.RecipientId)
	}
}

func TestInsertActivityOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	uri := "https://remote.example/activities/create/1"

	inserted, err := db.InsertActivity(ctx, &domain.Activity{ActivityURI: uri, RawJSON: "{}"})
	if err != nil {
		t.Fatalf("InsertActivity failed: %v", err)
	}
	if !inserted {
		t.Error("Expected first insert to create the entry")
	}

	inserted, err = db.InsertActivity(ctx, &domain.Activity{ActivityURI: uri, RawJSON: `{"second":true}`})
	if err != nil {
		t.Fatalf("Second InsertActivity returned error: %v", err)
	}
	if inserted {
		t.Error("Expected second insert to be a no-op")
	}

	a, err := db.ReadActivityByURI(ctx, uri)
	if err != nil {
		t.Fatalf("ReadActivityByURI failed: %v", err)
	}
	if a.RawJSON != "{}" {
		t.Errorf("Expected first payload to be kept, got %s", a.RawJSON)
	}
}

func TestInsertActivityConcurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	uri := "https://remote.example/activities/create/race"
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.InsertActivity(ctx, &domain.Activity{ActivityURI: uri, RawJSON: "{}"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent InsertActivity failed: %v", err)
	}

	activities, err := db.ReadRecentActivities(ctx, 10)
	if err != nil {
		t.Fatalf("ReadRecentActivities failed: %v", err)
	}
	if len(activities) != 1 {
		t.Errorf("Expected exactly 1 ledger entry, got %d", len(activities))
	}
}

func TestDeliveryQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	item := &domain.DeliveryQueueItem{
		InboxURI:     "https://remote.example/inbox",
		ActivityJSON: `{"type":"Create"}`,
		ActorURI:     "https://example.com/u/alice",
	}
	if err := db.EnqueueDelivery(ctx, item); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	pending, err := db.ReadPendingDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending delivery, got %d", len(pending))
	}
	if pending[0].ActorURI != item.ActorURI {
		t.Errorf("Expected actor %s, got %s", item.ActorURI, pending[0].ActorURI)
	}

	if err := db.UpdateDeliveryAttempt(ctx, item.Id, 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("UpdateDeliveryAttempt failed: %v", err)
	}
	pending, _ = db.ReadPendingDeliveries(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("Expected delivery to be deferred, got %d pending", len(pending))
	}

	n, err := db.CountDeliveries(ctx)
	if err != nil {
		t.Fatalf("CountDeliveries failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected queue length 1, got %d", n)
	}

	if err := db.DeleteDelivery(ctx, item.Id); err != nil {
		t.Fatalf("DeleteDelivery failed: %v", err)
	}
	n, _ = db.CountDeliveries(ctx)
	if n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestModLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := createTestCommunity(t, db, "golang")
	mod := createTestPerson(t, db, "mod", true)

	err := db.InsertModLog(ctx, &domain.ModLogEntry{
		ModeratorId: mod.Id,
		CommunityId: c.Id,
		Action:      domain.ModActionRemovePost,
		TargetURI:   "https://example.com/post/1",
		Reason:      "spam",
		Removed:     true,
	})
	if err != nil {
		t.Fatalf("InsertModLog failed: %v", err)
	}

	entries, err := db.ReadModLog(ctx, c.Id, 10)
	if err != nil {
		t.Fatalf("ReadModLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != domain.ModActionRemovePost {
		t.Errorf("Expected action %s, got %s", domain.ModActionRemovePost, entries[0].Action)
	}
	if entries[0].Reason != "spam" {
		t.Errorf("Expected reason spam, got %s", entries[0].Reason)
	}
}
