package activitypub

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/deemkeen/agora/util"
	"github.com/google/uuid"
)

type PersonStore interface {
	UpsertPerson(ctx context.Context, p *domain.Person) (*domain.Person, error)
	ReadPersonByURI(ctx context.Context, uri string) (*domain.Person, error)
	ReadPersonById(ctx context.Context, id uuid.UUID) (*domain.Person, error)
	ReadLocalPersonByName(ctx context.Context, name string) (*domain.Person, error)
}

type CommunityStore interface {
	UpsertCommunity(ctx context.Context, c *domain.Community) (*domain.Community, error)
	ReadCommunityByURI(ctx context.Context, uri string) (*domain.Community, error)
	ReadCommunityById(ctx context.Context, id uuid.UUID) (*domain.Community, error)
	ReadLocalCommunityByName(ctx context.Context, name string) (*domain.Community, error)
	UpdateCommunityDeleted(ctx context.Context, id uuid.UUID, deleted bool) (*domain.Community, error)
	ReadCommunityModerators(ctx context.Context, communityId uuid.UUID) ([]domain.Person, error)
	IsCommunityModerator(ctx context.Context, communityId, personId uuid.UUID) (bool, error)
	JoinCommunityModerator(ctx context.Context, communityId, personId uuid.UUID) error
	LeaveCommunityModerator(ctx context.Context, communityId, personId uuid.UUID) error
	SetCommunityModerators(ctx context.Context, communityId uuid.UUID, personIds []uuid.UUID) error
	IsBannedFromCommunity(ctx context.Context, communityId, personId uuid.UUID) (bool, error)
	BanFromCommunity(ctx context.Context, communityId, personId uuid.UUID) error
	FollowCommunity(ctx context.Context, communityId, personId uuid.UUID, pending bool) error
	AcceptCommunityFollow(ctx context.Context, communityId, personId uuid.UUID) error
	UnfollowCommunity(ctx context.Context, communityId, personId uuid.UUID) error
	ReadCommunityFollowers(ctx context.Context, communityId uuid.UUID) ([]domain.Person, error)
}

type ContentStore interface {
	UpsertPost(ctx context.Context, p *domain.Post) (*domain.Post, error)
	ReadPostByURI(ctx context.Context, uri string) (*domain.Post, error)
	ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error)
	UpdatePostDeleted(ctx context.Context, id uuid.UUID, deleted bool) (*domain.Post, error)
	UpsertComment(ctx context.Context, c *domain.Comment) (*domain.Comment, error)
	ReadCommentByURI(ctx context.Context, uri string) (*domain.Comment, error)
	ReadCommentById(ctx context.Context, id uuid.UUID) (*domain.Comment, error)
	UpdateCommentDeleted(ctx context.Context, id uuid.UUID, deleted bool) (*domain.Comment, error)
	UpsertPrivateMessage(ctx context.Context, m *domain.PrivateMessage) (*domain.PrivateMessage, error)
	ReadPrivateMessageByURI(ctx context.Context, uri string) (*domain.PrivateMessage, error)
}

// LedgerStore is the activity ledger used for deduplication
type LedgerStore interface {
	ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error)
	InsertActivity(ctx context.Context, a *domain.Activity) (bool, error)
}

type DeliveryStore interface {
	EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(ctx context.Context, limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(ctx context.Context, id uuid.UUID) error
	CountDeliveries(ctx context.Context) (int, error)
}

type ModLogStore interface {
	InsertModLog(ctx context.Context, e *domain.ModLogEntry) error
}

// Store is everything the federation core reads and writes. *db.DB implements it.
type Store interface {
	PersonStore
	CommunityStore
	ContentStore
	LedgerStore
	DeliveryStore
	ModLogStore
}

// Fetcher retrieves the JSON representation of a remote object
type Fetcher interface {
	Fetch(ctx context.Context, iri string) ([]byte, error)
}

// Notifier receives events about applied activities
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}

// Instance holds everything federation handlers need. It is passed
// explicitly instead of living in package level state.
type Instance struct {
	Store    Store
	Conf     *util.AppConfig
	Fetcher  Fetcher
	Notifier Notifier
}

func NewInstance(store Store, conf *util.AppConfig, fetcher Fetcher, notifier Notifier) *Instance {
	return &Instance{
		Store:    store,
		Conf:     conf,
		Fetcher:  fetcher,
		Notifier: notifier,
	}
}

// Hostname is the domain this instance federates under
func (inst *Instance) Hostname() string {
	return inst.Conf.Conf.SslDomain
}

// NewBudget returns a fresh fetch budget for one request
func (inst *Instance) NewBudget() *FetchBudget {
	limit := inst.Conf.Conf.FetchLimit
	if limit <= 0 {
		limit = util.DefaultFetchLimit
	}
	return NewFetchBudget(limit)
}

// LocalURL builds an absolute URL on this instance
func (inst *Instance) LocalURL(format string, args ...any) string {
	return "https://" + inst.Hostname() + fmt.Sprintf(format, args...)
}

// IsLocalIRI reports whether iri is hosted on this instance
func (inst *Instance) IsLocalIRI(iri string) bool {
	return hostOf(iri) == inst.Hostname()
}

// notify emits an event. Delivery is best effort, failures are logged only.
func (inst *Instance) notify(ctx context.Context, event domain.Event) {
	if inst.Notifier == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := inst.Notifier.Notify(ctx, event); err != nil {
		log.Warnf("Notify: Failed to emit %s for %s: %v", event.Kind, event.ObjectURI, err)
	}
}

func hostOf(iri string) string {
	u, err := url.Parse(iri)
	if err != nil {
		return ""
	}
	return u.Host
}
