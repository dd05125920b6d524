package ports

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

// LinkStore is the durable source of truth for links. It enforces
// (domain, slug) uniqueness among resolvable links and serializes
// concurrent mutations of the same link.
type LinkStore interface {
	GetByDomainSlug(ctx context.Context, domainName, slug string) (*domain.LinkRecord, error) // nil, nil when absent
	GetByID(ctx context.Context, id string) (*domain.LinkRecord, error)
	GetRunningABTest(ctx context.Context, linkID string) (*domain.ABTest, error)

	Create(ctx context.Context, link *domain.LinkRecord) error
	Update(ctx context.Context, link *domain.LinkRecord) (before *domain.LinkRecord, err error)
	// Touch bumps updated_at without changing the link, so a re-projection
	// carries a newer version.
	Touch(ctx context.Context, id string) (*domain.LinkRecord, error)
	Archive(ctx context.Context, id string) (*domain.LinkRecord, error)
	Delete(ctx context.Context, id string) (*domain.LinkRecord, error) // cascades AB tests
	List(ctx context.Context, limit, offset int, filters map[string]interface{}) ([]domain.LinkRecord, error)
	Count(ctx context.Context, filters map[string]interface{}) (int64, error)
	Dump(ctx context.Context) ([]domain.LinkRecord, error) // For migration
	ListExpiredBetween(ctx context.Context, from, to time.Time) ([]domain.LinkRecord, error)
}

// ClickCounter is the authoritative per-link click counter. Increments are
// linearizable per link.
type ClickCounter interface {
	ClickCount(ctx context.Context, linkID string) (int64, error)
	IncrementClickCount(ctx context.Context, linkID string) (int64, error)
	// TryIncrementClickCount increments only while the count is below limit.
	TryIncrementClickCount(ctx context.Context, linkID string, limit int64) (newCount int64, ok bool, err error)
}

type ABTestStore interface {
	CreateABTest(ctx context.Context, test *domain.ABTest) error
	GetABTest(ctx context.Context, id string) (*domain.ABTest, error)
	GetActiveABTest(ctx context.Context, linkID string) (*domain.ABTest, error) // draft, running or paused
	// UpdateABTest writes test only while the stored row still matches prev,
	// the state it was derived from. A lost race is ErrInvalidTransition.
	UpdateABTest(ctx context.Context, test, prev *domain.ABTest) error
}

// ClickSink receives click events. Nothing waits on it from the redirect path.
type ClickSink interface {
	Append(ctx context.Context, event *domain.ClickEvent) error
}

// ClickStats is implemented by sinks that can aggregate what they stored.
type ClickStats interface {
	GetLinkStats(ctx context.Context, linkID string) (*domain.LinkStats, error)
}

// EdgeCache is the replicated key/value store read on the redirect path.
// Writes are guarded by version: Put is applied only when version is newer
// than what the key holds (value or tombstone), and Delete leaves a
// tombstone at version so late, stale Puts are rejected.
type EdgeCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // domain.ErrCacheMiss when absent
	Put(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (applied bool, err error)
	Delete(ctx context.Context, key string, version int64) error
}

// Resolver answers redirect requests.
type Resolver interface {
	Resolve(ctx context.Context, domainName, slug string, rc domain.RequestContext) (domain.ResolutionResult, error)
}

// Projector keeps the edge cache coherent with the link store.
type Projector interface {
	OnCreate(ctx context.Context, rec *domain.LinkRecord) domain.SyncStatus
	OnUpdate(ctx context.Context, before, after *domain.LinkRecord) domain.SyncStatus
	OnArchiveOrDelete(ctx context.Context, rec *domain.LinkRecord) domain.SyncStatus
	OnBulkMutation(ctx context.Context, mutations []domain.Mutation) []domain.SyncStatus
}

// ClickRecorder accepts clicks after the redirect decision.
type ClickRecorder interface {
	Record(click domain.Click)
}

// LinkService defines the link write path
type LinkService interface {
	Create(ctx context.Context, in domain.LinkInput) (*domain.MutationResult, error)
	Update(ctx context.Context, id string, in domain.LinkInput) (*domain.MutationResult, error)
	Archive(ctx context.Context, id string) (*domain.MutationResult, error)
	Delete(ctx context.Context, id string) (*domain.MutationResult, error)
	Import(ctx context.Context, links []domain.LinkRecord) ([]domain.ImportResult, error)
	Get(ctx context.Context, id string) (*domain.LinkRecord, error)
	List(ctx context.Context, page, limit int, search string) ([]domain.LinkRecord, int64, error)
	Stats(ctx context.Context, id string) (*domain.LinkStats, error)
}

// ABTestService defines the A/B test lifecycle
type ABTestService interface {
	Create(ctx context.Context, linkID string, variants []domain.Variant) (*domain.ABTest, error)
	Get(ctx context.Context, id string) (*domain.ABTest, error)
	SetVariants(ctx context.Context, id string, variants []domain.Variant) (*domain.ABTest, error)
	Start(ctx context.Context, id string) (*domain.ABTest, error)
	Pause(ctx context.Context, id string) (*domain.ABTest, error)
	Resume(ctx context.Context, id string) (*domain.ABTest, error)
	Complete(ctx context.Context, id, winnerVariantID string) (*domain.ABTest, error)
}
