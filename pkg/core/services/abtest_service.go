package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

// ABTestService drives the test lifecycle. Any change that alters what the
// link resolves to is followed by a re-projection of the owning link.
type ABTestService struct {
	tests     ports.ABTestStore
	links     ports.LinkStore
	projector ports.Projector
	now       func() time.Time
}

func NewABTestService(tests ports.ABTestStore, links ports.LinkStore, projector ports.Projector) *ABTestService {
	return &ABTestService{tests: tests, links: links, projector: projector, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *ABTestService) WithClock(now func() time.Time) *ABTestService {
	s.now = now
	return s
}

// Create opens a draft test on a link. A link has at most one test that is
// not completed; the store enforces it, the lookup here only fails early.
func (s *ABTestService) Create(ctx context.Context, linkID string, variants []domain.Variant) (*domain.ABTest, error) {
	link, err := s.links.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}
	active, err := s.tests.GetActiveABTest(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, domain.ErrTestActive
	}

	vs, err := prepareVariants(variants)
	if err != nil {
		return nil, err
	}

	now := s.now()
	test := &domain.ABTest{
		ID:        uuid.NewString(),
		LinkID:    linkID,
		Status:    domain.ABTestDraft,
		Variants:  vs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tests.CreateABTest(ctx, test); err != nil {
		return nil, err
	}
	return test, nil
}

func (s *ABTestService) Get(ctx context.Context, id string) (*domain.ABTest, error) {
	test, err := s.tests.GetABTest(ctx, id)
	if err != nil {
		return nil, err
	}
	if test == nil {
		return nil, domain.ErrTestNotFound
	}
	return test, nil
}

// SetVariants edits a draft. Drafts are never projected, so nothing is
// re-projected here.
func (s *ABTestService) SetVariants(ctx context.Context, id string, variants []domain.Variant) (*domain.ABTest, error) {
	vs, err := prepareVariants(variants)
	if err != nil {
		return nil, err
	}
	test, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := *test
	if err := test.SetVariants(vs, s.now()); err != nil {
		return nil, err
	}
	if err := s.tests.UpdateABTest(ctx, test, &prev); err != nil {
		return nil, err
	}
	return test, nil
}

func (s *ABTestService) Start(ctx context.Context, id string) (*domain.ABTest, error) {
	return s.transition(ctx, id, func(t *domain.ABTest, now time.Time) error { return t.Start(now) })
}

func (s *ABTestService) Pause(ctx context.Context, id string) (*domain.ABTest, error) {
	return s.transition(ctx, id, func(t *domain.ABTest, now time.Time) error { return t.Pause(now) })
}

func (s *ABTestService) Resume(ctx context.Context, id string) (*domain.ABTest, error) {
	return s.transition(ctx, id, func(t *domain.ABTest, now time.Time) error { return t.Resume(now) })
}

// Complete ends the test. The link goes back to its own destination; the
// winner is recorded but not applied to the link.
func (s *ABTestService) Complete(ctx context.Context, id, winnerVariantID string) (*domain.ABTest, error) {
	return s.transition(ctx, id, func(t *domain.ABTest, now time.Time) error { return t.Complete(winnerVariantID, now) })
}

func (s *ABTestService) transition(ctx context.Context, id string, apply func(*domain.ABTest, time.Time) error) (*domain.ABTest, error) {
	test, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := *test
	if err := apply(test, s.now()); err != nil {
		return nil, err
	}
	if err := s.tests.UpdateABTest(ctx, test, &prev); err != nil {
		return nil, err
	}
	s.reproject(ctx, test.LinkID)
	return test, nil
}

func (s *ABTestService) reproject(ctx context.Context, linkID string) {
	log := logging.Ctx(ctx).With().Str("link_id", linkID).Logger()

	link, err := s.links.Touch(ctx, linkID)
	if err != nil {
		log.Error().Err(err).Msg("could not bump link version after ab test change")
		return
	}
	if st := s.projector.OnUpdate(ctx, nil, link); st != domain.SyncApplied {
		log.Warn().Str("status", st.String()).Msg("ab test change not projected")
	}
}

func prepareVariants(variants []domain.Variant) ([]domain.Variant, error) {
	out := make([]domain.Variant, len(variants))
	for i, v := range variants {
		if v.ID == "" {
			v.ID = uuid.NewString()[:8]
		}
		if err := validate.Struct(v); err != nil {
			return nil, fmt.Errorf("%w: variant %d: %v", domain.ErrInvalidWeights, i, err)
		}
		out[i] = v
	}
	return out, nil
}
