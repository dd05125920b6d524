package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

// GuestLinkLifetime is the default expiry of links without an owner.
const GuestLinkLifetime = 24 * time.Hour

var validate = newValidator()

// variantIDPattern keeps variant ids safe to embed in the assignment cookie.
var variantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("variant_id", func(fl validator.FieldLevel) bool {
		return variantIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// LinkService is the link write path. Every store write is followed by the
// matching projector hook, and the hook's status is returned to the caller.
type LinkService struct {
	repo      ports.LinkStore
	projector ports.Projector
	stats     ports.ClickStats
	now       func() time.Time
}

func NewLinkService(repo ports.LinkStore, projector ports.Projector, stats ports.ClickStats) *LinkService {
	return &LinkService{repo: repo, projector: projector, stats: stats, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *LinkService) WithClock(now func() time.Time) *LinkService {
	s.now = now
	return s
}

func (s *LinkService) Create(ctx context.Context, in domain.LinkInput) (*domain.MutationResult, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	for in.Slug == "" || reservedSlugs[in.Slug] {
		code, err := generateShortCode(7)
		if err != nil {
			return nil, err
		}
		in.Slug = code
	}

	now := s.now()
	link := &domain.LinkRecord{
		ID:             uuid.NewString(),
		Domain:         in.Domain,
		Slug:           in.Slug,
		DestinationURL: in.DestinationURL,
		OwnerID:        in.OwnerID,
		ExpiresAt:      in.ExpiresAt,
		ClickLimit:     in.ClickLimit,
		GeoTargets:     in.GeoTargets,
		DeviceTargets:  in.DeviceTargets,
		DeepLinks:      in.DeepLinks,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if link.IsGuest() && link.ExpiresAt == nil {
		exp := now.Add(GuestLinkLifetime)
		link.ExpiresAt = &exp
	}
	if in.Password != "" {
		hash, err := hashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	}

	if err := s.repo.Create(ctx, link); err != nil {
		return nil, err
	}

	status := s.projector.OnCreate(ctx, link)
	return &domain.MutationResult{Link: link, Cache: status}, nil
}

// Update replaces the writable fields of a link. An empty password keeps
// the current one unless ClearPassword is set.
func (s *LinkService) Update(ctx context.Context, id string, in domain.LinkInput) (*domain.MutationResult, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	link, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}

	link.Domain = in.Domain
	if in.Slug != "" {
		link.Slug = in.Slug
	}
	link.DestinationURL = in.DestinationURL
	if in.OwnerID != nil {
		link.OwnerID = in.OwnerID
	}
	if in.ExpiresAt != nil || !link.IsGuest() {
		link.ExpiresAt = in.ExpiresAt
	}
	link.ClickLimit = in.ClickLimit
	link.GeoTargets = in.GeoTargets
	link.DeviceTargets = in.DeviceTargets
	link.DeepLinks = in.DeepLinks
	switch {
	case in.Password != "":
		hash, err := hashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	case in.ClearPassword:
		link.PasswordHash = ""
	}

	before, err := s.repo.Update(ctx, link)
	if err != nil {
		return nil, err
	}

	status := s.projector.OnUpdate(ctx, before, link)
	return &domain.MutationResult{Link: link, Cache: status}, nil
}

func (s *LinkService) Archive(ctx context.Context, id string) (*domain.MutationResult, error) {
	link, err := s.repo.Archive(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.removed(ctx, link), nil
}

func (s *LinkService) Delete(ctx context.Context, id string) (*domain.MutationResult, error) {
	link, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.removed(ctx, link), nil
}

func (s *LinkService) removed(ctx context.Context, link *domain.LinkRecord) *domain.MutationResult {
	status := s.projector.OnArchiveOrDelete(ctx, link)
	if status == domain.SyncDegraded {
		logging.Ctx(ctx).Warn().Str("link_id", link.ID).Str("key", link.Key()).
			Msg("link removed but edge cache delete not confirmed")
	}
	return &domain.MutationResult{Link: link, Cache: status}
}

// Import writes each record and projects it before moving to the next, so a
// failure part way leaves every earlier record consistent. Records whose key
// already exists update that link in place.
func (s *LinkService) Import(ctx context.Context, links []domain.LinkRecord) ([]domain.ImportResult, error) {
	results := make([]domain.ImportResult, 0, len(links))
	for i := range links {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		rec := links[i]
		res := domain.ImportResult{Key: rec.Key()}

		m, err := s.importOne(ctx, &rec)
		switch {
		case err != nil:
			res.Err = err
			res.Cache = domain.SyncSkipped
		case rec.IsArchived:
			// archived rows never own the key, so the edge has nothing to learn
			res.Cache = domain.SyncSkipped
		default:
			res.Cache = s.projector.OnBulkMutation(ctx, []domain.Mutation{m})[0]
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *LinkService) importOne(ctx context.Context, rec *domain.LinkRecord) (domain.Mutation, error) {
	if !domain.ValidKey(rec.Domain, rec.Slug) || reservedSlugs[rec.Slug] || rec.DestinationURL == "" {
		return domain.Mutation{}, fmt.Errorf("%w: %q", domain.ErrInvalidLink, rec.Key())
	}
	if rec.IsArchived {
		return s.importArchived(ctx, rec)
	}

	existing, err := s.repo.GetByDomainSlug(ctx, rec.Domain, rec.Slug)
	if err != nil {
		return domain.Mutation{}, err
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		before, err := s.repo.Update(ctx, rec)
		if err != nil {
			return domain.Mutation{}, err
		}
		return domain.Mutation{Kind: domain.MutationUpdate, Before: before, Record: rec}, nil
	}

	now := s.now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := s.repo.Create(ctx, rec); err != nil {
		return domain.Mutation{}, err
	}
	return domain.Mutation{Kind: domain.MutationCreate, Record: rec}, nil
}

// importArchived inserts an archived record by id. It never matches a live
// link by key: the key may since have been reused.
func (s *LinkService) importArchived(ctx context.Context, rec *domain.LinkRecord) (domain.Mutation, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else {
		existing, err := s.repo.GetByID(ctx, rec.ID)
		if err != nil {
			return domain.Mutation{}, err
		}
		if existing != nil {
			return domain.Mutation{}, fmt.Errorf("%w: %s", domain.ErrLinkExists, rec.ID)
		}
	}

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := s.repo.Create(ctx, rec); err != nil {
		return domain.Mutation{}, err
	}
	return domain.Mutation{Kind: domain.MutationCreate, Record: rec}, nil
}

func (s *LinkService) Get(ctx context.Context, id string) (*domain.LinkRecord, error) {
	link, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}
	return link, nil
}

func (s *LinkService) List(ctx context.Context, page, limit int, search string) ([]domain.LinkRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	offset := (page - 1) * limit

	filters := map[string]interface{}{
		"search": search,
	}

	links, err := s.repo.List(ctx, limit, offset, filters)
	if err != nil {
		return nil, 0, err
	}

	count, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	return links, count, nil
}

func (s *LinkService) Stats(ctx context.Context, id string) (*domain.LinkStats, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.stats == nil {
		return nil, errors.New("click statistics are not available with this sink")
	}
	return s.stats.GetLinkStats(ctx, id)
}

func validateInput(in *domain.LinkInput) error {
	in.Domain = strings.ToLower(strings.TrimSpace(in.Domain))
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidLink, err)
	}
	if in.Slug != "" && !domain.ValidKey(in.Domain, in.Slug) {
		return fmt.Errorf("%w: %q is not a valid key", domain.ErrInvalidLink, domain.CacheKey(in.Domain, in.Slug))
	}
	if reservedSlugs[in.Slug] {
		return fmt.Errorf("%w: slug %q is reserved", domain.ErrInvalidLink, in.Slug)
	}
	return nil
}

// reservedSlugs are served by the router itself and would never redirect.
var reservedSlugs = map[string]bool{
	"healthz": true,
	"metrics": true,
}

func hashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateShortCode(length int) (string, error) {
	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}
