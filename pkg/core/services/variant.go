package services

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

// VariantSelector assigns visitors to weighted variants. Assignments are
// sticky through a cookie value of the form "<testID>.<variantID>".
type VariantSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewVariantSelector(rng *rand.Rand) *VariantSelector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &VariantSelector{rng: rng}
}

// Select returns the variant for the visitor. Weights are assumed to sum to
// 100; that is enforced when the test is started.
func (s *VariantSelector) Select(test *domain.ABTest, cookie string) (domain.Variant, *domain.Assignment) {
	if testID, variantID, ok := ParseAssignment(cookie); ok && testID == test.ID {
		if v, found := test.Variant(variantID); found {
			return v, &domain.Assignment{TestID: test.ID, VariantID: v.ID, Value: cookie}
		}
	}

	v := s.draw(test.Variants)
	return v, &domain.Assignment{
		TestID:    test.ID,
		VariantID: v.ID,
		Value:     FormatAssignment(test.ID, v.ID),
		Fresh:     true,
	}
}

func (s *VariantSelector) draw(variants []domain.Variant) domain.Variant {
	s.mu.Lock()
	r := s.rng.Float64() * 100
	s.mu.Unlock()

	cumulative := 0.0
	for _, v := range variants {
		cumulative += float64(v.Weight)
		if cumulative > r {
			return v
		}
	}
	// only reachable when weights sum below 100
	return variants[len(variants)-1]
}

func FormatAssignment(testID, variantID string) string {
	return testID + "." + variantID
}

func ParseAssignment(v string) (testID, variantID string, ok bool) {
	testID, variantID, ok = strings.Cut(v, ".")
	if !ok || testID == "" || variantID == "" {
		return "", "", false
	}
	return testID, variantID, true
}
