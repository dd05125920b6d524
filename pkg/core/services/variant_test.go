package services

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

func testAB(weights ...int) *domain.ABTest {
	ids := []string{"a", "b", "c", "d"}
	t := &domain.ABTest{ID: "t1", LinkID: "l1", Status: domain.ABTestRunning}
	for i, w := range weights {
		t.Variants = append(t.Variants, domain.Variant{ID: ids[i], URL: "https://" + ids[i] + ".example", Weight: w})
	}
	return t
}

func TestVariantSelector_StickyAssignment(t *testing.T) {
	s := NewVariantSelector(rand.New(rand.NewPCG(7, 7)))
	test := testAB(50, 50)

	v, a := s.Select(test, "t1.b")
	assert.Equal(t, "b", v.ID)
	assert.False(t, a.Fresh)
	assert.Equal(t, "t1.b", a.Value)

	// a sticky variant is honoured even once its weight is zero
	v, _ = s.Select(testAB(100, 0), "t1.b")
	assert.Equal(t, "b", v.ID)
}

func TestVariantSelector_FreshDraws(t *testing.T) {
	s := NewVariantSelector(rand.New(rand.NewPCG(7, 7)))
	test := testAB(50, 50)

	for _, cookie := range []string{"", "t2.a", "t1.zzz", "garbage", "t1.", ".a"} {
		v, a := s.Select(test, cookie)
		assert.True(t, a.Fresh, "cookie %q", cookie)
		assert.Equal(t, FormatAssignment("t1", v.ID), a.Value)
		assert.Equal(t, "t1", a.TestID)
	}
}

func TestVariantSelector_Distribution(t *testing.T) {
	s := NewVariantSelector(rand.New(rand.NewPCG(1, 2)))
	test := testAB(70, 20, 10, 0)

	const draws = 100000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		v, _ := s.Select(test, "")
		counts[v.ID]++
	}

	assert.InDelta(t, 0.70, float64(counts["a"])/draws, 0.01)
	assert.InDelta(t, 0.20, float64(counts["b"])/draws, 0.01)
	assert.InDelta(t, 0.10, float64(counts["c"])/draws, 0.01)
	assert.Zero(t, counts["d"], "zero weight variants are never drawn")
}

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		in      string
		testID  string
		variant string
		ok      bool
	}{
		{"t1.a", "t1", "a", true},
		{"550e8400-e29b-41d4-a716-446655440000.v-1", "550e8400-e29b-41d4-a716-446655440000", "v-1", true},
		{"", "", "", false},
		{"t1", "", "", false},
		{".a", "", "", false},
		{"t1.", "", "", false},
	}
	for _, tt := range tests {
		testID, variant, ok := ParseAssignment(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.testID, testID, tt.in)
		assert.Equal(t, tt.variant, variant, tt.in)
	}
}
