package domain

import (
	"fmt"
	"time"
)

type ABTestStatus string

const (
	ABTestDraft     ABTestStatus = "draft"
	ABTestRunning   ABTestStatus = "running"
	ABTestPaused    ABTestStatus = "paused"
	ABTestCompleted ABTestStatus = "completed"
)

// Variant is one weighted destination of an A/B test.
type Variant struct {
	ID     string `json:"id" validate:"omitempty,max=64,variant_id"`
	Name   string `json:"name" validate:"max=128"`
	URL    string `json:"url" validate:"required,http_url"`
	Weight int    `json:"weight" validate:"min=0,max=100"`
}

// ABTest splits traffic of a single link across weighted variants.
type ABTest struct {
	ID              string       `json:"id"`
	LinkID          string       `json:"link_id"`
	Status          ABTestStatus `json:"status"`
	Variants        []Variant    `json:"variants"`
	WinnerVariantID string       `json:"winner_variant_id,omitempty"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ValidateWeights enforces unique variant ids and weights summing to 100.
func ValidateWeights(variants []Variant) error {
	if len(variants) < 2 {
		return fmt.Errorf("%w: at least two variants required", ErrInvalidWeights)
	}
	seen := make(map[string]struct{}, len(variants))
	sum := 0
	for _, v := range variants {
		if v.ID == "" {
			return fmt.Errorf("%w: variant id is empty", ErrInvalidWeights)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: duplicate variant id %q", ErrInvalidWeights, v.ID)
		}
		seen[v.ID] = struct{}{}
		if v.Weight < 0 || v.Weight > 100 {
			return fmt.Errorf("%w: weight %d out of range", ErrInvalidWeights, v.Weight)
		}
		sum += v.Weight
	}
	if sum != 100 {
		return fmt.Errorf("%w: weights sum to %d, want 100", ErrInvalidWeights, sum)
	}
	return nil
}

// Variant returns the variant with the given id.
func (t *ABTest) Variant(id string) (Variant, bool) {
	for _, v := range t.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Frozen reports whether variant definitions can no longer change.
func (t *ABTest) Frozen() bool {
	return t.StartedAt != nil || t.Status != ABTestDraft
}

// SetVariants replaces the variant list. Only drafts accept edits.
func (t *ABTest) SetVariants(variants []Variant, now time.Time) error {
	if t.Frozen() {
		return fmt.Errorf("%w: variants are frozen once the test has started", ErrInvalidTransition)
	}
	t.Variants = append([]Variant(nil), variants...)
	t.UpdatedAt = now
	return nil
}

// Start moves a draft to running after re-validating the weights.
func (t *ABTest) Start(now time.Time) error {
	if t.Status != ABTestDraft {
		return fmt.Errorf("%w: cannot start a %s test", ErrInvalidTransition, t.Status)
	}
	if err := ValidateWeights(t.Variants); err != nil {
		return err
	}
	t.Status = ABTestRunning
	t.StartedAt = &now
	t.UpdatedAt = now
	return nil
}

func (t *ABTest) Pause(now time.Time) error {
	if t.Status != ABTestRunning {
		return fmt.Errorf("%w: cannot pause a %s test", ErrInvalidTransition, t.Status)
	}
	t.Status = ABTestPaused
	t.UpdatedAt = now
	return nil
}

func (t *ABTest) Resume(now time.Time) error {
	if t.Status != ABTestPaused {
		return fmt.Errorf("%w: cannot resume a %s test", ErrInvalidTransition, t.Status)
	}
	t.Status = ABTestRunning
	t.UpdatedAt = now
	return nil
}

// Complete records the winner and ends the test. Completed is terminal.
func (t *ABTest) Complete(winnerID string, now time.Time) error {
	if t.Status != ABTestRunning && t.Status != ABTestPaused {
		return fmt.Errorf("%w: cannot complete a %s test", ErrInvalidTransition, t.Status)
	}
	if _, ok := t.Variant(winnerID); !ok {
		return fmt.Errorf("%w: unknown winner variant %q", ErrInvalidTransition, winnerID)
	}
	t.Status = ABTestCompleted
	t.WinnerVariantID = winnerID
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}
