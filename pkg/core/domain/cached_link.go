package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// CachedLink is the edge projection of a LinkRecord. It is disposable and
// always rebuildable from the record it was derived from.
type CachedLink struct {
	ID             string                 `json:"id"`
	DestinationURL string                 `json:"url"`
	Domain         string                 `json:"domain"`
	Slug           string                 `json:"slug"`
	GeoTargets     map[string]string      `json:"geo,omitempty"`
	DeviceTargets  map[DeviceClass]string `json:"dev,omitempty"`
	DeepLinks      *DeepLinks             `json:"deep,omitempty"`
	PasswordHash   string                 `json:"pwh,omitempty"`
	ExpiresAt      *time.Time             `json:"exp,omitempty"`
	ClickLimit     *int64                 `json:"lim,omitempty"`
	ClickCount     int64                  `json:"cnt,omitempty"` // snapshot, advisory only
	Guest          bool                   `json:"guest,omitempty"`
	ABTest         *CachedABTest          `json:"ab,omitempty"`
	Version        int64                  `json:"v"`
}

// CachedABTest is the frozen variant set of a running test.
type CachedABTest struct {
	ID       string    `json:"id"`
	Variants []Variant `json:"variants"`
}

// Project derives the edge projection of rec. running is the link's running
// test, or nil; tests in any other status are never projected.
func Project(rec *LinkRecord, running *ABTest) CachedLink {
	c := CachedLink{
		ID:             rec.ID,
		DestinationURL: rec.DestinationURL,
		Domain:         rec.Domain,
		Slug:           rec.Slug,
		PasswordHash:   rec.PasswordHash,
		ExpiresAt:      rec.ExpiresAt,
		ClickLimit:     rec.ClickLimit,
		ClickCount:     rec.ClickCount,
		Guest:          rec.IsGuest(),
		Version:        rec.Version(),
	}
	if len(rec.GeoTargets) > 0 {
		c.GeoTargets = rec.GeoTargets
	}
	if len(rec.DeviceTargets) > 0 {
		c.DeviceTargets = rec.DeviceTargets
	}
	if !rec.DeepLinks.IsZero() {
		dl := rec.DeepLinks
		c.DeepLinks = &dl
	}
	if running != nil && running.Status == ABTestRunning && running.LinkID == rec.ID {
		c.ABTest = &CachedABTest{
			ID:       running.ID,
			Variants: append([]Variant(nil), running.Variants...),
		}
	}
	return c
}

// Record expands the projection back into the fields of a LinkRecord the
// resolution pipeline reads. Projections never describe archived links.
func (c *CachedLink) Record() *LinkRecord {
	rec := &LinkRecord{
		ID:             c.ID,
		Domain:         c.Domain,
		Slug:           c.Slug,
		DestinationURL: c.DestinationURL,
		PasswordHash:   c.PasswordHash,
		ExpiresAt:      c.ExpiresAt,
		ClickLimit:     c.ClickLimit,
		ClickCount:     c.ClickCount,
		GeoTargets:     c.GeoTargets,
		DeviceTargets:  c.DeviceTargets,
		UpdatedAt:      time.Unix(0, c.Version),
	}
	if c.DeepLinks != nil {
		rec.DeepLinks = *c.DeepLinks
	}
	return rec
}

// RunningTest returns the projected running test, or nil.
func (c *CachedLink) RunningTest() *ABTest {
	if c.ABTest == nil {
		return nil
	}
	return &ABTest{
		ID:       c.ABTest.ID,
		LinkID:   c.ID,
		Status:   ABTestRunning,
		Variants: c.ABTest.Variants,
	}
}

// Marshal encodes the projection for the edge cache.
func (c *CachedLink) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCachedLink decodes an edge cache value.
func UnmarshalCachedLink(data []byte) (*CachedLink, error) {
	var c CachedLink
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
