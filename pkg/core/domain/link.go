package domain

import (
	"strings"
	"time"
)

// DeviceClass is the coarse form factor of the visiting client.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
)

// Platform is the client operating system, used only for deep links.
type Platform string

const (
	PlatformOther   Platform = ""
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// DeepLinks holds per-platform app link overrides.
type DeepLinks struct {
	IOS     string `json:"ios,omitempty" validate:"omitempty,uri"`
	Android string `json:"android,omitempty" validate:"omitempty,uri"`
}

// IsZero reports whether no deep link is configured.
func (d DeepLinks) IsZero() bool {
	return d.IOS == "" && d.Android == ""
}

// LinkRecord is the durable link definition and the source of truth for
// every projection held in the edge cache.
type LinkRecord struct {
	ID             string                 `json:"id"`
	Domain         string                 `json:"domain"`
	Slug           string                 `json:"slug"`
	DestinationURL string                 `json:"destination_url"`
	OwnerID        *string                `json:"owner_id,omitempty"` // nil for guest links
	PasswordHash   string                 `json:"password_hash,omitempty"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
	ClickLimit     *int64                 `json:"click_limit,omitempty"`
	ClickCount     int64                  `json:"click_count"`
	GeoTargets     map[string]string      `json:"geo_targets,omitempty"`
	DeviceTargets  map[DeviceClass]string `json:"device_targets,omitempty"`
	DeepLinks      DeepLinks              `json:"deep_links,omitempty"`
	IsArchived     bool                   `json:"is_archived"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// IsGuest reports whether the link has no owning account.
func (l *LinkRecord) IsGuest() bool {
	return l.OwnerID == nil
}

// Key returns the edge cache key for the link.
func (l *LinkRecord) Key() string {
	return CacheKey(l.Domain, l.Slug)
}

// Expired reports whether the link has an expiry at or before now.
func (l *LinkRecord) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Version is the ordering stamp carried by every projection write.
func (l *LinkRecord) Version() int64 {
	return l.UpdatedAt.UnixNano()
}

// Resolvable reports whether the link may answer a redirect at all.
func (l *LinkRecord) Resolvable(now time.Time) bool {
	return !l.IsArchived && !l.Expired(now)
}

// CacheKey builds the "{domain}:{slug}" key. Matching is case-sensitive.
func CacheKey(domain, slug string) string {
	return domain + ":" + slug
}

const (
	MaxDomainLength = 253
	MaxSlugLength   = 128
)

// ValidKey reports whether an untrusted domain and slug pair is acceptable
// as a lookup key.
func ValidKey(domain, slug string) bool {
	if domain == "" || slug == "" {
		return false
	}
	if len(domain) > MaxDomainLength || len(slug) > MaxSlugLength {
		return false
	}
	if strings.ContainsAny(domain, " \t\r\n/:") {
		return false
	}
	return !strings.ContainsAny(slug, " \t\r\n/:?#")
}
