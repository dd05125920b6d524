package domain

import "time"

// SyncStatus reports what a projection write did to the edge cache.
type SyncStatus int

const (
	SyncApplied  SyncStatus = iota
	SyncStale               // discarded, the cache already holds a newer version
	SyncDegraded            // the edge cache could not be brought in line
	SyncSkipped             // nothing to do
)

func (s SyncStatus) String() string {
	switch s {
	case SyncApplied:
		return "applied"
	case SyncStale:
		return "stale"
	case SyncDegraded:
		return "degraded"
	case SyncSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

type MutationKind int

const (
	MutationCreate MutationKind = iota
	MutationUpdate
	MutationArchiveOrDelete
)

// Mutation is one committed store write handed to the projector.
type Mutation struct {
	Kind   MutationKind
	Before *LinkRecord // set for updates
	Record *LinkRecord
}

// Click is what the resolver hands to the click recorder.
type Click struct {
	LinkID    string
	VariantID string
	Country   string
	Device    DeviceClass
	Counted   bool // the authoritative counter was already incremented
	At        time.Time
}

// LinkInput is the writable part of a link.
type LinkInput struct {
	Domain         string                 `json:"domain" validate:"required,hostname_rfc1123,max=253"`
	Slug           string                 `json:"slug" validate:"omitempty,max=128,excludesall=/:?#"`
	DestinationURL string                 `json:"destination_url" validate:"required,http_url"`
	OwnerID        *string                `json:"owner_id,omitempty"`
	Password       string                 `json:"password,omitempty" validate:"omitempty,min=4,max=72"`
	ClearPassword  bool                   `json:"clear_password,omitempty"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
	ClickLimit     *int64                 `json:"click_limit,omitempty" validate:"omitempty,gt=0"`
	GeoTargets     map[string]string      `json:"geo_targets,omitempty" validate:"omitempty,dive,keys,len=2,uppercase,endkeys,http_url"`
	DeviceTargets  map[DeviceClass]string `json:"device_targets,omitempty" validate:"omitempty,dive,keys,oneof=desktop mobile tablet,endkeys,http_url"`
	DeepLinks      DeepLinks              `json:"deep_links,omitempty"`
}

// MutationResult is returned by the write path. A Degraded cache status on an
// archive or delete means the store write succeeded but the edge cache may
// still serve the old projection until its TTL runs out.
type MutationResult struct {
	Link  *LinkRecord `json:"link"`
	Cache SyncStatus  `json:"-"`
}

func (r *MutationResult) Degraded() bool {
	return r.Cache == SyncDegraded
}

// ImportResult is the per-record outcome of a bulk import.
type ImportResult struct {
	Key   string     `json:"key"`
	Cache SyncStatus `json:"-"`
	Err   error      `json:"-"`
}
