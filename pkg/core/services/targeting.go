package services

import "github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"

// TargetResolver is one tier of the targeting precedence chain. It returns
// the override URL and true when it matches the request.
type TargetResolver interface {
	Name() string
	Match(rec *domain.LinkRecord, rc domain.RequestContext) (string, bool)
}

// DefaultTargeting is the precedence order: deep link, geo, device. The
// base URL is the fallback when no tier matches.
var DefaultTargeting = TargetChain{DeepLinkTarget{}, GeoTarget{}, DeviceTarget{}}

type TargetChain []TargetResolver

// Apply returns the first matching override, or base. tier is the name of
// the matching resolver, empty for the base.
func (c TargetChain) Apply(rec *domain.LinkRecord, rc domain.RequestContext, base string) (url, tier string) {
	for _, r := range c {
		if u, ok := r.Match(rec, rc); ok {
			return u, r.Name()
		}
	}
	return base, ""
}

// DeepLinkTarget matches iOS and Android clients with a configured app link.
type DeepLinkTarget struct{}

func (DeepLinkTarget) Name() string { return "deep_link" }

func (DeepLinkTarget) Match(rec *domain.LinkRecord, rc domain.RequestContext) (string, bool) {
	switch rc.Platform {
	case domain.PlatformIOS:
		return rec.DeepLinks.IOS, rec.DeepLinks.IOS != ""
	case domain.PlatformAndroid:
		return rec.DeepLinks.Android, rec.DeepLinks.Android != ""
	}
	return "", false
}

// GeoTarget matches the request country exactly. No region fallback.
type GeoTarget struct{}

func (GeoTarget) Name() string { return "geo" }

func (GeoTarget) Match(rec *domain.LinkRecord, rc domain.RequestContext) (string, bool) {
	if rc.Country == "" {
		return "", false
	}
	u, ok := rec.GeoTargets[rc.Country]
	return u, ok && u != ""
}

// DeviceTarget matches the request device class exactly.
type DeviceTarget struct{}

func (DeviceTarget) Name() string { return "device" }

func (DeviceTarget) Match(rec *domain.LinkRecord, rc domain.RequestContext) (string, bool) {
	if rc.Device == "" {
		return "", false
	}
	u, ok := rec.DeviceTargets[rc.Device]
	return u, ok && u != ""
}
