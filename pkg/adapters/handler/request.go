package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

// requestContext extracts what the resolver needs from an incoming request.
// The country comes from the CDN or proxy in front of us; we never geolocate
// addresses ourselves.
func requestContext(r *http.Request, cookieName string) domain.RequestContext {
	ua := r.UserAgent()
	rc := domain.RequestContext{
		Country:   countryOf(r),
		UserAgent: ua,
		Password:  r.URL.Query().Get("pw"),
	}
	rc.Device, rc.Platform = classifyUserAgent(ua)
	if rc.Password == "" {
		rc.Password = r.Header.Get("X-Link-Password")
	}
	if c, err := r.Cookie(cookieName); err == nil {
		rc.AssignmentCookie = c.Value
	}
	return rc
}

func countryOf(r *http.Request) string {
	for _, h := range []string{"CF-IPCountry", "X-Country-Code"} {
		v := strings.ToUpper(strings.TrimSpace(r.Header.Get(h)))
		// XX and T1 are Cloudflare's unknown and Tor markers
		if len(v) == 2 && v != "XX" && v != "T1" {
			return v
		}
	}
	return ""
}

// classifyUserAgent maps a User-Agent to a device class and platform. Tablets
// are checked first since most of them also claim to be mobile.
func classifyUserAgent(ua string) (domain.DeviceClass, domain.Platform) {
	s := strings.ToLower(ua)

	platform := domain.PlatformOther
	switch {
	case strings.Contains(s, "iphone"), strings.Contains(s, "ipad"), strings.Contains(s, "ipod"):
		platform = domain.PlatformIOS
	case strings.Contains(s, "android"):
		platform = domain.PlatformAndroid
	}

	switch {
	case strings.Contains(s, "ipad"), strings.Contains(s, "tablet"), strings.Contains(s, "kindle"), strings.Contains(s, "silk/"):
		return domain.DeviceTablet, platform
	case platform == domain.PlatformAndroid && !strings.Contains(s, "mobile"):
		return domain.DeviceTablet, platform
	case strings.Contains(s, "mobi"), strings.Contains(s, "iphone"), strings.Contains(s, "ipod"),
		strings.Contains(s, "windows phone"), strings.Contains(s, "blackberry"):
		return domain.DeviceMobile, platform
	default:
		return domain.DeviceDesktop, platform
	}
}

// hostDomain returns the request host without its port.
func hostDomain(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
