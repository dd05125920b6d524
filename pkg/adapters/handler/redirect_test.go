package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

type fakeResolver struct {
	res  domain.ResolutionResult
	err  error
	seen struct {
		domain, slug string
		rc           domain.RequestContext
	}
}

func (f *fakeResolver) Resolve(_ context.Context, domainName, slug string, rc domain.RequestContext) (domain.ResolutionResult, error) {
	f.seen.domain, f.seen.slug, f.seen.rc = domainName, slug, rc
	return f.res, f.err
}

func redirectMux(r *fakeResolver) http.Handler {
	h := NewRedirectHandler(r, "lr_ab", time.Hour, true)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /r/{domain}/{slug}", h.ByPath)
	mux.HandleFunc("GET /{slug}", h.ByHost)
	return mux
}

func TestRedirect_FoundSetsFreshCookie(t *testing.T) {
	r := &fakeResolver{res: domain.ResolutionResult{
		Outcome: domain.OutcomeRedirect,
		URL:     "https://example.com/b",
		Assignment: &domain.Assignment{
			TestID: "t1", VariantID: "b", Value: "t1.b", Fresh: true,
		},
	}}

	req := httptest.NewRequest("GET", "/promo?pw=hunter2", nil)
	req.Host = "Go2.gg:8080"
	req.Header.Set("CF-IPCountry", "fr")
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148")
	rr := httptest.NewRecorder()
	redirectMux(r).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "https://example.com/b", rr.Header().Get("Location"))
	assert.Equal(t, "private, no-store", rr.Header().Get("Cache-Control"))

	assert.Equal(t, "go2.gg", r.seen.domain)
	assert.Equal(t, "promo", r.seen.slug)
	assert.Equal(t, "FR", r.seen.rc.Country)
	assert.Equal(t, domain.DeviceMobile, r.seen.rc.Device)
	assert.Equal(t, domain.PlatformIOS, r.seen.rc.Platform)
	assert.Equal(t, "hunter2", r.seen.rc.Password)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "lr_ab", c.Name)
	assert.Equal(t, "t1.b", c.Value)
	assert.Equal(t, "/promo", c.Path)
	assert.Equal(t, 3600, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
}

func TestRedirect_StickyCookieNotReissued(t *testing.T) {
	r := &fakeResolver{res: domain.ResolutionResult{
		Outcome:    domain.OutcomeRedirect,
		URL:        "https://example.com/a",
		Assignment: &domain.Assignment{TestID: "t1", VariantID: "a", Value: "t1.a"},
	}}

	req := httptest.NewRequest("GET", "/r/GO2.GG/promo", nil)
	req.AddCookie(&http.Cookie{Name: "lr_ab", Value: "t1.a"})
	req.Header.Set("X-Link-Password", "pw")
	rr := httptest.NewRecorder()
	redirectMux(r).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
	assert.Equal(t, "go2.gg", r.seen.domain)
	assert.Equal(t, "t1.a", r.seen.rc.AssignmentCookie)
	assert.Equal(t, "pw", r.seen.rc.Password)
}

func TestRedirect_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.Outcome
		err     error
		query   string
		status  int
		check   func(t *testing.T, rr *httptest.ResponseRecorder)
	}{
		{name: "not found", outcome: domain.OutcomeNotFound, status: http.StatusNotFound},
		{name: "expired", outcome: domain.OutcomeExpired, status: http.StatusNotFound},
		{name: "limit reached", outcome: domain.OutcomeLimitReached, status: http.StatusForbidden},
		{
			name: "password form", outcome: domain.OutcomePasswordRequired, status: http.StatusUnauthorized,
			check: func(t *testing.T, rr *httptest.ResponseRecorder) {
				assert.Contains(t, rr.Body.String(), `name="pw"`)
				assert.NotContains(t, rr.Body.String(), "Wrong password")
				assert.Empty(t, rr.Header().Get("Location"))
			},
		},
		{
			name: "wrong password", outcome: domain.OutcomePasswordRequired, query: "?pw=nope", status: http.StatusUnauthorized,
			check: func(t *testing.T, rr *httptest.ResponseRecorder) {
				assert.Contains(t, rr.Body.String(), "Wrong password")
			},
		},
		{
			name: "upstream unavailable", err: domain.ErrUpstreamUnavailable, status: http.StatusServiceUnavailable,
			check: func(t *testing.T, rr *httptest.ResponseRecorder) {
				assert.Equal(t, "1", rr.Header().Get("Retry-After"))
			},
		},
		{name: "unexpected error", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeResolver{res: domain.Terminal(tt.outcome), err: tt.err}
			rr := httptest.NewRecorder()
			redirectMux(r).ServeHTTP(rr, httptest.NewRequest("GET", "/promo"+tt.query, nil))

			assert.Equal(t, tt.status, rr.Code)
			assert.Empty(t, rr.Result().Cookies())
			if tt.check != nil {
				tt.check(t, rr)
			}
		})
	}
}

func TestClassifyUserAgent(t *testing.T) {
	tests := []struct {
		ua       string
		device   domain.DeviceClass
		platform domain.Platform
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36", domain.DeviceDesktop, domain.PlatformOther},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 Version/17.5 Safari/605.1.15", domain.DeviceDesktop, domain.PlatformOther},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) Mobile/15E148", domain.DeviceMobile, domain.PlatformIOS},
		{"Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) Mobile/15E148", domain.DeviceTablet, domain.PlatformIOS},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/126.0 Mobile Safari/537.36", domain.DeviceMobile, domain.PlatformAndroid},
		{"Mozilla/5.0 (Linux; Android 13; SM-X710) Chrome/126.0 Safari/537.36", domain.DeviceTablet, domain.PlatformAndroid},
		{"Mozilla/5.0 (Linux; U; Android 4.0.3; KFTT) Silk/3.4 Mobile Safari", domain.DeviceTablet, domain.PlatformAndroid},
		{"", domain.DeviceDesktop, domain.PlatformOther},
	}
	for _, tt := range tests {
		device, platform := classifyUserAgent(tt.ua)
		assert.Equal(t, tt.device, device, tt.ua)
		assert.Equal(t, tt.platform, platform, tt.ua)
	}
}

func TestCountryOf(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare", map[string]string{"CF-IPCountry": "de"}, "DE"},
		{"fallback header", map[string]string{"X-Country-Code": " us "}, "US"},
		{"unknown marker", map[string]string{"CF-IPCountry": "XX", "X-Country-Code": "JP"}, "JP"},
		{"tor", map[string]string{"CF-IPCountry": "T1"}, ""},
		{"malformed", map[string]string{"CF-IPCountry": "France"}, ""},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, countryOf(req))
		})
	}
}
