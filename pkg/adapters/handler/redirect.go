package handler

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

// RedirectHandler is the public entry point of the resolver.
type RedirectHandler struct {
	resolver     ports.Resolver
	cookieName   string
	cookieMaxAge time.Duration
	secure       bool
}

func NewRedirectHandler(resolver ports.Resolver, cookieName string, cookieMaxAge time.Duration, secure bool) *RedirectHandler {
	if cookieName == "" {
		cookieName = "lr_ab"
	}
	return &RedirectHandler{
		resolver:     resolver,
		cookieName:   cookieName,
		cookieMaxAge: cookieMaxAge,
		secure:       secure,
	}
}

// ByHost resolves GET /{slug} against the request's Host.
func (h *RedirectHandler) ByHost(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, hostDomain(r), r.PathValue("slug"), "/"+r.PathValue("slug"))
}

// ByPath resolves GET /r/{domain}/{slug}, for deployments behind one host.
func (h *RedirectHandler) ByPath(w http.ResponseWriter, r *http.Request) {
	d, slug := strings.ToLower(r.PathValue("domain")), r.PathValue("slug")
	h.serve(w, r, d, slug, "/r/"+d+"/"+slug)
}

func (h *RedirectHandler) serve(w http.ResponseWriter, r *http.Request, domainName, slug, cookiePath string) {
	rc := requestContext(r, h.cookieName)

	res, err := h.resolver.Resolve(r.Context(), domainName, slug, rc)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("domain", domainName).Str("slug", slug).Msg("resolve failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	switch res.Outcome {
	case domain.OutcomeRedirect:
		if a := res.Assignment; a != nil && a.Fresh {
			http.SetCookie(w, &http.Cookie{
				Name:     h.cookieName,
				Value:    a.Value,
				Path:     cookiePath,
				MaxAge:   int(h.cookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   h.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set("Cache-Control", "private, no-store")
		http.Redirect(w, r, res.URL, http.StatusFound)
	case domain.OutcomePasswordRequired:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusUnauthorized)
		_ = passwordForm.Execute(w, struct{ Failed bool }{Failed: rc.Password != ""})
	case domain.OutcomeLimitReached:
		http.Error(w, "This link has reached its click limit", http.StatusForbidden)
	case domain.OutcomeExpired:
		http.Error(w, "This link has expired", http.StatusNotFound)
	default:
		http.Error(w, "Link not found", http.StatusNotFound)
	}
}

// The form posts nothing: it reloads the link with ?pw= so the same GET
// route answers it.
var passwordForm = template.Must(template.New("password").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Password required</title></head>
<body>
<form method="get">
{{if .Failed}}<p>Wrong password.</p>{{end}}
<label>Password <input type="password" name="pw" autofocus></label>
<button type="submit">Continue</button>
</form>
</body></html>
`))
