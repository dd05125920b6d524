package domain

import "time"

// RequestContext carries what the redirect entry point knows about the visitor.
type RequestContext struct {
	Country          string // ISO 3166-1 alpha-2, upper case
	Device           DeviceClass
	Platform         Platform
	UserAgent        string
	AssignmentCookie string // previously issued variant assignment, if any
	Password         string // credential presented for password-gated links
}

type Outcome int

const (
	OutcomeRedirect Outcome = iota
	OutcomeNotFound
	OutcomeExpired
	OutcomeLimitReached
	OutcomePasswordRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeExpired:
		return "expired"
	case OutcomeLimitReached:
		return "limit_reached"
	case OutcomePasswordRequired:
		return "password_required"
	default:
		return "unknown"
	}
}

// Assignment is a sticky variant assignment the caller must persist in a
// cookie on the visitor.
type Assignment struct {
	TestID    string
	VariantID string
	Value     string
	Fresh     bool // true when drawn on this request
}

// ResolutionResult is the terminal value of the resolution pipeline. URL is
// only set for OutcomeRedirect.
type ResolutionResult struct {
	Outcome    Outcome
	URL        string
	LinkID     string
	VariantID  string
	Assignment *Assignment
	ResolvedAt time.Time
}

func Terminal(o Outcome) ResolutionResult {
	return ResolutionResult{Outcome: o}
}
