package domain

import "errors"

var (
	ErrNotFound            = errors.New("link not found")
	ErrSlugTaken           = errors.New("slug already in use on this domain")
	ErrLinkExists          = errors.New("link id already exists")
	ErrInvalidLink         = errors.New("invalid link")
	ErrTestNotFound        = errors.New("ab test not found")
	ErrTestActive          = errors.New("link already has an active ab test")
	ErrInvalidTransition   = errors.New("invalid ab test transition")
	ErrInvalidWeights      = errors.New("invalid variant weights")
	ErrCacheMiss           = errors.New("edge cache miss")
	ErrUpstreamUnavailable = errors.New("edge cache and link store unavailable")
)
