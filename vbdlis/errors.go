package vbdlis

import (
	"errors"

	"github.com/hazyhaar/lisq/vbdlis/internal/authen"
)

var (
	// ErrInvalidInput marks a request that cannot be executed: no search
	// keys after normalization, or missing credentials.
	ErrInvalidInput = errors.New("vbdlis: invalid input")

	// ErrConfiguration marks a fatal setup problem: malformed endpoint URL
	// or an unavailable browser engine. Never retried.
	ErrConfiguration = errors.New("vbdlis: configuration error")

	// ErrNavigationTimeout marks a bounded page wait that elapsed. Retried
	// once per query, then surfaced as a per-item failure.
	ErrNavigationTimeout = errors.New("vbdlis: navigation timeout")

	// ErrPortal marks an error payload returned by the portal itself.
	// Surfaced as a per-item failure, not retried, never cached.
	ErrPortal = errors.New("vbdlis: portal error")

	// ErrParse marks a portal response that is not the expected JSON shape.
	ErrParse = errors.New("vbdlis: parse error")

	// ErrNotCached is returned by CachedAt for keys never fetched.
	ErrNotCached = errors.New("vbdlis: not cached")

	// ErrAuthFailed is authen.ErrAuthFailed: rejected credentials or an
	// identity mismatch unresolved after one logout-and-retry. Aborts the
	// batch for this identity; the session survives for a corrected retry.
	ErrAuthFailed = authen.ErrAuthFailed

	// ErrSessionExpired is authen.ErrSessionExpired: mid-operation recovery
	// exhausted, fresh credentials needed from the end user.
	ErrSessionExpired = authen.ErrSessionExpired
)
