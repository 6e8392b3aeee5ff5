// Package browser drives Chrome sessions for the VBDLIS portal: one
// persistent profile per (host, username), launched via Rod with stealth
// pages. Cookies and local storage survive across operations and process
// restarts because each session owns its own user-data directory.
package browser

import "context"

// Page is the operation surface the login flow and the search executor need
// from a loaded portal tab. Every call is bounded by its context; rod blocks
// element lookups until the selector appears or the context expires.
type Page interface {
	// Navigate loads url and waits for the load event (best effort).
	Navigate(ctx context.Context, url string) error
	// URL returns the page's current location, or "" if it cannot be read.
	URL() string
	// Fill replaces the value of the input matching selector.
	Fill(ctx context.Context, selector, value string) error
	// Click clicks the element matching selector.
	Click(ctx context.Context, selector string) error
	// Text waits for selector and returns its inner text.
	Text(ctx context.Context, selector string) (string, error)
	// Eval runs a JS function in page context and returns its string result.
	Eval(ctx context.Context, js string, args ...any) (string, error)
}

// Handle is one persistent browser session. The page is created lazily and
// reused across operations so the portal sees a single long-lived tab.
type Handle interface {
	Page(ctx context.Context) (Page, error)
	Close() error
}

// Opener creates a Handle rooted at profileDir. The session registry holds
// an Opener so tests can substitute a fake browser.
type Opener func(ctx context.Context, profileDir string, headless bool) (Handle, error)
