// Package session maintains one persistent browser session per
// (portal host, username) identity. Entries are created lazily under a
// creation lock, serialized by a capacity-1 execution gate, and reclaimed
// by an idle sweep that runs ahead of new work instead of on a timer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/lisq/vbdlis/internal/browser"
)

// ErrEngineUnavailable is returned when a browser session cannot be opened.
// This is a configuration problem (missing Chrome, bad profile root) and is
// never retried automatically.
var ErrEngineUnavailable = errors.New("session: browser engine unavailable")

// DefaultIdleWindow is applied when the configured idle window is not positive.
const DefaultIdleWindow = 30 * time.Minute

// Config configures the Registry.
type Config struct {
	// UserDataRoot is the directory holding per-session browser profiles.
	UserDataRoot string `yaml:"user_data_root"`

	// IdleWindow is how long a session may sit unused before the sweep
	// closes it. Non-positive falls back to DefaultIdleWindow.
	IdleWindow time.Duration `yaml:"idle_window"`
}

func (c *Config) defaults() {
	if c.UserDataRoot == "" {
		c.UserDataRoot = "profiles"
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = DefaultIdleWindow
	}
}

// Credentials are the last credentials that logged this session in,
// kept in memory only, for mid-operation re-login after a portal timeout.
type Credentials struct {
	Username string
	Password string
}

// Entry is one live browser session. The gate serializes all operations
// against the underlying browser; the handle is mutated only while the
// gate is held.
type Entry struct {
	Key        string
	Host       string
	Username   string
	ProfileDir string
	Handle     browser.Handle

	gate chan struct{}

	mu         sync.Mutex
	lastAccess time.Time
	creds      *Credentials
}

// Acquire takes the entry's execution gate, waiting until the current
// operation finishes or ctx is cancelled.
func (e *Entry) Acquire(ctx context.Context) error {
	select {
	case e.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the gate only if it is free.
func (e *Entry) TryAcquire() bool {
	select {
	case e.gate <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the gate. Must be called exactly once per successful
// Acquire/TryAcquire, from the goroutine that holds it.
func (e *Entry) Release() {
	<-e.gate
}

// Touch records activity on the session.
func (e *Entry) Touch() {
	e.mu.Lock()
	e.lastAccess = time.Now()
	e.mu.Unlock()
}

// LastAccess returns the time of the last completed operation.
func (e *Entry) LastAccess() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccess
}

// SetCredentials caches the credentials of the last successful login.
func (e *Entry) SetCredentials(username, password string) {
	e.mu.Lock()
	e.creds = &Credentials{Username: username, Password: password}
	e.mu.Unlock()
}

// Credentials returns the cached login credentials, or nil if this session
// never completed a login.
func (e *Entry) Credentials() *Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creds
}

// Registry maps session keys to live entries. Lookups of existing keys take
// only the read lock; entry construction is serialized by a separate
// creation lock so concurrent first-time callers cannot race two browsers
// into existence for the same identity.
type Registry struct {
	cfg    Config
	open   browser.Opener
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	createMu sync.Mutex
}

// NewRegistry creates a Registry that opens browser sessions with open.
func NewRegistry(cfg Config, open browser.Opener, logger *slog.Logger) *Registry {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		open:    open,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Key builds the session key for a portal host and username. Usernames are
// case-insensitive.
func Key(host, username string) string {
	return host + "|" + strings.ToLower(strings.TrimSpace(username))
}

// Acquire returns the live entry for (host, username), creating it — and its
// persistent browser session — on first use. Creation failures surface as
// ErrEngineUnavailable and leave no entry behind.
func (r *Registry) Acquire(ctx context.Context, host, username string, headless bool) (*Entry, error) {
	key := Key(host, username)

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		r.logger.Debug("session: reusing", "key", key)
		return entry, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	// Another first-time caller may have won the race while we waited.
	r.mu.RLock()
	entry, ok = r.entries[key]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}

	profileDir := profileDir(r.cfg.UserDataRoot, host, username)
	handle, err := r.open(ctx, profileDir, headless)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	entry = &Entry{
		Key:        key,
		Host:       host,
		Username:   strings.TrimSpace(username),
		ProfileDir: profileDir,
		Handle:     handle,
		gate:       make(chan struct{}, 1),
		lastAccess: time.Now(),
	}

	r.mu.Lock()
	r.entries[key] = entry
	r.mu.Unlock()

	r.logger.Info("session: created", "key", key, "profile", profileDir)
	return entry, nil
}

// SweepIdle closes and removes every entry idle for longer than the
// configured window. Busy entries are skipped, never interrupted: the gate
// is taken non-blocking and idleness is re-checked under it, so an
// operation that started after the first check keeps its session. Returns
// the number of sessions reclaimed.
func (r *Registry) SweepIdle() int {
	maxIdle := r.cfg.IdleWindow
	now := time.Now()

	r.mu.RLock()
	candidates := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		candidates = append(candidates, e)
	}
	r.mu.RUnlock()

	var swept int
	for _, e := range candidates {
		if now.Sub(e.LastAccess()) < maxIdle {
			continue
		}
		if !e.TryAcquire() {
			continue
		}
		if now.Sub(e.LastAccess()) < maxIdle {
			e.Release()
			continue
		}

		r.mu.Lock()
		delete(r.entries, e.Key)
		r.mu.Unlock()

		if err := e.Handle.Close(); err != nil {
			r.logger.Debug("session: close during sweep", "key", e.Key, "error", err)
		}
		e.Release()
		swept++
		r.logger.Info("session: reclaimed idle", "key", e.Key, "idle", now.Sub(e.LastAccess()))
	}
	return swept
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close drains the registry: every entry is removed and its browser closed.
// In-flight operations get a short grace period via the gate; after that the
// browser is closed regardless, since the process is going away.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.Acquire(ctx); err == nil {
			e.Release()
		}
		cancel()
		if err := e.Handle.Close(); err != nil {
			r.logger.Debug("session: close", "key", e.Key, "error", err)
		}
		r.logger.Info("session: closed", "key", e.Key)
	}
	return nil
}

// profileDir derives a filesystem-safe per-session profile path from host
// and username.
func profileDir(root, host, username string) string {
	h := strings.ReplaceAll(host, ".", "_")
	u := sanitize(strings.ToLower(strings.TrimSpace(username)))
	return filepath.Join(root, h+"_"+u)
}

func sanitize(s string) string {
	if s == "" {
		return "user"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
