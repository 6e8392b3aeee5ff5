// Package vbdlis queries the VBDLIS land-registry portal through persistent
// browser sessions. The portal has no public API: searches are executed by
// logging in through a real Chrome session, navigating to the certificate
// lookup page, and posting the search form from page context. One session is
// kept per (portal host, username); every search is fronted by a two-tier
// result cache with single-flight fetch coalescing.
package vbdlis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/lisq/vbdlis/internal/authen"
	"github.com/hazyhaar/lisq/vbdlis/internal/browser"
	"github.com/hazyhaar/lisq/vbdlis/internal/cache"
	"github.com/hazyhaar/lisq/vbdlis/internal/session"
)

// searchTypeGiayTo keys the cache tier for document-number searches.
const searchTypeGiayTo = "giayto"

// Service orchestrates, per query, the sequence cache-lookup → session
// acquire → authenticate → navigate → submit → parse → cache-store.
type Service struct {
	cfg      Config
	registry *session.Registry
	auth     *authen.Controller
	cache    *cache.Cache
	sink     Sink
	logger   *slog.Logger
}

type options struct {
	opener browser.Opener
	sink   Sink
}

// Option customises New.
type Option func(*options)

// WithOpener substitutes the browser engine; tests use this to run the full
// pipeline against a fake portal.
func WithOpener(o browser.Opener) Option { return func(opts *options) { opts.opener = o } }

// WithSink routes progress and session-expiry notifications to sink.
func WithSink(s Sink) Option { return func(opts *options) { opts.sink = s } }

// New creates the service over db (persistent cache tier; schema is applied
// here). The caller owns db's lifecycle.
func New(cfg Config, db *sql.DB, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.sink == nil {
		o.sink = slogSink{logger: logger}
	}
	if o.opener == nil {
		engine := &browser.Engine{SlowMotion: cfg.SlowMotion, Logger: logger}
		o.opener = engine.Opener()
	}

	store := cache.NewStore(db)
	if err := store.Init(context.Background()); err != nil {
		return nil, err
	}

	return &Service{
		cfg: cfg,
		registry: session.NewRegistry(session.Config{
			UserDataRoot: cfg.UserDataRoot,
			IdleWindow:   cfg.SessionIdle,
		}, o.opener, logger),
		auth: authen.New(authen.Config{
			AuthHost:      cfg.AuthHost,
			Timeout:       cfg.Timeout,
			MarkerTimeout: cfg.MarkerTimeout,
		}, o.sink.Status, logger),
		cache:  cache.New(store, o.sink.Status, logger),
		sink:   o.sink,
		logger: logger,
	}, nil
}

// Search executes one batch of document-number lookups under a single
// identity. Every normalized key yields exactly one ResultItem; per-item
// failures (portal error payload, parse failure) do not abort siblings.
// Configuration and authentication failures abort the whole batch, since no
// remaining query for this identity could succeed without a session.
func (s *Service) Search(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	keys := NormalizeKeys(req.SoGiayToList)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: soGiayToList is empty", ErrInvalidInput)
	}

	serverURL, err := resolveServerURL(req.Server, s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	host := serverHost(serverURL)
	mode := req.Mode.normalized()

	headless := *s.cfg.Headless
	if req.Headless != nil {
		headless = *req.Headless
	}
	tinhID := req.TinhID
	if tinhID <= 0 {
		tinhID = s.cfg.TinhID
	}
	maxAge := s.cfg.DefaultMaxAge
	refresh := req.Refresh
	switch {
	case req.MaxAgeDays > 0:
		maxAge = time.Duration(req.MaxAgeDays) * 24 * time.Hour
	case req.MaxAgeDays < 0:
		refresh = true
	}

	// Idle cleanup rides ahead of new traffic instead of a timer.
	if n := s.registry.SweepIdle(); n > 0 {
		s.logger.Info("vbdlis: idle sessions reclaimed", "count", n)
	}

	s.logger.Info("vbdlis: batch search",
		"host", host, "user", req.Username, "keys", len(keys), "mode", mode, "refresh", refresh)

	resp := &BatchResponse{
		RequestedAt: time.Now().UTC(),
		Mode:        mode,
		Results:     make([]ResultItem, 0, len(keys)),
	}

	for _, key := range keys {
		payload, err := s.lookup(ctx, serverURL, host, req.Username, req.Password, key, tinhID, headless, maxAge, refresh)
		if err != nil {
			if batchAbort(err) {
				return nil, err
			}
			s.logger.Warn("vbdlis: search failed", "key", key, "error", err)
			resp.Results = append(resp.Results, ResultItem{SoGiayTo: key, Error: err.Error()})
			continue
		}
		resp.Results = append(resp.Results, shapeResult(key, payload, mode))
	}
	return resp, nil
}

// lookup runs one key through the cache, retrying exactly once when the
// portal navigation timed out. Errors are never cached, so the retry reaches
// the portal again.
func (s *Service) lookup(ctx context.Context, serverURL, host, username, password, key string, tinhID int, headless bool, maxAge time.Duration, refresh bool) (json.RawMessage, error) {
	fetch := s.fetchFunc(serverURL, host, username, password, key, tinhID, headless)
	payload, err := s.cache.GetOrFetch(ctx, searchTypeGiayTo, key, maxAge, refresh, fetch)
	if errors.Is(err, ErrNavigationTimeout) {
		s.logger.Warn("vbdlis: navigation timeout, retrying", "key", key)
		payload, err = s.cache.GetOrFetch(ctx, searchTypeGiayTo, key, maxAge, refresh, fetch)
	}
	return payload, err
}

// fetchFunc builds the cache-miss path for one key: acquire the session and
// its gate, confirm the login, reach the search page, post the query from
// page context, classify the response.
func (s *Service) fetchFunc(serverURL, host, username, password, key string, tinhID int, headless bool) cache.FetchFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		entry, err := s.registry.Acquire(ctx, host, username, headless)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if err := entry.Acquire(ctx); err != nil {
			return nil, false, err
		}
		entry.Touch()
		defer func() {
			entry.Touch()
			entry.Release()
		}()

		page, err := entry.Handle.Page(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}

		if err := s.auth.EnsureLoggedIn(ctx, page, portalRoot(serverURL), username, password); err != nil {
			return nil, false, err
		}
		entry.SetCredentials(username, password)

		if err := s.ensureSearchPage(ctx, page, entry, serverURL); err != nil {
			return nil, false, err
		}

		s.sink.Status(fmt.Sprintf("Đang tra cứu: %s", key))
		raw, err := page.Eval(ctx, searchScript, advancedSearchURL(serverURL), buildSearchPayload(key, tinhID))
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, false, fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
			}
			return nil, false, fmt.Errorf("%w: %v", ErrPortal, err)
		}
		if strings.TrimSpace(raw) == "" {
			return nil, false, fmt.Errorf("%w: portal returned no data", ErrPortal)
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if st, _ := obj["statusText"].(string); st != "" && strings.Contains(strings.ToLower(st), "error") {
			return nil, false, fmt.Errorf("%w: %s", ErrPortal, st)
		}
		return json.RawMessage(raw), emptyResult(obj), nil
	}
}

// ensureSearchPage navigates to the certificate lookup page unless the
// session's tab is already there. A long-idle session may be bounced to SSO
// by this navigation; recovery re-logs-in once with the credentials cached
// on the entry, then the expiry is surfaced to the caller.
func (s *Service) ensureSearchPage(ctx context.Context, page browser.Page, entry *session.Entry, serverURL string) error {
	if containsFold(page.URL(), "/"+searchPagePath) {
		return nil
	}

	if err := s.navigate(ctx, page, searchPageURL(serverURL)); err != nil {
		return err
	}

	if s.auth.OnAuthHost(page.URL()) {
		creds := entry.Credentials()
		if creds == nil {
			s.sink.SessionExpired(entry.Key)
			return fmt.Errorf("%w: no cached credentials for re-login", ErrSessionExpired)
		}
		if err := s.auth.Recover(ctx, page, creds.Username, creds.Password); err != nil {
			s.sink.SessionExpired(entry.Key)
			return err
		}
		if !containsFold(page.URL(), "/"+searchPagePath) {
			if err := s.navigate(ctx, page, searchPageURL(serverURL)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) navigate(ctx context.Context, page browser.Page, url string) error {
	nctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := page.Navigate(nctx, url); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || nctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrNavigationTimeout, url)
		}
		return fmt.Errorf("%w: %v", ErrPortal, err)
	}
	return nil
}

// CachedAt reports when key's result was last fetched from the portal, for
// staleness display. Returns ErrNotCached for keys never cached.
func (s *Service) CachedAt(ctx context.Context, key string) (time.Time, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, fmt.Errorf("%w: empty key", ErrInvalidInput)
	}
	at, err := s.cache.CachedAt(ctx, searchTypeGiayTo, key)
	if errors.Is(err, cache.ErrNotFound) {
		return time.Time{}, ErrNotCached
	}
	return at, err
}

// Sessions reports the number of live browser sessions.
func (s *Service) Sessions() int {
	return s.registry.Len()
}

// Close drains the session registry, closing every browser.
func (s *Service) Close() error {
	return s.registry.Close()
}

// batchAbort reports whether err poisons the rest of the batch: without a
// working session or valid credentials no sibling query can succeed.
func batchAbort(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, context.Canceled)
}

// emptyResult reports a successful response with nothing in it. Such
// results are served but never cached, so a later lookup retries the portal.
func emptyResult(obj map[string]any) bool {
	if data, ok := obj["data"].([]any); ok && len(data) > 0 {
		return false
	}
	if rt, ok := obj["recordsTotal"].(float64); ok && rt > 0 {
		return false
	}
	return true
}

func shapeResult(key string, raw json.RawMessage, mode Mode) ResultItem {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ResultItem{SoGiayTo: key, Error: fmt.Sprintf("parse: %v", err)}
	}

	item := ResultItem{
		SoGiayTo:        key,
		Success:         true,
		RecordsTotal:    treeInt(obj, "recordsTotal"),
		RecordsFiltered: treeInt(obj, "recordsFiltered"),
	}
	switch mode {
	case ModeFull:
		item.FullData = raw
	case ModeCompact:
		item.CompactData = BuildCompact(ExtractSummary(obj))
	default:
		item.SummaryData = ExtractSummary(obj)
	}
	return item
}

func treeInt(obj map[string]any, key string) *int {
	switch v := obj[key].(type) {
	case float64:
		n := int(v)
		return &n
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
