// Package authen drives the portal login state machine. Authentication
// state is never cached: every operation re-derives it from the current
// page location and the logged-in-as marker, because the portal silently
// invalidates sessions server-side (idle timeout, login from elsewhere).
package authen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/lisq/vbdlis/internal/browser"
)

var (
	// ErrAuthFailed means the portal rejected the credentials, or the
	// logged-in identity could not be confirmed after one logout-and-retry
	// cycle. The session stays alive for a later attempt with corrected
	// credentials.
	ErrAuthFailed = errors.New("authen: authentication failed")

	// ErrSessionExpired means a mid-operation re-login was attempted and
	// exhausted. The caller must re-establish the session with fresh
	// credentials from the end user.
	ErrSessionExpired = errors.New("authen: session expired")
)

// Selectors on the portal's SSO login page and the logged-in banner.
const (
	usernameSelector     = `input[name='username']`
	passwordSelector     = `input[name='password']`
	submitSelector       = `button[type='submit'].login100-form-btn`
	submitFallback       = `button[type='submit']`
	markerSelector       = `a.user-profile b`
	profileMenuSelector  = `a.user-profile`
	logoutLinkSelector   = `a[href*='/Account/Logout']`
	postSubmitPollPeriod = 250 * time.Millisecond
)

// Config configures the Controller.
type Config struct {
	// AuthHost is the host of the portal's SSO login page. Landing here
	// means we are not logged in.
	AuthHost string `yaml:"auth_host"`

	// Timeout bounds each navigation and the post-submit redirect wait.
	Timeout time.Duration `yaml:"timeout"`

	// MarkerTimeout bounds the wait for the logged-in-as marker. Kept
	// shorter than Timeout so the "already logged in" probe stays fast.
	MarkerTimeout time.Duration `yaml:"marker_timeout"`
}

func (c *Config) defaults() {
	if c.AuthHost == "" {
		c.AuthHost = "authen.mplis.gov.vn"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MarkerTimeout <= 0 {
		c.MarkerTimeout = 10 * time.Second
	}
}

// Controller runs the login/recovery state machine against a portal page.
type Controller struct {
	cfg    Config
	notify func(string)
	logger *slog.Logger
}

// New creates a Controller. notify receives human-readable progress strings
// and may be nil.
func New(cfg Config, notify func(string), logger *slog.Logger) *Controller {
	cfg.defaults()
	if notify == nil {
		notify = func(string) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, notify: notify, logger: logger}
}

// EnsureLoggedIn brings page to an authenticated state for username, starting
// from whatever state the page is in. Idempotent: when the marker already
// shows the requested user this is a single bounded wait and no navigation.
// A different logged-in user triggers exactly one logout-and-retry cycle.
func (c *Controller) EnsureLoggedIn(ctx context.Context, page browser.Page, rootURL, username, password string) error {
	navigatedRoot := false
	if loc := page.URL(); loc == "" || loc == "about:blank" {
		c.notify("Đang mở trang VBDLIS...")
		if err := c.navigate(ctx, page, rootURL); err != nil {
			return err
		}
		navigatedRoot = true
	}

	retriedLogout := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if c.onAuthHost(page.URL()) {
			return c.login(ctx, page, username, password)
		}

		marker, ok := c.markerText(ctx, page)
		switch {
		case ok && strings.EqualFold(marker, strings.TrimSpace(username)):
			c.logger.Debug("authen: already logged in", "user", username)
			return nil

		case ok:
			if retriedLogout {
				return fmt.Errorf("%w: logged in as %q, wanted %q", ErrAuthFailed, marker, username)
			}
			retriedLogout = true
			c.notify(fmt.Sprintf("Đang đăng xuất tài khoản %s...", marker))
			c.logger.Info("authen: different user logged in, switching", "current", marker, "wanted", username)
			c.logout(ctx, page)
			if err := c.navigate(ctx, page, rootURL); err != nil {
				return err
			}

		default:
			if navigatedRoot {
				return fmt.Errorf("%w: no login page and no identity marker at %s", ErrAuthFailed, page.URL())
			}
			navigatedRoot = true
			if err := c.navigate(ctx, page, rootURL); err != nil {
				return err
			}
		}
	}
}

// Recover handles a navigation that unexpectedly landed on the auth host
// mid-operation: one re-login with the session's cached credentials. If the
// page is still on the auth host afterwards the session is declared expired.
func (c *Controller) Recover(ctx context.Context, page browser.Page, username, password string) error {
	c.notify("Phiên hết hạn, đang đăng nhập lại...")
	c.logger.Info("authen: mid-operation re-login", "user", username)

	if err := c.submit(ctx, page, username, password); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if err := c.waitLeaveAuthHost(ctx, page); err != nil {
		return fmt.Errorf("%w: re-login did not leave the login page", ErrSessionExpired)
	}
	return nil
}

// login submits credentials from the auth page and confirms the identity
// marker appears. Still being on the auth host after the redirect wait means
// the portal rejected the credentials.
func (c *Controller) login(ctx context.Context, page browser.Page, username, password string) error {
	c.notify(fmt.Sprintf("Đang đăng nhập tài khoản %s...", username))
	if err := c.submit(ctx, page, username, password); err != nil {
		return err
	}
	if err := c.waitLeaveAuthHost(ctx, page); err != nil {
		return fmt.Errorf("%w: invalid credentials for %q", ErrAuthFailed, username)
	}

	marker, ok := c.markerText(ctx, page)
	if !ok {
		return fmt.Errorf("%w: identity marker absent after login", ErrAuthFailed)
	}
	if !strings.EqualFold(marker, strings.TrimSpace(username)) {
		return fmt.Errorf("%w: logged in as %q, wanted %q", ErrAuthFailed, marker, username)
	}
	c.logger.Info("authen: logged in", "user", username)
	return nil
}

func (c *Controller) submit(ctx context.Context, page browser.Page, username, password string) error {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := page.Fill(sctx, usernameSelector, username); err != nil {
		return fmt.Errorf("authen: fill username: %w", err)
	}
	if err := page.Fill(sctx, passwordSelector, password); err != nil {
		return fmt.Errorf("authen: fill password: %w", err)
	}
	if err := page.Click(sctx, submitSelector); err != nil {
		// Some portal skins drop the themed class from the button.
		if err := page.Click(sctx, submitFallback); err != nil {
			return fmt.Errorf("authen: submit: %w", err)
		}
	}
	return nil
}

// waitLeaveAuthHost polls the page location until it leaves the auth host or
// the configured timeout elapses.
func (c *Controller) waitLeaveAuthHost(ctx context.Context, page browser.Page) error {
	deadline := time.Now().Add(c.cfg.Timeout)
	ticker := time.NewTicker(postSubmitPollPeriod)
	defer ticker.Stop()

	for {
		if !c.onAuthHost(page.URL()) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("authen: still on %s after %s", c.cfg.AuthHost, c.cfg.Timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// markerText reads the logged-in-as banner within the marker timeout.
// ok=false means the marker never appeared.
func (c *Controller) markerText(ctx context.Context, page browser.Page) (string, bool) {
	mctx, cancel := context.WithTimeout(ctx, c.cfg.MarkerTimeout)
	defer cancel()

	text, err := page.Text(mctx, markerSelector)
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

// logout is best effort: a failed click just means the subsequent root
// navigation re-classifies whatever state the portal left us in.
func (c *Controller) logout(ctx context.Context, page browser.Page) {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := page.Click(lctx, profileMenuSelector); err != nil {
		c.logger.Debug("authen: open profile menu", "error", err)
		return
	}
	// The dropdown animates open.
	select {
	case <-time.After(300 * time.Millisecond):
	case <-lctx.Done():
		return
	}
	if err := page.Click(lctx, logoutLinkSelector); err != nil {
		c.logger.Debug("authen: click logout", "error", err)
	}
}

func (c *Controller) navigate(ctx context.Context, page browser.Page, url string) error {
	nctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := page.Navigate(nctx, url); err != nil {
		return err
	}
	return nil
}

// OnAuthHost reports whether loc is on the portal's SSO login host.
func (c *Controller) OnAuthHost(loc string) bool { return c.onAuthHost(loc) }

func (c *Controller) onAuthHost(loc string) bool {
	return strings.Contains(loc, c.cfg.AuthHost)
}
