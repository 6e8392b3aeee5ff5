package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Engine launches local Chrome instances through the Rod launcher, one
// process per persistent profile directory.
type Engine struct {
	// SlowMotion inserts a delay between browser actions (debugging aid).
	SlowMotion time.Duration

	Logger *slog.Logger
}

// Opener returns an Opener backed by this engine.
func (e *Engine) Opener() Opener {
	return func(ctx context.Context, profileDir string, headless bool) (Handle, error) {
		return e.open(ctx, profileDir, headless)
	}
}

func (e *Engine) open(ctx context.Context, profileDir string, headless bool) (Handle, error) {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("browser: profile dir: %w", err)
	}

	l := launcher.New().
		Headless(headless).
		UserDataDir(profileDir).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage")

	u, err := l.Context(ctx).Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if e.SlowMotion > 0 {
		b = b.SlowMotion(e.SlowMotion)
	}
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	log.Info("browser: launched", "profile", profileDir, "headless", headless)

	return &rodHandle{browser: b, lnch: l, logger: log}, nil
}

type rodHandle struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	logger  *slog.Logger
	page    *rodPage
}

// Page returns the session's tab, creating a stealth page on first use.
// Callers are already serialized by the session's execution gate, so no
// extra locking is needed here.
func (h *rodHandle) Page(ctx context.Context) (Page, error) {
	if h.page != nil && h.page.alive() {
		return h.page, nil
	}

	p, err := stealth.Page(h.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	h.page = &rodPage{page: p, logger: h.logger}
	return h.page, nil
}

func (h *rodHandle) Close() error {
	h.page = nil
	if h.browser != nil {
		// Closing the browser saves the profile state to disk.
		if err := h.browser.Close(); err != nil {
			h.logger.Debug("browser: close", "error", err)
		}
		h.browser = nil
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
		h.lnch = nil
	}
	return nil
}

type rodPage struct {
	page   *rod.Page
	logger *slog.Logger
}

func (p *rodPage) alive() bool {
	_, err := p.page.Info()
	return err == nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.page.Context(ctx).WaitLoad(); err != nil {
		p.logger.Debug("browser: wait load", "url", url, "error", err)
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %s: %w", selector, err)
	}
	// Select any prefilled value so Input replaces it.
	_ = el.SelectAllText()
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: input %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Text(ctx context.Context, selector string) (string, error) {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return "", fmt.Errorf("browser: element %s: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("browser: text %s: %w", selector, err)
	}
	return text, nil
}

func (p *rodPage) Eval(ctx context.Context, js string, args ...any) (string, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}
