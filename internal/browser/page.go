// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is a single browser tab implementing schemas.PageDriver over CDP.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	selectors    config.SelectorsConfig
	navTimeout   time.Duration
	postLoadWait time.Duration
	lookupWindow time.Duration

	probeJS string

	onClose   func()
	closeOnce sync.Once
}

var _ schemas.PageDriver = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger) (*Page, error) {
	id := uuid.New().String()
	p := &Page{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.Named("page").With(zap.String("page_id", id)),
		selectors:    cfg.Flows.Selectors,
		navTimeout:   cfg.Timeouts.Navigation,
		postLoadWait: cfg.Timeouts.PostLoadWait,
		lookupWindow: cfg.Timeouts.LookupWindow,
	}
	if p.navTimeout <= 0 {
		p.navTimeout = 60 * time.Second
	}
	if p.lookupWindow <= 0 {
		p.lookupWindow = 5 * time.Second
	}

	js, err := buildProbeScript(cfg.Flows.Selectors)
	if err != nil {
		return nil, err
	}
	p.probeJS = js

	// Materialize the tab and apply any extra headers.
	tasks := chromedp.Tasks{chromedp.ActionFunc(func(c context.Context) error {
		return network.Enable().Do(c)
	})}
	if len(cfg.Browser.Headers) > 0 {
		headers := make(network.Headers, len(cfg.Browser.Headers))
		for k, v := range cfg.Browser.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("failed to initialize tab: %w", err)
	}
	return p, nil
}

// Navigate loads the URL and waits for the page to settle.
func (p *Page) Navigate(ctx context.Context, url string) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	navCtx, navCancel := context.WithTimeout(opCtx, p.navTimeout)
	defer navCancel()

	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", p.navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return p.stabilize(opCtx)
}

// stabilize waits for the DOM to be ready plus the configured quiet period,
// giving late redirects and script-rendered forms a chance to land.
func (p *Page) stabilize(ctx context.Context) error {
	stabCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := chromedp.Run(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}
	if p.postLoadWait > 0 {
		if err := chromedp.Run(stabCtx, chromedp.Sleep(p.postLoadWait)); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Probe gathers all login-relevant signals in a single evaluation.
func (p *Page) Probe(ctx context.Context) (schemas.PageProbe, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	var probe schemas.PageProbe
	if err := chromedp.Run(opCtx, chromedp.Evaluate(p.probeJS, &probe)); err != nil {
		return schemas.PageProbe{}, fmt.Errorf("page probe failed: %w", err)
	}
	return probe, nil
}

// resolution is the result of scanning a candidate list in the page.
type resolution struct {
	Index    int  `json:"index"`
	Rejected bool `json:"rejected"`
}

// resolveFirst scans the ranked candidate list until one matches an
// interactable element or the lookup window elapses. A candidate that is
// present but disabled only counts if nothing better turns up.
func (p *Page) resolveFirst(ctx context.Context, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", schemas.ErrElementNotFound
	}
	script, err := buildResolveScript(candidates)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(p.lookupWindow)
	sawRejected := false
	for {
		var res resolution
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &res)); err != nil {
			return "", fmt.Errorf("candidate scan failed: %w", err)
		}
		if res.Index >= 0 && res.Index < len(candidates) {
			if !res.Rejected {
				return candidates[res.Index], nil
			}
			sawRejected = true
		}

		if time.Now().After(deadline) {
			if sawRejected {
				return "", fmt.Errorf("only non-interactable candidates matched: %w", schemas.ErrActionRejected)
			}
			return "", fmt.Errorf("no candidate matched within %s: %w", p.lookupWindow, schemas.ErrElementNotFound)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// FillFirst clears and fills the first matching candidate field.
func (p *Page) FillFirst(ctx context.Context, candidates []string, value string) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	sel, err := p.resolveFirst(opCtx, candidates)
	if err != nil {
		return err
	}
	p.logger.Debug("Filling field.", zap.String("selector", sel))

	err = chromedp.Run(opCtx,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill failed for %q: %w", sel, schemas.ErrActionRejected)
	}
	return nil
}

// ClickFirst activates the first matching candidate control.
func (p *Page) ClickFirst(ctx context.Context, candidates []string) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	sel, err := p.resolveFirst(opCtx, candidates)
	if err != nil {
		return err
	}
	p.logger.Debug("Clicking control.", zap.String("selector", sel))

	err = chromedp.Run(opCtx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click failed for %q: %w", sel, schemas.ErrActionRejected)
	}
	return p.stabilize(opCtx)
}

// PressEnter submits via the keyboard from the currently focused element.
func (p *Page) PressEnter(ctx context.Context) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	if err := chromedp.Run(opCtx, chromedp.KeyEvent(kb.Enter)); err != nil {
		return fmt.Errorf("enter key failed: %w", schemas.ErrActionRejected)
	}
	return p.stabilize(opCtx)
}

// Cookies returns all cookies visible to this browser context.
func (p *Page) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	var out []schemas.Cookie
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		raw, err := network.GetCookies().Do(c)
		if err != nil {
			return err
		}
		out = make([]schemas.Cookie, 0, len(raw))
		for _, rc := range raw {
			cookie := schemas.Cookie{
				Name:     rc.Name,
				Value:    rc.Value,
				Domain:   rc.Domain,
				Path:     rc.Path,
				Secure:   rc.Secure,
				HTTPOnly: rc.HTTPOnly,
			}
			// CDP reports -1 for session cookies; leave Expires zero then.
			if rc.Expires > 0 {
				cookie.Expires = time.Unix(int64(rc.Expires), 0).UTC()
			}
			out = append(out, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("harvesting cookies: %w", err)
	}
	return out, nil
}

// SetCookies installs session cookies ahead of navigation.
func (p *Page) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		for _, cookie := range cookies {
			params := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				WithSecure(cookie.Secure).
				WithHTTPOnly(cookie.HTTPOnly)
			if !cookie.Expires.IsZero() {
				exp := cdp.TimeSinceEpoch(cookie.Expires)
				params = params.WithExpires(&exp)
			}
			if err := params.Do(c); err != nil {
				return fmt.Errorf("setting cookie %q: %w", cookie.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("applying session cookies: %w", err)
	}
	return nil
}

// Close releases the tab. Safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.logger.Debug("Closing page.")
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}

// -- Probe and resolution scripts --

// buildProbeScript renders the single-evaluation signal scan from the
// configured selector lists.
func buildProbeScript(sel config.SelectorsConfig) (string, error) {
	lists := map[string][]string{
		"consentModal":     sel.ConsentModals,
		"twoFactorInput":   sel.TwoFactorInputs,
		"usernameField":    sel.UsernameFields,
		"passwordField":    sel.PasswordFields,
		"authMarker":       sel.AuthMarkers,
		"loginAffordance":  sel.LoginLinks,
		"failureIndicator": sel.FailureIndicators,
	}
	encoded, err := json.Marshal(lists)
	if err != nil {
		return "", fmt.Errorf("encoding selector lists: %w", err)
	}

	return fmt.Sprintf(`(() => {
	const lists = %s;
	const visible = (sel) => {
		let els;
		try { els = document.querySelectorAll(sel); } catch (e) { return false; }
		for (const el of els) {
			const st = window.getComputedStyle(el);
			if (st.display !== 'none' && st.visibility !== 'hidden' && el.getClientRects().length > 0) {
				return true;
			}
		}
		return false;
	};
	const any = (sels) => (sels || []).some(visible);
	const out = { url: window.location.href, title: document.title };
	for (const key of Object.keys(lists)) {
		out[key] = any(lists[key]);
	}
	return out;
})()`, string(encoded)), nil
}

// buildResolveScript renders the ranked candidate scan.
func buildResolveScript(candidates []string) (string, error) {
	encoded, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("encoding candidates: %w", err)
	}

	return fmt.Sprintf(`(() => {
	const cands = %s;
	const interactable = (el) => {
		const st = window.getComputedStyle(el);
		return st.display !== 'none' && st.visibility !== 'hidden' && el.getClientRects().length > 0;
	};
	let rejected = -1;
	for (let i = 0; i < cands.length; i++) {
		let el;
		try { el = document.querySelector(cands[i]); } catch (e) { continue; }
		if (!el || !interactable(el)) continue;
		if (el.disabled || el.readOnly) {
			if (rejected < 0) rejected = i;
			continue;
		}
		return { index: i, rejected: false };
	}
	if (rejected >= 0) return { index: rejected, rejected: true };
	return { index: -1, rejected: false };
})()`, string(encoded)), nil
}
