package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	pickAttr      = "data-storescout-pick"
	actionTimeout = 30 * time.Second
	pollInterval  = 100 * time.Millisecond
)

// Chrome launches a fresh Chrome process per session through chromedp.
type Chrome struct {
	Headless  bool
	Width     int
	Height    int
	UserAgent string
	ExecPath  string
}

func (c Chrome) Launch(ctx context.Context) (Page, func(), error) {
	width, height := c.Width, c.Height
	if width <= 0 {
		width = 1440
	}
	if height <= 0 {
		height = 900
	}
	ua := c.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", c.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(width, height),
		chromedp.UserAgent(ua),
	)
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	release := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run starts the browser and opens the tab.
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(width), int64(height))); err != nil {
		release()
		return nil, nil, fmt.Errorf("%w: %v", ErrBrowserLaunch, err)
	}

	return &chromePage{tab: tabCtx}, release, nil
}

type chromePage struct {
	tab   context.Context
	picks atomic.Int64
}

// run executes actions on the tab, bounded by d and by the caller's context.
func (p *chromePage) run(ctx context.Context, d time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tab, d)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, actionTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, actionTimeout, chromedp.Location(&loc))
	return loc, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, actionTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, actionTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (p *chromePage) ScrollBy(ctx context.Context, dy int) error {
	return p.run(ctx, actionTimeout, chromedp.Evaluate("window.scrollBy(0, "+strconv.Itoa(dy)+")", nil))
}

func (p *chromePage) ScrollToTop(ctx context.Context) error {
	return p.run(ctx, actionTimeout, chromedp.Evaluate("window.scrollTo(0, 0)", nil))
}

func (p *chromePage) Wait(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (p *chromePage) Probe(ctx context.Context, loc Locator, timeout time.Duration) (Element, bool) {
	token := strconv.FormatInt(p.picks.Add(1), 10)
	script := findScript(loc, token)
	deadline := time.Now().Add(timeout)

	for {
		var found string
		err := p.run(ctx, actionTimeout, chromedp.Evaluate(script, &found))
		if err == nil && found != "" {
			return &chromeElement{page: p, sel: "[" + pickAttr + `="` + token + `"]`}, true
		}
		if ctx.Err() != nil || time.Now().Add(pollInterval).After(deadline) {
			return nil, false
		}
		if sleep(ctx, pollInterval) != nil {
			return nil, false
		}
	}
}

func (p *chromePage) ClearObstructions(ctx context.Context) (int, int, error) {
	var counts []int
	if err := p.run(ctx, actionTimeout, chromedp.Evaluate(obstructionScript, &counts)); err != nil {
		return 0, 0, err
	}
	if len(counts) != 2 {
		return 0, 0, nil
	}
	return counts[0], counts[1], nil
}

type chromeElement struct {
	page *chromePage
	sel  string
}

func (e *chromeElement) Attr(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := e.page.run(ctx, actionTimeout, chromedp.AttributeValue(e.sel, name, &value, &ok, chromedp.ByQuery))
	return value, ok, err
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? (el.innerText || el.textContent || "") : ""; })()`, jsString(e.sel))
	err := e.page.run(ctx, actionTimeout, chromedp.Evaluate(script, &text))
	return text, err
}

func (e *chromeElement) Click(ctx context.Context) error {
	err := e.page.run(ctx, actionTimeout, chromedp.Click(e.sel, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	// A synthetic click still reaches handlers when something overlaps the element.
	var clicked bool
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el) return false; el.click(); return true; })()`, jsString(e.sel))
	if jsErr := e.page.run(ctx, actionTimeout, chromedp.Evaluate(script, &clicked)); jsErr != nil || !clicked {
		return fmt.Errorf("click %s: %w", e.sel, err)
	}
	return nil
}

func (e *chromeElement) SelectOption(ctx context.Context, index int) (bool, error) {
	var ok bool
	script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el || !el.options || el.options.length <= %d) return false;
  el.selectedIndex = %d;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;
})()`, jsString(e.sel), index, index)
	err := e.page.run(ctx, actionTimeout, chromedp.Evaluate(script, &ok))
	return ok, err
}

func findScript(loc Locator, token string) string {
	return fmt.Sprintf(`(() => {
  const css = %s, want = %s.toLowerCase(), token = %s;
  let nodes;
  try { nodes = document.querySelectorAll(css); } catch (e) { return ""; }
  for (const el of nodes) {
    const r = el.getBoundingClientRect();
    const st = window.getComputedStyle(el);
    if (r.width === 0 || r.height === 0) continue;
    if (st.visibility === "hidden" || st.display === "none" || st.opacity === "0") continue;
    if (want) {
      const t = ((el.innerText || el.textContent || "") + " " + (el.value || "")).toLowerCase();
      if (!t.includes(want)) continue;
    }
    el.setAttribute(%s, token);
    return token;
  }
  return "";
})()`, jsString(loc.CSS), jsString(loc.Text), jsString(token), jsString(pickAttr))
}

const obstructionScript = `(() => {
  const area = window.innerWidth * window.innerHeight;
  const closeSel = '[aria-label*="close" i], button[class*="close"], [class*="close"][role="button"], button[class*="dismiss"], [data-dismiss], [data-action="close"]';
  let clicked = 0, hidden = 0;
  for (const el of document.querySelectorAll("body *")) {
    const st = window.getComputedStyle(el);
    if (st.position !== "fixed" && st.position !== "sticky") continue;
    const z = parseInt(st.zIndex, 10);
    if (isNaN(z) || z < 100) continue;
    if (st.display === "none" || st.visibility === "hidden") continue;
    const r = el.getBoundingClientRect();
    if (r.width * r.height < area * 0.25) continue;
    if (el.matches("header, nav, [role=navigation]") || el.closest("header, nav")) continue;
    const close = el.querySelector(closeSel);
    if (close) { close.click(); clicked++; continue; }
    el.style.setProperty("display", "none", "important");
    hidden++;
  }
  if (hidden > 0) {
    document.documentElement.style.overflow = "auto";
    document.body.style.overflow = "auto";
  }
  return [clicked, hidden];
})()`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
