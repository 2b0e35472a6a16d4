package crawl

import (
	"context"

	"go.uber.org/zap"
)

// overlayCloseChain lists close/accept controls of cookie banners, geo
// modals, newsletter popups and age gates, most specific first.
var overlayCloseChain = []Locator{
	// Cookie and consent banners
	{CSS: `[class*="cookie"] button`},
	{CSS: `[id*="cookie"] button`},
	{CSS: `[class*="consent"] button`},
	{CSS: `button`, Text: "accept"},
	{CSS: `button`, Text: "got it"},
	{CSS: `button`, Text: "i agree"},
	// Geo and locale redirects
	{CSS: `[class*="shipping"] button`},
	{CSS: `[class*="geo"] button`},
	{CSS: `[class*="locale"] button`},
	{CSS: `button`, Text: "united states"},
	// Age gates
	{CSS: `[class*="age-gate"] button, [class*="age-verif"] button, [id*="age-gate"] button, [id*="age-verif"] button`, Text: "yes"},
	{CSS: `button`, Text: "i am over"},
	// Newsletter popups and generic modals
	{CSS: `[class*="popup"] button[class*="close"]`},
	{CSS: `[class*="modal"] button[class*="close"]`},
	{CSS: `[class*="newsletter"] [class*="close"]`},
	{CSS: `[aria-label="Close"]`},
	{CSS: `[aria-label="close"]`},
	{CSS: `button[class*="dismiss"]`},
}

// DismissOverlays makes a best-effort attempt to close anything obstructing
// the page. It never fails; each pattern gets a short probe and at most one
// click.
func DismissOverlays(ctx context.Context, page Page, opts Options, logger *zap.Logger) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, loc := range overlayCloseChain {
		if ctx.Err() != nil {
			return
		}
		el, ok := page.Probe(ctx, loc, opts.DismissProbe)
		if !ok {
			continue
		}
		if err := el.Click(ctx); err != nil {
			logger.Debug("overlay click failed", zap.Stringer("locator", loc), zap.Error(err))
			continue
		}
		logger.Debug("overlay dismissed", zap.Stringer("locator", loc))
		_ = page.Wait(ctx, opts.ClickSettle)
	}

	clicked, hidden, err := page.ClearObstructions(ctx)
	if err != nil {
		logger.Debug("obstruction sweep failed", zap.Error(err))
		return
	}
	if clicked+hidden > 0 {
		logger.Debug("obstructions cleared", zap.Int("clicked", clicked), zap.Int("hidden", hidden))
		_ = page.Wait(ctx, opts.ClickSettle)
	}
}
