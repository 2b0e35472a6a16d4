package crawl

import (
	"context"
	"fmt"
	"time"
)

func (s *session) evidence(step StepName) *evidence {
	return &evidence{page: s.page, step: step, cb: s.cb}
}

func (s *session) navigate(ctx context.Context, target string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()
	if err := s.page.Navigate(navCtx, target); err != nil {
		return err
	}
	return s.page.Wait(ctx, s.opts.ScrollSettle)
}

func (s *session) dismiss(ctx context.Context) {
	DismissOverlays(ctx, s.page, s.opts, s.logger)
}

func (s *session) scroll(ctx context.Context) error {
	if err := s.page.ScrollBy(ctx, s.opts.ScrollStep); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return s.page.Wait(ctx, s.opts.ScrollSettle)
}

// captureAll takes a screenshot, then one more after each of scrolls
// scroll-downs.
func (s *session) captureAll(ctx context.Context, ev *evidence, scrolls int) error {
	if err := ev.capture(ctx); err != nil {
		return err
	}
	for i := 0; i < scrolls; i++ {
		if err := s.scroll(ctx); err != nil {
			return err
		}
		if err := ev.capture(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) record(ctx context.Context, def StepDefinition, ev *evidence, html string, conf Confidence, method string) StepRecord {
	loc, _ := s.page.URL(ctx)
	return StepRecord{
		StepDefinition:       def,
		URL:                  loc,
		Title:                PageTitle(ev.rawDoc, loc),
		Screenshots:          ev.shots,
		HTML:                 html,
		Timestamp:            time.Now(),
		NavigationConfidence: conf,
		NavigationMethod:     method,
	}
}

func partial(ev *evidence) StepRecord {
	return StepRecord{Screenshots: ev.shots}
}

func (s *session) homepage(ctx context.Context, def StepDefinition) (StepRecord, error) {
	ev := s.evidence(def.Name)
	if err := s.navigate(ctx, s.storeURL); err != nil {
		return partial(ev), err
	}
	s.dismiss(ctx)
	if err := s.captureAll(ctx, ev, 1); err != nil {
		return partial(ev), err
	}
	html, err := ev.snapshot(ctx)
	if err != nil {
		return partial(ev), err
	}
	return s.record(ctx, def, ev, html, ConfidenceHigh, "direct URL "+s.storeURL), nil
}

func (s *session) collections(ctx context.Context, def StepDefinition) (StepRecord, error) {
	ev := s.evidence(def.Name)
	nav := FindCatalogLink(ctx, s.page, s.storeURL, s.opts.ProbeTimeout)
	if err := s.navigate(ctx, nav.URL); err != nil {
		return partial(ev), err
	}
	s.dismiss(ctx)
	if err := s.captureAll(ctx, ev, 1); err != nil {
		return partial(ev), err
	}
	html, err := ev.snapshot(ctx)
	if err != nil {
		return partial(ev), err
	}
	return s.record(ctx, def, ev, html, downgradeIfEmpty(nav.Confidence, ev.rawDoc), nav.Method), nil
}

func (s *session) product(ctx context.Context, def StepDefinition) (StepRecord, error) {
	ev := s.evidence(def.Name)
	nav := FindProductLink(ctx, s.page, s.storeURL, s.catalog, s.opts.ProductProbe)
	if err := s.navigate(ctx, nav.URL); err != nil {
		return partial(ev), err
	}
	s.dismiss(ctx)
	// Two scrolls reach reviews and details below the fold.
	if err := s.captureAll(ctx, ev, 2); err != nil {
		return partial(ev), err
	}
	html, err := ev.snapshot(ctx)
	if err != nil {
		return partial(ev), err
	}
	return s.record(ctx, def, ev, html, downgradeIfEmpty(nav.Confidence, ev.rawDoc), nav.Method), nil
}

// addToCart acts on whatever product page the previous stage left open. An
// unverifiable add is a soft failure: the record is complete but carries an
// explanatory error.
func (s *session) addToCart(ctx context.Context, def StepDefinition) (StepRecord, error) {
	ev := s.evidence(def.Name)
	if err := s.page.ScrollToTop(ctx); err != nil {
		return partial(ev), fmt.Errorf("scroll to top: %w", err)
	}
	_ = s.page.Wait(ctx, s.opts.ClickSettle)

	// Overlays are cleared before acting so the cart drawer that may open
	// afterwards stays in the final capture.
	s.dismiss(ctx)
	variant := SelectVariant(ctx, s.page, s.opts)

	if err := ev.capture(ctx); err != nil {
		return partial(ev), err
	}

	method := "action on current product page"
	if variant != "" {
		method += ", " + variant
	}

	var (
		conf     = ConfidenceLow
		verified bool
		problem  = "no add-to-cart control found"
	)
	if m, ok := FindAddToCart(ctx, s.page, s.opts.AddToCartProbe); ok {
		method += ", clicked " + m.Locator.String()
		if err := m.Element.Click(ctx); err != nil {
			problem = "add-to-cart click failed: " + err.Error()
		} else {
			conf = ConfidenceMedium
			problem = "clicked add-to-cart but no cart update appeared"
			_ = s.page.Wait(ctx, s.opts.AddToCartSettle)
			if VerifyCartUpdate(ctx, s.page, s.opts.ProbeTimeout) {
				verified = true
				conf = m.Confidence
			}
		}
	}

	if err := ev.capture(ctx); err != nil {
		return partial(ev), err
	}
	html, err := ev.snapshot(ctx)
	if err != nil {
		return partial(ev), err
	}

	rec := s.record(ctx, def, ev, html, conf, method)
	if !verified {
		rec.Error = "add-to-cart attempted but could not be verified: " + problem
	}
	return rec, nil
}

func (s *session) cart(ctx context.Context, def StepDefinition) (StepRecord, error) {
	ev := s.evidence(def.Name)
	if err := s.navigate(ctx, s.storeURL+"/cart"); err != nil {
		return partial(ev), err
	}
	s.dismiss(ctx)
	if err := s.captureAll(ctx, ev, 1); err != nil {
		return partial(ev), err
	}
	html, err := ev.snapshot(ctx)
	if err != nil {
		return partial(ev), err
	}
	return s.record(ctx, def, ev, html, ConfidenceHigh, "direct URL /cart"), nil
}

func downgradeIfEmpty(conf Confidence, rawDoc string) Confidence {
	if LooksEmpty(rawDoc) {
		return ConfidenceLow
	}
	return conf
}
