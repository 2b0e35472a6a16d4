// Package crawl drives a headless browser through a first-time shopper's
// journey on a storefront and captures what the shopper would see at each
// stage.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rahul/storescout/internal/observability"
	"go.uber.org/zap"
)

// Callbacks receive lifecycle notifications while a session runs. Any of
// them may be nil. They are invoked from the crawling goroutine, in stage
// order.
type Callbacks struct {
	OnStepStart    func(def StepDefinition)
	OnScreenshot   func(step StepName, screenshot, url string, index int)
	OnStepComplete func(rec StepRecord)
	OnError        func(step StepName, err error)
}

func (cb Callbacks) stepStart(def StepDefinition) {
	if cb.OnStepStart != nil {
		cb.OnStepStart(def)
	}
}

func (cb Callbacks) screenshot(step StepName, shot, url string, index int) {
	if cb.OnScreenshot != nil {
		cb.OnScreenshot(step, shot, url, index)
	}
}

func (cb Callbacks) stepComplete(rec StepRecord) {
	if cb.OnStepComplete != nil {
		cb.OnStepComplete(rec)
	}
}

func (cb Callbacks) stepError(step StepName, err error) {
	if cb.OnError != nil {
		cb.OnError(step, err)
	}
}

// Crawler runs browsing sessions. One Crawler may serve many sessions; each
// Crawl launches its own browser.
type Crawler struct {
	launcher Launcher
	catalog  ProductLister
	opts     Options
	logger   *zap.Logger
}

func NewCrawler(launcher Launcher, catalog ProductLister, opts Options, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		launcher: launcher,
		catalog:  catalog,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Crawl walks the five stages against storeURL and always returns exactly
// five records in stage order. A stage that fails yields a degraded record
// and the session moves on. Only failures to start the browser are returned
// as errors.
func (c *Crawler) Crawl(ctx context.Context, storeURL string, cb Callbacks) (Result, error) {
	start := time.Now()
	storeURL = strings.TrimRight(storeURL, "/")

	page, release, err := c.launcher.Launch(ctx)
	if err != nil {
		if !errors.Is(err, ErrBrowserLaunch) {
			err = fmt.Errorf("%w: %v", ErrBrowserLaunch, err)
		}
		return Result{}, err
	}
	defer release()

	s := &session{
		page:     page,
		storeURL: storeURL,
		catalog:  c.catalog,
		opts:     c.opts,
		cb:       cb,
		logger:   c.logger.With(zap.String("store", storeURL)),
	}

	defs := Steps()
	records := make([]StepRecord, 0, len(defs))

	// The homepage target is caller-provided, so its confidence stays high
	// even when loading it fails.
	records = append(records, s.guard(ctx, defs[0], s.homepage, func(rec StepRecord) StepRecord {
		rec.NavigationConfidence = ConfidenceHigh
		rec.NavigationMethod = "direct URL " + storeURL
		return rec
	}))

	stages := []stageFunc{s.collections, s.product, s.addToCart, s.cart}
	for i, stage := range stages {
		records = append(records, s.guard(ctx, defs[i+1], stage, navigationFailed))
	}

	return Result{Steps: records, TotalTime: time.Since(start)}, nil
}

type stageFunc func(ctx context.Context, def StepDefinition) (StepRecord, error)

type session struct {
	page     Page
	storeURL string
	catalog  ProductLister
	opts     Options
	cb       Callbacks
	logger   *zap.Logger
}

// guard isolates one stage: errors and panics become a record shaped by
// degrade and never reach the caller.
func (s *session) guard(ctx context.Context, def StepDefinition, fn stageFunc, degrade func(StepRecord) StepRecord) (rec StepRecord) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("stage %s panicked: %v", def.Name, p)
			s.logger.Error("stage panicked", zap.String("stage", string(def.Name)), zap.Any("panic", p))
			s.cb.stepError(def.Name, err)
			rec = degrade(failedRecord(def, StepRecord{}, err))
		}
	}()
	return s.run(ctx, def, fn, degrade)
}

func navigationFailed(r StepRecord) StepRecord {
	r.NavigationConfidence = ConfidenceLow
	r.NavigationMethod = "navigation failed"
	return r
}

func (s *session) run(ctx context.Context, def StepDefinition, fn stageFunc, degrade func(StepRecord) StepRecord) StepRecord {
	s.cb.stepStart(def)
	started := time.Now()
	log := s.logger.With(zap.String("stage", string(def.Name)))

	rec, err := fn(ctx, def)
	if err != nil {
		log.Warn("stage failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		observability.ObserveStage(string(def.Name), observability.OutcomeFailed, time.Since(started))
		s.cb.stepError(def.Name, err)
		return degrade(failedRecord(def, rec, err))
	}

	outcome := observability.OutcomeOK
	if rec.Failed() {
		outcome = observability.OutcomeSoftFail
	}
	log.Info("stage complete",
		zap.String("url", rec.URL),
		zap.String("confidence", string(rec.NavigationConfidence)),
		zap.String("method", rec.NavigationMethod),
		zap.Int("screenshots", len(rec.Screenshots)),
		zap.Duration("took", time.Since(started)))
	observability.ObserveStage(string(def.Name), outcome, time.Since(started))
	s.cb.stepComplete(rec)
	return rec
}

func failedRecord(def StepDefinition, rec StepRecord, err error) StepRecord {
	rec.StepDefinition = def
	rec.Error = err.Error()
	rec.Timestamp = time.Now()
	return rec
}
