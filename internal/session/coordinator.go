package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/crawl"
	"github.com/rahul/storescout/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReportFailedMessage is sent when the audit cannot be synthesized; the
// per-stage evidence already streamed stays valid.
const ReportFailedMessage = "Failed to generate audit report. Step analyses are still available."

type Crawler interface {
	Crawl(ctx context.Context, storeURL string, cb crawl.Callbacks) (crawl.Result, error)
}

type Commentator interface {
	Comment(ctx context.Context, rec crawl.StepRecord, storeURL string, prior []crawl.StepRecord) (analysis.Commentary, error)
}

type Reporter interface {
	Report(ctx context.Context, storeURL string, steps []crawl.StepRecord, commentaries []analysis.Commentary) (analysis.Report, error)
}

// Summary is what a finished session leaves behind besides its stream.
type Summary struct {
	ID           string
	StoreURL     string
	Steps        []crawl.StepRecord
	Commentaries []analysis.Commentary // stage order
	Report       *analysis.Report
	ReportErr    error
	TotalTime    time.Duration
}

// Coordinator drives one audit per Run: the crawl, a background commentary
// task per completed stage, a barrier on those tasks, then the report.
type Coordinator struct {
	crawler     Crawler
	commentator Commentator
	reporter    Reporter
	tracker     *observability.Tracker
	logger      *zap.Logger
}

func NewCoordinator(crawler Crawler, commentator Commentator, reporter Reporter, tracker *observability.Tracker, logger *zap.Logger) *Coordinator {
	if tracker == nil {
		tracker = observability.NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		crawler:     crawler,
		commentator: commentator,
		reporter:    reporter,
		tracker:     tracker,
		logger:      logger,
	}
}

// Run audits storeURL, streaming events to sink. The stream always ends with
// done. The returned error is the session-level crawl failure, if any; a
// failed report is recorded in the Summary and does not fail the session.
func (c *Coordinator) Run(ctx context.Context, storeURL string, sink Sink) (Summary, error) {
	id := uuid.NewString()
	ctx = observability.WithSessionID(ctx, id)
	log := c.logger.With(zap.String("session", id), zap.String("store", storeURL))
	out := &serialSink{next: sink}
	start := time.Now()

	finish := observability.SessionStarted()
	defer finish()
	c.tracker.Start(id, storeURL)
	log.Info("session started")

	var (
		tasks     errgroup.Group
		mu        sync.Mutex
		byStep    = make(map[crawl.StepName]analysis.Commentary)
		completed []crawl.StepRecord
	)

	comment := func(rec crawl.StepRecord, prior []crawl.StepRecord) error {
		defer func() {
			if p := recover(); p != nil {
				log.Error("commentary panicked", zap.String("stage", string(rec.Name)), zap.Any("panic", p))
			}
		}()
		com, err := c.commentator.Comment(ctx, rec, storeURL, prior)
		if err != nil {
			log.Warn("commentary failed", zap.String("stage", string(rec.Name)), zap.Error(err))
			return nil
		}
		com.Step = rec.Name

		mu.Lock()
		if _, dup := byStep[rec.Name]; dup {
			mu.Unlock()
			return nil
		}
		byStep[rec.Name] = com
		mu.Unlock()

		out.Emit(commentaryEvent(com))
		return nil
	}

	cb := crawl.Callbacks{
		OnStepStart: func(def crawl.StepDefinition) {
			c.tracker.Update(id, observability.PhaseCrawling, string(def.Name))
			out.Emit(stepStartEvent(def))
		},
		OnScreenshot: func(step crawl.StepName, shot, url string, index int) {
			out.Emit(screenshotEvent(step, shot, url, index))
		},
		OnStepComplete: func(rec crawl.StepRecord) {
			prior := append([]crawl.StepRecord(nil), completed...)
			completed = append(completed, rec)
			log.Debug("stage recorded",
				zap.String("stage", string(rec.Name)),
				zap.String("confidence", string(rec.NavigationConfidence)),
				zap.Int("screenshots", len(rec.Screenshots)))
			// Commentary runs in the background so the next stage can start.
			tasks.Go(func() error { return comment(rec, prior) })
		},
		OnError: func(step crawl.StepName, err error) {
			out.Emit(errorEvent(err.Error(), step))
		},
	}

	result, crawlErr := c.crawler.Crawl(ctx, storeURL, cb)

	// Barrier: every commentary that will ever arrive has arrived, or failed,
	// before the report is attempted.
	_ = tasks.Wait()

	summary := Summary{ID: id, StoreURL: storeURL, Steps: result.Steps}
	for _, def := range crawl.Steps() {
		if com, ok := byStep[def.Name]; ok {
			summary.Commentaries = append(summary.Commentaries, com)
		}
	}

	if crawlErr != nil {
		log.Error("session failed", zap.Error(crawlErr))
		summary.TotalTime = time.Since(start)
		out.Emit(errorEvent(crawlErr.Error(), ""))
		out.Emit(doneEvent(summary.TotalTime.Milliseconds()))
		c.tracker.Update(id, observability.PhaseFailed, "")
		return summary, fmt.Errorf("session %s: %w", id, crawlErr)
	}

	summary.TotalTime = result.TotalTime
	c.tracker.Update(id, observability.PhaseAnalyzing, "")

	rep, err := c.reporter.Report(ctx, storeURL, result.Steps, summary.Commentaries)
	if err != nil {
		log.Error("audit report failed", zap.Error(err))
		summary.ReportErr = err
		out.Emit(errorEvent(ReportFailedMessage, ""))
	} else {
		summary.Report = &rep
		out.Emit(reportEvent(rep))
	}

	out.Emit(doneEvent(summary.TotalTime.Milliseconds()))
	c.tracker.Update(id, observability.PhaseDone, "")
	log.Info("session finished",
		zap.Int("commentaries", len(summary.Commentaries)),
		zap.Bool("report", summary.Report != nil),
		zap.Duration("took", time.Since(start)))
	return summary, nil
}
