package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/crawl"
	"github.com/rahul/storescout/internal/observability"
	"github.com/rahul/storescout/internal/session"
)

// ConsoleSink renders a session on a terminal and optionally saves each
// screenshot as a PNG under ScreenshotDir.
type ConsoleSink struct {
	w             io.Writer
	ScreenshotDir string
	logger        *zap.Logger
	saved         int
}

func NewConsoleSink(w io.Writer, screenshotDir string, logger *zap.Logger) *ConsoleSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSink{w: w, ScreenshotDir: screenshotDir, logger: logger}
}

func (c *ConsoleSink) Emit(ev session.Event) {
	total := len(crawl.Steps())
	switch d := ev.Data.(type) {
	case session.StepStartData:
		observability.PrintProgress(c.w, d.Step.Index(), total, d.Label)
	case session.ScreenshotData:
		c.save(d)
	case analysis.Commentary:
		label := string(d.Step)
		if def, ok := crawl.Definition(d.Step); ok {
			label = def.Label
		}
		if d.Degraded {
			label += " " + observability.Dim("(unstructured)")
		}
		observability.PrintLine(c.w, "%s %s", observability.Highlight(label+":"), d.Narrative)
	case analysis.Report:
		observability.PrintLine(c.w, "%s %d/100 (%s)", observability.Highlight("Overall score:"), d.OverallScore, analysis.Band(d.OverallScore))
	case session.ErrorData:
		if d.Step != "" {
			observability.PrintLine(c.w, "%s %s", observability.Dim("["+string(d.Step)+"]"), d.Message)
		} else {
			observability.PrintLine(c.w, "error: %s", d.Message)
		}
	case session.DoneData:
		observability.PrintProgress(c.w, total, total, "done")
		observability.PrintLine(c.w, "")
		observability.PrintLine(c.w, "Finished in %s", time.Duration(d.TotalTime)*time.Millisecond)
	}
}

// Saved is the number of screenshots written so far.
func (c *ConsoleSink) Saved() int {
	return c.saved
}

func (c *ConsoleSink) save(d session.ScreenshotData) {
	if c.ScreenshotDir == "" {
		return
	}
	png, err := base64.StdEncoding.DecodeString(d.Screenshot)
	if err != nil {
		c.logger.Warn("undecodable screenshot", zap.String("stage", string(d.Step)), zap.Error(err))
		return
	}
	if err := os.MkdirAll(c.ScreenshotDir, 0o755); err != nil {
		c.logger.Warn("failed to create screenshot dir", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%d-%s-%02d.png", d.Step.Index()+1, d.Step, d.Index)
	if err := os.WriteFile(filepath.Join(c.ScreenshotDir, name), png, 0o644); err != nil {
		c.logger.Warn("failed to write screenshot", zap.String("file", name), zap.Error(err))
		return
	}
	c.saved++
}

// WriteReport writes r as indented JSON to path.
func WriteReport(path string, r analysis.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
