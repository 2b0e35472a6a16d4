package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rahul/storescout/internal/crawl"
	"github.com/rahul/storescout/internal/observability"
	"github.com/rahul/storescout/internal/reasoning"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

var (
	// ErrReportTruncated means the reasoning service stopped at its output
	// bound before finishing the report.
	ErrReportTruncated = errors.New("audit report response was truncated: output exceeded token limit")

	// ErrReportMalformed means the response could not be read as a report.
	ErrReportMalformed = errors.New("failed to parse audit report from reasoning response")
)

const (
	defaultReportTokens = 8000
	maxQuickWins        = 3
)

type ReportOptions struct {
	MaxTokens int
}

// Reporter is the whole-session synthesizer. Unlike Commentator it fails
// hard: there is no safe partial rendering of a report.
type Reporter struct {
	svc     reasoning.Service
	prompts *PromptManager
	opts    ReportOptions
	logger  *zap.Logger
	now     func() time.Time
}

func NewReporter(svc reasoning.Service, prompts *PromptManager, opts ReportOptions, logger *zap.Logger) *Reporter {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultReportTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{svc: svc, prompts: prompts, opts: opts, logger: logger, now: time.Now}
}

// Report synthesizes the audit from every stage record and the commentaries
// that arrived, matched to stages by name.
func (r *Reporter) Report(ctx context.Context, storeURL string, steps []crawl.StepRecord, commentaries []Commentary) (Report, error) {
	byStep := make(map[crawl.StepName]Commentary, len(commentaries))
	for _, c := range commentaries {
		byStep[c.Step] = c
	}

	var images [][]byte
	for _, s := range steps {
		if img, ok := representativeImage(s); ok {
			images = append(images, img)
		}
	}

	resp, err := r.svc.Generate(ctx, reasoning.Request{
		Kind:      observability.EventTypeReport,
		SessionID: observability.SessionID(ctx),
		System:    r.prompts.ReportSystem(),
		Images:    images,
		Prompt:    reportPrompt(storeURL, steps, byStep),
		MaxTokens: r.opts.MaxTokens,
	})
	if err != nil {
		observability.ObserveReport(observability.OutcomeFailed)
		return Report{}, fmt.Errorf("audit report: %w", err)
	}

	if resp.Truncated {
		r.logger.Error("audit report truncated",
			zap.String("stop_reason", resp.StopReason),
			zap.Int("response_chars", len(resp.Text)))
		observability.ObserveReport(observability.OutcomeTruncated)
		return Report{}, ErrReportTruncated
	}

	rep, err := parseReport(resp.Text)
	if err != nil {
		r.logger.Error("audit report did not parse",
			zap.Error(err),
			zap.String("stop_reason", resp.StopReason),
			zap.String("preview", truncateRunes(resp.Text, 500)))
		observability.ObserveReport(observability.OutcomeMalformed)
		return Report{}, fmt.Errorf("%w: %v", ErrReportMalformed, err)
	}

	rep.StoreURL = storeURL
	if rep.StoreName == "" {
		rep.StoreName = fallbackStoreName(storeURL, steps)
	}
	rep.GeneratedAt = r.now().UTC()
	observability.ObserveReport(observability.OutcomeOK)
	return rep, nil
}

func reportPrompt(storeURL string, steps []crawl.StepRecord, byStep map[crawl.StepName]Commentary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Full audit for: %s\n\nBrowsing session:\n", storeURL)
	for _, s := range steps {
		fmt.Fprintf(&b, "\n=== %s (%s) ===\n", s.Label, orUnknown(s.URL))
		fmt.Fprintf(&b, "Navigation: %s (confidence: %s)\n", orUnknown(s.NavigationMethod), orUnknown(string(s.NavigationConfidence)))
		if s.Error != "" {
			fmt.Fprintf(&b, "Crawler note: %s\n", s.Error)
		}
		c, ok := byStep[s.Name]
		if !ok {
			b.WriteString("No page analysis available.\n")
			continue
		}
		if len(c.Observations) > 0 {
			fmt.Fprintf(&b, "Observations: %s\n", strings.Join(c.Observations, "; "))
		}
		if len(c.Issues) > 0 {
			issues := make([]string, len(c.Issues))
			for i, iss := range c.Issues {
				issues[i] = fmt.Sprintf("[%s] %s", iss.Severity, iss.Description)
			}
			fmt.Fprintf(&b, "Issues: %s\n", strings.Join(issues, "; "))
		}
		if len(c.Positives) > 0 {
			fmt.Fprintf(&b, "Positives: %s\n", strings.Join(c.Positives, "; "))
		}
		if c.Narrative != "" {
			fmt.Fprintf(&b, "Narrative: %s\n", c.Narrative)
		}
	}
	b.WriteString("\nSynthesize the per-page analyses above into a comprehensive audit. Top 3 quickWins = highest impact, lowest effort. JSON only.")
	return b.String()
}

type rawReport struct {
	StoreName        string       `json:"storeName"`
	OverallScore     *float64     `json:"overallScore"`
	ShopperNarrative string       `json:"shopperNarrative"`
	QuickWins        []AuditIssue `json:"quickWins"`
	Categories       []struct {
		Category Category     `json:"category"`
		Label    string       `json:"label"`
		Score    float64      `json:"score"`
		Issues   []AuditIssue `json:"issues"`
	} `json:"categories"`
}

// parseReport decodes and normalizes a report. All five categories and the
// overall score must be present.
func parseReport(text string) (Report, error) {
	var raw rawReport
	if err := decodeJSON(text, &raw); err != nil {
		return Report{}, err
	}
	if raw.OverallScore == nil {
		return Report{}, fmt.Errorf("overallScore missing")
	}

	byCat := make(map[Category]CategoryScore, len(raw.Categories))
	for _, c := range raw.Categories {
		if !c.Category.Valid() {
			continue
		}
		label := strings.TrimSpace(c.Label)
		if label == "" {
			label = c.Category.Label()
		}
		byCat[c.Category] = CategoryScore{
			Category: c.Category,
			Label:    label,
			Score:    clampScore(c.Score),
			Issues:   normalizeIssues(c.Issues, c.Category, string(c.Category)+"-"),
		}
	}

	cats := make([]CategoryScore, 0, len(categories))
	var missing []string
	for _, def := range categories {
		cs, ok := byCat[def.Category]
		if !ok {
			missing = append(missing, string(def.Category))
			continue
		}
		cats = append(cats, cs)
	}
	if len(missing) > 0 {
		return Report{}, fmt.Errorf("categories missing: %s", strings.Join(missing, ", "))
	}

	wins := raw.QuickWins
	if len(wins) > maxQuickWins {
		wins = wins[:maxQuickWins]
	}

	return Report{
		StoreName:        strings.TrimSpace(raw.StoreName),
		OverallScore:     clampScore(*raw.OverallScore),
		ShopperNarrative: strings.TrimSpace(raw.ShopperNarrative),
		QuickWins:        normalizeIssues(wins, "", "qw"),
		Categories:       cats,
	}, nil
}

func normalizeIssues(in []AuditIssue, cat Category, idPrefix string) []AuditIssue {
	out := make([]AuditIssue, 0, len(in))
	for i, iss := range in {
		if iss.ID == "" {
			iss.ID = fmt.Sprintf("%s%d", idPrefix, i+1)
		}
		if cat != "" && !iss.Category.Valid() {
			iss.Category = cat
		}
		if !iss.Severity.Valid() {
			iss.Severity = SeverityMedium
		}
		out = append(out, iss)
	}
	return out
}

// fallbackStoreName prefers the title captured on the homepage, then the
// registrable domain of the store.
func fallbackStoreName(storeURL string, steps []crawl.StepRecord) string {
	for _, s := range steps {
		if s.Name == crawl.StepHomepage && s.Title != "" {
			return s.Title
		}
	}
	u, err := url.Parse(storeURL)
	if err != nil || u.Hostname() == "" {
		return storeURL
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return u.Hostname()
	}
	return domain
}
