package analysis

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rahul/storescout/internal/crawl"
	"github.com/rahul/storescout/internal/observability"
	"github.com/rahul/storescout/internal/reasoning"
	"go.uber.org/zap"
)

const (
	degradedNarrativeChars = 200

	defaultCommentaryTokens = 1000
	defaultHTMLExcerpt      = 8000
)

// stageFraming tells the reviewer what a shopper evaluates at each stage.
var stageFraming = map[crawl.StepName]string{
	crawl.StepHomepage:    "You just arrived at this store for the first time. Evaluate: can you tell what they sell in under 5 seconds? Is the value proposition clear? Is navigation intuitive?",
	crawl.StepCollections: "You're browsing the product catalog. Evaluate: is it organized logically? Can you filter or sort? Are product cards informative?",
	crawl.StepProduct:     "You're looking at a specific product. Evaluate: is the description compelling? Are images sufficient? Is pricing clear? Is Add to Cart prominent? Are reviews visible?",
	crawl.StepAddToCart:   "You just tried to add a product to cart. Evaluate: was the button easy to find? Is there confirmation feedback? Does a cart drawer appear?",
	crawl.StepCart:        "You're reviewing your cart before checkout. Evaluate: is the summary clear? Are shipping costs shown? Is there a clear checkout button? Are trust signals present?",
}

var screenshotFraming = map[crawl.StepName]string{
	crawl.StepHomepage:    "Screenshot shows the top of the page (above the fold).",
	crawl.StepCollections: "Screenshot shows the top of the collections page. Listings with prices may continue below the visible area; check the HTML for price data before flagging prices as missing.",
	crawl.StepProduct:     "Screenshot shows the top of the product page.",
	crawl.StepAddToCart:   "Screenshot was taken AFTER clicking the add-to-cart button. If a cart drawer or notification is visible the action succeeded; do not flag missing confirmation.",
	crawl.StepCart:        "Screenshot shows the cart page after scrolling. Cart contents, totals and the checkout button may be visible.",
}

type CommentaryOptions struct {
	MaxTokens   int
	HTMLExcerpt int
}

// Commentator is the per-stage synthesizer. It never fails on malformed
// model output; only reasoning-service errors are returned.
type Commentator struct {
	svc     reasoning.Service
	prompts *PromptManager
	opts    CommentaryOptions
	logger  *zap.Logger
}

func NewCommentator(svc reasoning.Service, prompts *PromptManager, opts CommentaryOptions, logger *zap.Logger) *Commentator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultCommentaryTokens
	}
	if opts.HTMLExcerpt <= 0 {
		opts.HTMLExcerpt = defaultHTMLExcerpt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commentator{svc: svc, prompts: prompts, opts: opts, logger: logger}
}

// Comment evaluates one stage record. prior holds the stages visited before
// it, in order. Output that does not parse into a commentary yields a
// degraded commentary and a nil error.
func (c *Commentator) Comment(ctx context.Context, rec crawl.StepRecord, storeURL string, prior []crawl.StepRecord) (Commentary, error) {
	log := c.logger.With(zap.String("stage", string(rec.Name)))

	var images [][]byte
	if img, ok := representativeImage(rec); ok {
		images = append(images, img)
	}

	resp, err := c.svc.Generate(ctx, reasoning.Request{
		Kind:      observability.EventTypeCommentary,
		SessionID: observability.SessionID(ctx),
		System:    c.prompts.CommentarySystem(),
		Images:    images,
		Prompt:    c.prompt(rec, storeURL, prior),
		MaxTokens: c.opts.MaxTokens,
	})
	if err != nil {
		observability.ObserveCommentary(observability.OutcomeFailed)
		return Commentary{}, fmt.Errorf("commentary for %s: %w", rec.Name, err)
	}

	com, err := parseCommentary(rec.Name, resp.Text)
	if err != nil {
		log.Warn("commentary did not parse, degrading",
			zap.Error(err),
			zap.Bool("truncated", resp.Truncated),
			zap.Int("response_chars", len(resp.Text)))
		observability.ObserveCommentary(observability.OutcomeDegraded)
		return degradedCommentary(rec.Name, resp.Text), nil
	}
	observability.ObserveCommentary(observability.OutcomeOK)
	return com, nil
}

func (c *Commentator) prompt(rec crawl.StepRecord, storeURL string, prior []crawl.StepRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Store: %s\n", storeURL)
	fmt.Fprintf(&b, "Current page: %s (%s)\n", rec.Label, orUnknown(rec.URL))
	fmt.Fprintf(&b, "Navigation: %s (confidence: %s)\n", orUnknown(rec.NavigationMethod), orUnknown(string(rec.NavigationConfidence)))
	fmt.Fprintf(&b, "Context: %s\n", stageFraming[rec.Name])
	fmt.Fprintf(&b, "Screenshot info: %s\n", screenshotFraming[rec.Name])

	if len(prior) > 0 {
		b.WriteString("\nPrevious pages visited:\n")
		for _, p := range prior {
			status := "OK"
			if p.Error != "" {
				status = "Issue: " + p.Error
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", p.Label, orUnknown(p.URL), status)
		}
	}

	b.WriteString("\nPage HTML (trimmed):\n")
	if rec.HTML == "" {
		b.WriteString("HTML not available")
	} else {
		b.WriteString(truncateRunes(rec.HTML, c.opts.HTMLExcerpt))
	}
	b.WriteString("\n")

	if rec.Error != "" {
		fmt.Fprintf(&b, "\nNote: %s. Factor this into your analysis and do not report findings based on incomplete data.\n", rec.Error)
	}
	if rec.NavigationConfidence != crawl.ConfidenceHigh {
		fmt.Fprintf(&b, "\nIMPORTANT: This page was reached via %s. If it appears empty or broken, this is likely a crawler navigation issue rather than a store problem. Do not blame the store for pages the crawler may have reached incorrectly.\n", orUnknown(rec.NavigationMethod))
	}
	b.WriteString("\nAnalyze this page based on the screenshot above and the HTML. JSON only.")
	return b.String()
}

// representativeImage picks the capture that best shows a stage: the last
// one for action stages, where the post-action state matters, the first
// otherwise.
func representativeImage(rec crawl.StepRecord) ([]byte, bool) {
	if len(rec.Screenshots) == 0 {
		return nil, false
	}
	idx := 0
	if rec.Name == crawl.StepAddToCart || rec.Name == crawl.StepCart {
		idx = len(rec.Screenshots) - 1
	}
	img, err := base64.StdEncoding.DecodeString(rec.Screenshots[idx])
	if err != nil || len(img) == 0 {
		return nil, false
	}
	return img, true
}

type rawCommentary struct {
	Observations []string    `json:"observations"`
	Issues       []StepIssue `json:"issues"`
	Positives    []string    `json:"positives"`
	Narrative    string      `json:"narrative"`
}

func parseCommentary(step crawl.StepName, text string) (Commentary, error) {
	var raw rawCommentary
	if err := decodeJSON(text, &raw); err != nil {
		return Commentary{}, err
	}
	if len(raw.Observations) == 0 && len(raw.Issues) == 0 && len(raw.Positives) == 0 && raw.Narrative == "" {
		return Commentary{}, fmt.Errorf("commentary has none of the expected fields")
	}

	issues := make([]StepIssue, 0, len(raw.Issues))
	for _, iss := range raw.Issues {
		if strings.TrimSpace(iss.Description) == "" {
			continue
		}
		if !iss.Severity.Valid() {
			iss.Severity = SeverityMedium
		}
		if !iss.Category.Valid() {
			iss.Category = stageCategory[step]
		}
		issues = append(issues, iss)
	}

	return Commentary{
		Step:         step,
		Observations: nonNil(raw.Observations),
		Issues:       issues,
		Positives:    nonNil(raw.Positives),
		Narrative:    strings.TrimSpace(raw.Narrative),
	}, nil
}

func degradedCommentary(step crawl.StepName, text string) Commentary {
	return Commentary{
		Step:         step,
		Observations: []string{},
		Issues:       []StepIssue{},
		Positives:    []string{},
		Narrative:    truncateRunes(strings.TrimSpace(text), degradedNarrativeChars),
		Degraded:     true,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
