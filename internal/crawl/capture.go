package crawl

import (
	"context"
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxHTMLChars bounds the cleaned snapshot stored in a StepRecord.
	MaxHTMLChars = 50000

	emptyStateWindow = 5000
)

var (
	whitespace = regexp.MustCompile(`\s+`)

	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// snapshotPolicy keeps the markup structure and the attributes a reviewer
// needs to recognise controls, and drops everything executable.
func snapshotPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowElements("header", "nav", "main", "footer", "section", "article", "aside",
			"form", "button", "label", "select", "option", "input", "textarea", "fieldset", "legend",
			"dialog", "figure", "figcaption", "picture", "source")
		p.AllowAttrs("class", "id", "role", "aria-label", "aria-hidden", "aria-expanded", "title").Globally()
		p.AllowAttrs("name", "type", "value", "placeholder", "disabled", "checked", "selected").
			OnElements("button", "input", "select", "option", "textarea")
		p.AllowAttrs("srcset", "media").OnElements("source")
		p.AllowDataAttributes()
		p.AllowRelativeURLs(true)
		p.RequireNoFollowOnLinks(false)
		policy = p
	})
	return policy
}

// CleanHTML reduces a full document to its body with scripts, styles and
// inline vector art removed, whitespace collapsed and length capped at
// MaxHTMLChars.
func CleanHTML(raw string) string {
	body := raw
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
		doc.Find("script, style, noscript, svg, template, iframe, link, meta").Remove()
		doc.Find("[" + pickAttr + "]").RemoveAttr(pickAttr)
		if b := doc.Find("body").First(); b.Length() > 0 {
			if h, err := b.Html(); err == nil {
				body = h
			}
		}
	}

	cleaned := snapshotPolicy().Sanitize(body)
	cleaned = strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
	return truncateRunes(cleaned, MaxHTMLChars)
}

// PageTitle extracts a human title for the page, preferring the site name.
func PageTitle(raw, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(raw), u)
	if err != nil {
		return ""
	}
	if article.SiteName != "" {
		return strings.TrimSpace(article.SiteName)
	}
	return strings.TrimSpace(article.Title)
}

var emptyStatePatterns = []string{
	"nothing to see here",
	"no products found",
	"page not found",
	"404",
	"no results",
	"empty collection",
	"uh-oh",
	"doesn’t exist",
	"doesn't exist",
	"not available",
}

// VisibleText returns the whitespace-collapsed text of a document's body.
func VisibleText(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, svg, template").Remove()
	return strings.TrimSpace(whitespace.ReplaceAllString(doc.Find("body").Text(), " "))
}

// LooksEmpty reports whether the start of a page's visible text matches a
// known empty or error page message. Only the first few thousand characters
// are inspected so footer copy cannot trigger it, and markup (ids, classes,
// asset URLs) never does.
func LooksEmpty(raw string) bool {
	window := strings.ToLower(truncateRunes(VisibleText(raw), emptyStateWindow))
	for _, p := range emptyStatePatterns {
		if strings.Contains(window, p) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// evidence accumulates the screenshots of one stage and emits each as it is
// taken, with a per-stage index.
type evidence struct {
	page   Page
	step   StepName
	cb     Callbacks
	shots  []string
	rawDoc string
}

func (e *evidence) capture(ctx context.Context) error {
	png, err := e.page.Screenshot(ctx)
	if err != nil {
		return err
	}
	shot := base64.StdEncoding.EncodeToString(png)
	loc, _ := e.page.URL(ctx)
	index := len(e.shots)
	e.shots = append(e.shots, shot)
	e.cb.screenshot(e.step, shot, loc, index)
	return nil
}

// snapshot reads the current document and returns its cleaned form.
func (e *evidence) snapshot(ctx context.Context) (string, error) {
	raw, err := e.page.HTML(ctx)
	if err != nil {
		return "", err
	}
	e.rawDoc = raw
	return CleanHTML(raw), nil
}
