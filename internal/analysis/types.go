// Package analysis turns captured shopping-session evidence into per-stage
// commentary and a scored audit report.
package analysis

import (
	"time"

	"github.com/rahul/storescout/internal/crawl"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}

// Category is one of the five fixed audit dimensions.
type Category string

const (
	CategoryFirstImpression Category = "first_impression"
	CategoryProductPage     Category = "product_page"
	CategoryTrust           Category = "trust_social_proof"
	CategoryMobile          Category = "mobile_readiness"
	CategoryPurchasePath    Category = "purchase_path"
)

type categoryDef struct {
	Category Category
	Label    string
}

var categories = [...]categoryDef{
	{CategoryFirstImpression, "First Impression & Navigation"},
	{CategoryProductPage, "Product Page Effectiveness"},
	{CategoryTrust, "Trust & Social Proof"},
	{CategoryMobile, "Mobile Readiness"},
	{CategoryPurchasePath, "Purchase Path & Checkout"},
}

// Categories lists the audit categories in report order.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i, c := range categories {
		out[i] = c.Category
	}
	return out
}

// Label is the display name of the category.
func (c Category) Label() string {
	for _, d := range categories {
		if d.Category == c {
			return d.Label
		}
	}
	return string(c)
}

func (c Category) Valid() bool {
	for _, d := range categories {
		if d.Category == c {
			return true
		}
	}
	return false
}

// stageCategory is the category an uncategorized stage issue falls into.
var stageCategory = map[crawl.StepName]Category{
	crawl.StepHomepage:    CategoryFirstImpression,
	crawl.StepCollections: CategoryFirstImpression,
	crawl.StepProduct:     CategoryProductPage,
	crawl.StepAddToCart:   CategoryPurchasePath,
	crawl.StepCart:        CategoryPurchasePath,
}

type StepIssue struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Fix         string   `json:"fix"`
}

// Commentary is the structured evaluation of one stage. A degraded
// commentary has no observations or issues and carries the raw reasoning
// output, shortened, as its narrative.
type Commentary struct {
	Step         crawl.StepName `json:"step"`
	Observations []string       `json:"observations"`
	Issues       []StepIssue    `json:"issues"`
	Positives    []string       `json:"positives"`
	Narrative    string         `json:"narrative"`
	Degraded     bool           `json:"degraded,omitempty"`
}

type AuditIssue struct {
	ID          string         `json:"id"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Fix         string         `json:"fix"`
	Page        crawl.StepName `json:"page"`
	Effort      string         `json:"effort,omitempty"`
	EffortType  string         `json:"effortType,omitempty"`
}

type CategoryScore struct {
	Category Category     `json:"category"`
	Label    string       `json:"label"`
	Score    int          `json:"score"`
	Issues   []AuditIssue `json:"issues"`
}

// Report is the holistic audit of one session.
type Report struct {
	StoreURL         string          `json:"storeUrl"`
	StoreName        string          `json:"storeName"`
	OverallScore     int             `json:"overallScore"`
	ShopperNarrative string          `json:"shopperNarrative"`
	QuickWins        []AuditIssue    `json:"quickWins"`
	Categories       []CategoryScore `json:"categories"`
	GeneratedAt      time.Time       `json:"generatedAt"`
}

// Category returns the breakdown entry for c.
func (r Report) Category(c Category) (CategoryScore, bool) {
	for _, cs := range r.Categories {
		if cs.Category == c {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

// Band names the score range an overall score falls into.
func Band(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 75:
		return "Good"
	case score >= 60:
		return "Fair"
	case score >= 40:
		return "Poor"
	default:
		return "Critical"
	}
}
