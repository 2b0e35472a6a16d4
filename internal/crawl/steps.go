package crawl

import "time"

// StepName identifies one of the five fixed stages of a shopping session.
type StepName string

const (
	StepHomepage    StepName = "homepage"
	StepCollections StepName = "collections"
	StepProduct     StepName = "product"
	StepAddToCart   StepName = "add_to_cart"
	StepCart        StepName = "cart"
)

// Confidence tags how sure a discovery heuristic is that it reached the
// intended page.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// StepDefinition is one entry of the fixed stage sequence.
type StepDefinition struct {
	Name        StepName `json:"name"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
}

var steps = [...]StepDefinition{
	{
		Name:        StepHomepage,
		Label:       "Landing on Homepage",
		Description: "Arriving at the store for the first time, evaluating first impressions",
	},
	{
		Name:        StepCollections,
		Label:       "Browsing Collections",
		Description: "Looking for products, evaluating navigation and discovery",
	},
	{
		Name:        StepProduct,
		Label:       "Viewing a Product",
		Description: "Examining a product page, evaluating purchase decision factors",
	},
	{
		Name:        StepAddToCart,
		Label:       "Adding to Cart",
		Description: "Attempting to add a product, evaluating the conversion action",
	},
	{
		Name:        StepCart,
		Label:       "Reviewing Cart",
		Description: "Checking the cart, evaluating checkout readiness and friction",
	},
}

// Steps returns the stage sequence in session order. The returned slice is a
// copy; callers may not alter the canonical definitions.
func Steps() []StepDefinition {
	out := make([]StepDefinition, len(steps))
	copy(out, steps[:])
	return out
}

// Definition looks up a stage by name.
func Definition(name StepName) (StepDefinition, bool) {
	for _, s := range steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// Index returns the position of a stage in the session order, or -1.
func (n StepName) Index() int {
	for i, s := range steps {
		if s.Name == n {
			return i
		}
	}
	return -1
}

// Valid reports whether n is one of the five known stages.
func (n StepName) Valid() bool {
	return n.Index() >= 0
}

// StepRecord is the evidence captured for one stage. A record is produced for
// every stage of every session, failed or not.
type StepRecord struct {
	StepDefinition
	URL                  string     `json:"url,omitempty"`
	Title                string     `json:"title,omitempty"`
	Screenshots          []string   `json:"screenshots,omitempty"` // base64 PNG
	HTML                 string     `json:"html,omitempty"`
	Timestamp            time.Time  `json:"timestamp"`
	Error                string     `json:"error,omitempty"`
	NavigationConfidence Confidence `json:"navigationConfidence"`
	NavigationMethod     string     `json:"navigationMethod"`
}

// Failed reports whether the stage carries an error message, hard or soft.
func (r StepRecord) Failed() bool {
	return r.Error != ""
}

// NavigationResult is what a discovery heuristic hands to its step executor.
type NavigationResult struct {
	URL        string
	Method     string
	Confidence Confidence
}

// Result is the outcome of one orchestrated session.
type Result struct {
	Steps     []StepRecord
	TotalTime time.Duration
}
