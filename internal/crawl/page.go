package crawl

import (
	"context"
	"errors"
	"time"
)

// ErrBrowserLaunch marks failures to start the browser or open a tab. They are
// session-level and abort the whole crawl.
var ErrBrowserLaunch = errors.New("browser launch failed")

// Locator describes how to find an element. CSS selects candidates; when Text
// is set only candidates whose visible text (or value) contains it,
// case-insensitively, match.
type Locator struct {
	CSS  string
	Text string
}

func (l Locator) String() string {
	if l.Text == "" {
		return l.CSS
	}
	return l.CSS + ` with text "` + l.Text + `"`
}

// Page is the single browser tab a session drives. Implementations are not
// safe for concurrent use; the orchestrator is the only caller.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	ScrollBy(ctx context.Context, dy int) error
	ScrollToTop(ctx context.Context) error
	Wait(ctx context.Context, d time.Duration) error

	// Probe waits up to timeout for the first visible element matching loc.
	Probe(ctx context.Context, loc Locator, timeout time.Duration) (Element, bool)

	// ClearObstructions looks for fixed or sticky high-z-index elements that
	// cover a large part of the viewport. It clicks a close control inside each
	// when one exists and hides the element otherwise.
	ClearObstructions(ctx context.Context) (clicked, hidden int, err error)
}

// Element is a handle to a matched element on the current page.
type Element interface {
	Attr(ctx context.Context, name string) (string, bool, error)
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	// SelectOption picks the option at index on a <select> element and fires
	// its change event. It reports false when the index does not exist.
	SelectOption(ctx context.Context, index int) (bool, error)
}

// Launcher opens a browser tab for one session. The returned release func
// closes the tab and the browser behind it.
type Launcher interface {
	Launch(ctx context.Context) (Page, func(), error)
}

// Options bounds the time spent on navigation and element probes.
type Options struct {
	NavigationTimeout time.Duration
	ProbeTimeout      time.Duration
	ProductProbe      time.Duration
	AddToCartProbe    time.Duration
	DismissProbe      time.Duration
	ScrollStep        int
	ScrollSettle      time.Duration
	ClickSettle       time.Duration
	AddToCartSettle   time.Duration
}

// DefaultOptions mirrors what works on most storefront themes.
func DefaultOptions() Options {
	return Options{
		NavigationTimeout: 15 * time.Second,
		ProbeTimeout:      time.Second,
		ProductProbe:      2 * time.Second,
		AddToCartProbe:    1500 * time.Millisecond,
		DismissProbe:      250 * time.Millisecond,
		ScrollStep:        600,
		ScrollSettle:      500 * time.Millisecond,
		ClickSettle:       500 * time.Millisecond,
		AddToCartSettle:   2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.ProductProbe <= 0 {
		o.ProductProbe = d.ProductProbe
	}
	if o.AddToCartProbe <= 0 {
		o.AddToCartProbe = d.AddToCartProbe
	}
	if o.DismissProbe <= 0 {
		o.DismissProbe = d.DismissProbe
	}
	if o.ScrollStep <= 0 {
		o.ScrollStep = d.ScrollStep
	}
	if o.ScrollSettle < 0 {
		o.ScrollSettle = 0
	}
	if o.ClickSettle < 0 {
		o.ClickSettle = 0
	}
	if o.AddToCartSettle < 0 {
		o.AddToCartSettle = 0
	}
	return o
}
