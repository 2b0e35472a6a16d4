package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const store = "https://shop.test"

type recorder struct {
	events []string
	shots  map[StepName][]int
	errs   map[StepName]error
}

func newRecorder() *recorder {
	return &recorder{shots: map[StepName][]int{}, errs: map[StepName]error{}}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStepStart: func(def StepDefinition) {
			r.events = append(r.events, "start:"+string(def.Name))
		},
		OnScreenshot: func(step StepName, shot, url string, index int) {
			r.events = append(r.events, fmt.Sprintf("shot:%s:%d", step, index))
			r.shots[step] = append(r.shots[step], index)
		},
		OnStepComplete: func(rec StepRecord) {
			r.events = append(r.events, "complete:"+string(rec.Name))
		},
		OnError: func(step StepName, err error) {
			r.events = append(r.events, "error:"+string(step))
			r.errs[step] = err
		},
	}
}

// happyStore is a storefront where every heuristic finds its primary target.
func happyStore() *fakeStore {
	f := newFakeStore()
	product := store + "/products/tee"

	f.page(store, doc("Shop", "<main><h1>Welcome</h1><p>Soft cotton tees.</p></main>"))
	f.show(store, Locator{CSS: `nav a[href*="collection"]`}, link("/collections/all"))

	f.page(store+"/collections/all", doc("All", `<main><a href="/products/tee">Tee</a></main>`))
	f.show(store+"/collections/all", Locator{CSS: `main a[href*="/products/"]`}, link("/products/tee"))

	f.page(product, doc("Tee", `<main><h1>Tee</h1><button name="add">Add to cart</button></main>`))
	btn := f.show(product, Locator{CSS: `button[name="add"]`}, &fakeElement{})
	btn.onClick = func() {
		f.show(product, Locator{CSS: `[data-cart-count]`}, &fakeElement{text: "1"})
	}

	f.page(store+"/cart", doc("Cart", "<main><h1>Your cart</h1><p>Tee x1</p></main>"))
	return f
}

func TestCrawlHappyPath(t *testing.T) {
	f := happyStore()
	rec := newRecorder()
	c := NewCrawler(f, nil, fastOptions(), zaptest.NewLogger(t))

	res, err := c.Crawl(context.Background(), store+"/", rec.callbacks())
	require.NoError(t, err)
	require.Len(t, res.Steps, 5)

	for i, def := range Steps() {
		step := res.Steps[i]
		assert.Equal(t, def.Name, step.Name)
		assert.Empty(t, step.Error, "stage %s", def.Name)
		assert.Equal(t, ConfidenceHigh, step.NavigationConfidence, "stage %s", def.Name)
		assert.False(t, step.Timestamp.IsZero())
	}

	assert.Equal(t, "direct URL "+store, res.Steps[0].NavigationMethod)
	assert.Equal(t, "clicked nav link to /collections/all", res.Steps[1].NavigationMethod)
	assert.Equal(t, store+"/collections/all", res.Steps[1].URL)
	assert.Equal(t, store+"/products/tee", res.Steps[2].URL)
	assert.Contains(t, res.Steps[3].NavigationMethod, `clicked button[name="add"]`)
	assert.Equal(t, "direct URL /cart", res.Steps[4].NavigationMethod)

	assert.Equal(t, []int{0, 1}, rec.shots[StepHomepage])
	assert.Equal(t, []int{0, 1, 2}, rec.shots[StepProduct])
	assert.Equal(t, []int{0, 1}, rec.shots[StepAddToCart])
	assert.Len(t, res.Steps[2].Screenshots, 3)
	assert.Contains(t, res.Steps[0].HTML, "Soft cotton tees.")
	assert.Empty(t, rec.errs)
	assert.Positive(t, f.sweeps)
}

func TestCrawlEventOrder(t *testing.T) {
	rec := newRecorder()
	c := NewCrawler(happyStore(), nil, fastOptions(), nil)
	_, err := c.Crawl(context.Background(), store, rec.callbacks())
	require.NoError(t, err)

	// Within each stage: start, then screenshots, then completion.
	var stage string
	for _, ev := range rec.events {
		parts := strings.Split(ev, ":")
		switch parts[0] {
		case "start":
			stage = parts[1]
		case "shot", "complete":
			assert.Equal(t, stage, parts[1], "event %s outside its stage", ev)
		}
	}
	assert.Equal(t, "start:homepage", rec.events[0])
	assert.Equal(t, "complete:cart", rec.events[len(rec.events)-1])
}

func TestCrawlIsolatesProductFailure(t *testing.T) {
	f := happyStore()
	f.navErr[store+"/products/tee"] = errors.New("net::ERR_TIMED_OUT")
	rec := newRecorder()
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, rec.callbacks())
	require.NoError(t, err)
	require.Len(t, res.Steps, 5)

	product := res.Steps[2]
	assert.Contains(t, product.Error, "ERR_TIMED_OUT")
	assert.Equal(t, ConfidenceLow, product.NavigationConfidence)
	assert.Equal(t, "navigation failed", product.NavigationMethod)
	require.Contains(t, rec.errs, StepProduct)
	assert.NotContains(t, rec.events, "complete:product")

	// Add-to-cart still runs on whatever page is open and soft-fails.
	atc := res.Steps[3]
	assert.Contains(t, atc.Error, "could not be verified")
	assert.Contains(t, atc.Error, "no add-to-cart control found")
	assert.Equal(t, ConfidenceLow, atc.NavigationConfidence)
	assert.NotEmpty(t, atc.Screenshots)
	assert.Contains(t, rec.events, "complete:add_to_cart")

	assert.Empty(t, res.Steps[4].Error)
	assert.Contains(t, f.visited, store+"/cart")
}

func TestCrawlHomepageFailureKeepsHighConfidence(t *testing.T) {
	f := happyStore()
	f.navErr[store] = errors.New("net::ERR_NAME_NOT_RESOLVED")
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, Callbacks{})
	require.NoError(t, err)
	require.Len(t, res.Steps, 5)
	assert.NotEmpty(t, res.Steps[0].Error)
	assert.Equal(t, ConfidenceHigh, res.Steps[0].NavigationConfidence)
	assert.Equal(t, "direct URL "+store, res.Steps[0].NavigationMethod)
}

func TestCrawlUnverifiedAddToCartIsMedium(t *testing.T) {
	f := happyStore()
	product := store + "/products/tee"
	f.visible[product][Locator{CSS: `button[name="add"]`}].onClick = nil
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, Callbacks{})
	require.NoError(t, err)
	atc := res.Steps[3]
	assert.Equal(t, ConfidenceMedium, atc.NavigationConfidence)
	assert.Contains(t, atc.Error, "no cart update appeared")
}

func TestCrawlEmptyCatalogIsLow(t *testing.T) {
	f := newFakeStore()
	f.page(store, doc("Shop", "<main><h1>Hi</h1></main>"))
	f.page(store+"/collections/all", doc("Oops", "<main><h1>No products found</h1></main>"))
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, Callbacks{})
	require.NoError(t, err)
	col := res.Steps[1]
	assert.Equal(t, "fallback to /collections/all", col.NavigationMethod)
	assert.Equal(t, ConfidenceLow, col.NavigationConfidence)
}

func TestCrawlEmptyCatalogViaNavLinkIsLow(t *testing.T) {
	f := happyStore()
	f.page(store+"/collections/all", doc("Oops", "<main><h1>No products found</h1></main>"))
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, Callbacks{})
	require.NoError(t, err)
	col := res.Steps[1]
	assert.True(t, strings.HasPrefix(col.NavigationMethod, "clicked nav link"), col.NavigationMethod)
	assert.Equal(t, ConfidenceLow, col.NavigationConfidence)
}

func TestCrawlShopifyMarkupKeepsConfidence(t *testing.T) {
	f := happyStore()
	f.page(store+"/collections/all", doc("All", `<main><div id="shopify-section-template--15404938838236__product-grid" class="section">`+
		`<a href="/products/tee"><img src="/cdn/tee.jpg?v=1640481234"> Tee</a><span>$24.00</span></div></main>`))
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, res.Steps[1].NavigationConfidence)
}

func TestCrawlEmptyMessageBeyondWindowKeepsConfidence(t *testing.T) {
	f := happyStore()
	f.page(store+"/collections/all", doc("All", `<main><p>`+strings.Repeat("x", emptyStateWindow)+
		`</p><a href="/products/tee">Tee</a><p>No products found</p></main>`))
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, res.Steps[1].NavigationConfidence)
	assert.Empty(t, res.Steps[2].Error)
}

func TestCrawlRecoversPanickingHomepage(t *testing.T) {
	f := happyStore()
	f.show(store, Locator{CSS: `[aria-label="Close"]`}, &fakeElement{onClick: func() { panic("boom") }})
	rec := newRecorder()
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, rec.callbacks())
	require.NoError(t, err)
	require.Len(t, res.Steps, 5)
	home := res.Steps[0]
	assert.Contains(t, home.Error, "panicked")
	assert.Equal(t, ConfidenceHigh, home.NavigationConfidence)
	assert.Equal(t, "direct URL "+store, home.NavigationMethod)
	assert.Error(t, rec.errs[StepHomepage])
}

func TestCrawlRecoversPanickingStage(t *testing.T) {
	f := happyStore()
	product := store + "/products/tee"
	f.visible[product][Locator{CSS: `button[name="add"]`}].onClick = func() { panic("boom") }
	rec := newRecorder()
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, rec.callbacks())
	require.NoError(t, err)
	require.Len(t, res.Steps, 5)
	assert.Contains(t, res.Steps[3].Error, "panicked")
	assert.Equal(t, ConfidenceLow, res.Steps[3].NavigationConfidence)
	assert.Equal(t, StepAddToCart, res.Steps[3].Name)
	assert.Empty(t, res.Steps[4].Error)
}

func TestCrawlLaunchFailureIsFatal(t *testing.T) {
	f := newFakeStore()
	f.launchEr = errors.New("chrome not found")
	rec := newRecorder()
	c := NewCrawler(f, nil, fastOptions(), nil)

	res, err := c.Crawl(context.Background(), store, rec.callbacks())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrowserLaunch)
	assert.Empty(t, res.Steps)
	assert.Empty(t, rec.events)
}

func TestCrawlKeepsPartialScreenshots(t *testing.T) {
	f := happyStore()
	c := NewCrawler(f, nil, fastOptions(), nil)
	delete(f.docs, store+"/cart")

	res, err := c.Crawl(context.Background(), store, Callbacks{})
	require.NoError(t, err)
	cart := res.Steps[4]
	assert.Contains(t, cart.Error, "no document loaded")
	assert.Len(t, cart.Screenshots, 2)
	assert.Equal(t, ConfidenceLow, cart.NavigationConfidence)
}
