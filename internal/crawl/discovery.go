package crawl

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Candidate is one strategy in an ordered fallback chain. The confidence tag
// travels with whatever the candidate finds.
type Candidate struct {
	Locator    Locator
	Confidence Confidence
}

// Match is the first candidate of a chain that found a visible element.
type Match struct {
	Candidate
	Element Element
}

// FirstVisible evaluates chain in order and stops at the first hit. ok is
// false when every strategy comes up empty.
func FirstVisible(ctx context.Context, page Page, chain []Candidate, timeout time.Duration) (Match, bool) {
	for _, c := range chain {
		if ctx.Err() != nil {
			return Match{}, false
		}
		if el, ok := page.Probe(ctx, c.Locator, timeout); ok {
			return Match{Candidate: c, Element: el}, true
		}
	}
	return Match{}, false
}

var catalogChain = []Candidate{
	{Locator{CSS: `nav a[href*="collection"]`}, ConfidenceHigh},
	{Locator{CSS: `header a[href*="collection"]`}, ConfidenceHigh},
	{Locator{CSS: `nav a[href*="/shop"]`}, ConfidenceHigh},
	{Locator{CSS: `header a[href*="/shop"]`}, ConfidenceHigh},
	{Locator{CSS: `a[href*="/collections/all"]`}, ConfidenceHigh},
}

var productChain = []Candidate{
	{Locator{CSS: `main a[href*="/products/"]`}, ConfidenceHigh},
	{Locator{CSS: `a[href*="/products/"]`}, ConfidenceHigh},
}

var addToCartChain = []Candidate{
	{Locator{CSS: `button[name="add"]`}, ConfidenceHigh},
	{Locator{CSS: `button[type="submit"][class*="add"]`}, ConfidenceHigh},
	{Locator{CSS: `button`, Text: "add to cart"}, ConfidenceHigh},
	{Locator{CSS: `button`, Text: "add to bag"}, ConfidenceHigh},
	{Locator{CSS: `input[type="submit"][value*="Add"]`}, ConfidenceHigh},
	{Locator{CSS: `[data-action="add-to-cart"]`}, ConfidenceHigh},
	{Locator{CSS: `.product-form__submit`}, ConfidenceMedium},
	{Locator{CSS: `#AddToCart`}, ConfidenceMedium},
	{Locator{CSS: `#add-to-cart`}, ConfidenceMedium},
	{Locator{CSS: `form[action*="/cart/add"] [type="submit"]`}, ConfidenceMedium},
}

// variantClickChain is tried before the dropdown fallback.
var variantClickChain = []Candidate{
	{Locator{CSS: `[class*="size"] button`}, ConfidenceHigh},
	{Locator{CSS: `.product-form__input input[type="radio"]:not(:checked) + label`}, ConfidenceHigh},
	{Locator{CSS: `.product-form__input input[type="radio"]`}, ConfidenceHigh},
	{Locator{CSS: `[name*="option"] + label`}, ConfidenceHigh},
	{Locator{CSS: `[data-option-index] button`}, ConfidenceHigh},
}

var variantSelectChain = []Candidate{
	{Locator{CSS: `select[name*="option"]`}, ConfidenceMedium},
	{Locator{CSS: `select[name="id"]`}, ConfidenceMedium},
}

var cartCountChain = []Locator{
	{CSS: `[class*="cart-count"]`},
	{CSS: `[class*="cart-icon-bubble"]`},
	{CSS: `[data-cart-count]`},
}

var cartConfirmChain = []Locator{
	{CSS: `[class*="cart-drawer"]`},
	{CSS: `[class*="cart-notification"]`},
	{CSS: `[class*="side-cart"]`},
	{CSS: `[class*="success"]`},
	{CSS: `[class*="added"]`},
}

// FindCatalogLink locates the store's catalog page. It always yields a
// target: when no navigation link is visible it falls back to the
// conventional /collections/all path at medium confidence.
func FindCatalogLink(ctx context.Context, page Page, storeURL string, timeout time.Duration) NavigationResult {
	if m, ok := FirstVisible(ctx, page, catalogChain, timeout); ok {
		if href, ok, err := m.Element.Attr(ctx, "href"); err == nil && ok && href != "" {
			return NavigationResult{
				URL:        resolve(storeURL, href),
				Method:     "clicked nav link to " + href,
				Confidence: m.Confidence,
			}
		}
	}
	return NavigationResult{
		URL:        storeURL + "/collections/all",
		Method:     "fallback to /collections/all",
		Confidence: ConfidenceMedium,
	}
}

// FindProductLink locates a product detail page from the current page, then
// from the catalog listing API. When both fail it returns a low-confidence
// guess instead of an error so the session keeps going.
func FindProductLink(ctx context.Context, page Page, storeURL string, catalog ProductLister, timeout time.Duration) NavigationResult {
	if m, ok := FirstVisible(ctx, page, productChain, timeout); ok {
		if href, ok, err := m.Element.Attr(ctx, "href"); err == nil && ok && href != "" {
			return NavigationResult{
				URL:        resolve(storeURL, href),
				Method:     "clicked product link to " + href,
				Confidence: m.Confidence,
			}
		}
	}

	if catalog != nil {
		if handle, err := catalog.FirstProductHandle(ctx, storeURL); err == nil && handle != "" {
			return NavigationResult{
				URL:        storeURL + "/products/" + url.PathEscape(handle),
				Method:     "fallback to /products.json API (" + handle + ")",
				Confidence: ConfidenceMedium,
			}
		}
	}

	return NavigationResult{
		URL:        storeURL + "/collections/all",
		Method:     "guessed catalog page, no product link or listing API result",
		Confidence: ConfidenceLow,
	}
}

// FindAddToCart locates the add-to-cart control.
func FindAddToCart(ctx context.Context, page Page, timeout time.Duration) (Match, bool) {
	return FirstVisible(ctx, page, addToCartChain, timeout)
}

// SelectVariant picks a size or option so the add-to-cart control is
// enabled. Clickable swatches are preferred; for dropdowns the second option
// is chosen since the first is usually a placeholder. It returns a short
// description of what it did, or "" when nothing was selected.
func SelectVariant(ctx context.Context, page Page, opts Options) string {
	if m, ok := FirstVisible(ctx, page, variantClickChain, opts.ProbeTimeout); ok {
		if err := m.Element.Click(ctx); err == nil {
			_ = page.Wait(ctx, opts.ClickSettle)
			return "clicked variant " + m.Locator.String()
		}
	}
	if m, ok := FirstVisible(ctx, page, variantSelectChain, opts.ProbeTimeout); ok {
		if selected, err := m.Element.SelectOption(ctx, 1); err == nil && selected {
			_ = page.Wait(ctx, opts.ClickSettle)
			return "selected second option of " + m.Locator.String()
		}
	}
	return ""
}

var digits = regexp.MustCompile(`\d+`)

// VerifyCartUpdate looks for evidence that an item landed in the cart: a
// non-zero count badge, or a visible drawer or confirmation.
func VerifyCartUpdate(ctx context.Context, page Page, timeout time.Duration) bool {
	for _, loc := range cartCountChain {
		el, ok := page.Probe(ctx, loc, timeout)
		if !ok {
			continue
		}
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if nonZeroCount(text) {
			return true
		}
	}
	for _, loc := range cartConfirmChain {
		if _, ok := page.Probe(ctx, loc, timeout); ok {
			return true
		}
	}
	return false
}

func nonZeroCount(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	m := digits.FindString(text)
	if m == "" {
		return text != "0"
	}
	n, err := strconv.Atoi(m)
	return err == nil && n > 0
}

func resolve(storeURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(storeURL + "/")
	if err != nil {
		return storeURL + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return storeURL + href
	}
	return base.ResolveReference(ref).String()
}
