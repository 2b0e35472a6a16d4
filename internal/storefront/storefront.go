// Package storefront checks that a URL points at a supported online store
// before a session is started against it.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var (
	ErrInvalidURL    = errors.New("invalid URL format")
	ErrNotStorefront = errors.New("this doesn't appear to be a Shopify store")
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// fingerprints are markers the platform leaves in storefront homepages.
var fingerprints = []string{
	"cdn.shopify.com",
	"Shopify.theme",
	"shopify-section",
	"myshopify.com",
	"shopify-features",
	"Shopify.locale",
}

// Normalize trims input, defaults the scheme to https and drops trailing
// slashes.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidURL
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	s = strings.TrimRight(s, "/")

	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" || strings.ContainsAny(u.Hostname(), " \t") {
		return s, ErrInvalidURL
	}
	return s, nil
}

// Validation is the outcome of probing a store.
type Validation struct {
	URL          string `json:"normalizedUrl"`
	StoreName    string `json:"storeName,omitempty"`
	IsStorefront bool   `json:"isShopify"`
	ListingAPI   bool   `json:"listingApi"`
	Fingerprint  bool   `json:"fingerprint"`
}

type Validator struct {
	HTTP   *http.Client
	logger *zap.Logger
}

func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		HTTP:   &http.Client{Timeout: 8 * time.Second},
		logger: logger,
	}
}

// Validate normalizes raw and probes it two ways: the public product listing
// endpoint and the homepage markup. Either signal is enough. A store that
// shows neither yields ErrNotStorefront together with what was learned.
func (v *Validator) Validate(ctx context.Context, raw string) (Validation, error) {
	norm, err := Normalize(raw)
	if err != nil {
		return Validation{URL: norm}, err
	}
	res := Validation{URL: norm}

	if ok, err := v.probeListing(ctx, norm); err != nil {
		v.logger.Debug("listing probe failed", zap.String("url", norm), zap.Error(err))
	} else {
		res.ListingAPI = ok
	}

	if name, ok, err := v.probeHomepage(ctx, norm); err != nil {
		v.logger.Debug("homepage probe failed", zap.String("url", norm), zap.Error(err))
	} else {
		res.StoreName = name
		res.Fingerprint = ok
	}

	res.IsStorefront = res.ListingAPI || res.Fingerprint
	if !res.IsStorefront {
		return res, ErrNotStorefront
	}
	return res, nil
}

func (v *Validator) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := v.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: status code %d", target, resp.StatusCode)
	}
	return resp, nil
}

func (v *Validator) probeListing(ctx context.Context, storeURL string) (bool, error) {
	resp, err := v.get(ctx, storeURL+"/products.json?limit=1")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var listing struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&listing); err != nil {
		return false, fmt.Errorf("failed to decode product listing: %w", err)
	}
	return listing.Products != nil, nil
}

func (v *Validator) probeHomepage(ctx context.Context, storeURL string) (string, bool, error) {
	resp, err := v.get(ctx, storeURL)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", false, fmt.Errorf("failed to read homepage: %w", err)
	}
	html := string(body)

	found := false
	for _, f := range fingerprints {
		if strings.Contains(html, f) {
			found = true
			break
		}
	}

	var name string
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		name = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return name, found, nil
}
