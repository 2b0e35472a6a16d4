package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProductLister answers the catalog listing API fallback of product
// discovery.
type ProductLister interface {
	FirstProductHandle(ctx context.Context, storeURL string) (string, error)
}

// CatalogClient queries a storefront's public /products.json listing.
type CatalogClient struct {
	HTTP      *http.Client
	UserAgent string
}

func NewCatalogClient() *CatalogClient {
	return &CatalogClient{
		HTTP:      &http.Client{Timeout: 8 * time.Second},
		UserAgent: defaultUserAgent,
	}
}

func (c *CatalogClient) FirstProductHandle(ctx context.Context, storeURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, storeURL+"/products.json?limit=1", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch product listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch product listing: status code %d", resp.StatusCode)
	}

	var listing struct {
		Products []struct {
			Handle string `json:"handle"`
		} `json:"products"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&listing); err != nil {
		return "", fmt.Errorf("failed to decode product listing: %w", err)
	}
	if len(listing.Products) == 0 || listing.Products[0].Handle == "" {
		return "", fmt.Errorf("product listing is empty")
	}
	return listing.Products[0].Handle, nil
}
