package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogClientFirstProductHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products.json", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products":[{"id":1,"handle":"linen-shirt"}]}`))
	}))
	defer srv.Close()

	handle, err := NewCatalogClient().FirstProductHandle(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "linen-shirt", handle)
}

func TestCatalogClientErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		"empty": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"products":[]}`))
		},
		"html": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>password page</html>`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := NewCatalogClient().FirstProductHandle(context.Background(), srv.URL)
			assert.Error(t, err)
		})
	}
}
