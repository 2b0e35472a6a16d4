package crawl

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgeGateLocatorSkipsOrdinaryButtons(t *testing.T) {
	page, err := goquery.NewDocumentFromReader(strings.NewReader(`<body>
		<div class="product-page"><button>Yes</button></div>
		<div id="page-footer"><button>Yes</button></div>
		<div class="message"><button>Yes please</button></div>
		<div class="age-gate"><button>Yes, I am 21</button></div>
	</body>`))
	require.NoError(t, err)

	var hits []*goquery.Selection
	for _, loc := range overlayCloseChain {
		if loc.Text != "yes" {
			continue
		}
		page.Find(loc.CSS).Each(func(_ int, sel *goquery.Selection) {
			if strings.Contains(strings.ToLower(sel.Text()), loc.Text) {
				hits = append(hits, sel)
			}
		})
	}
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Closest(".age-gate").Length())
}
