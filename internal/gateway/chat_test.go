package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/governance"
	"github.com/rahul/storescout/internal/session"
	"github.com/rahul/storescout/internal/storefront"
)

type fakeOutbox struct {
	mu       sync.Mutex
	texts    []string
	images   int
	captions []string
}

func (f *fakeOutbox) Send(chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeOutbox) SendImage(chatID string, png []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images++
	f.captions = append(f.captions, caption)
	return nil
}

func (f *fakeOutbox) joined() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.texts, "\n")
}

// stalledOutbox holds every send until release is closed.
type stalledOutbox struct {
	release chan struct{}
	mu      sync.Mutex
	sent    int
}

func (f *stalledOutbox) Send(chatID, text string) error {
	<-f.release
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *stalledOutbox) SendImage(chatID string, png []byte, caption string) error {
	return f.Send(chatID, caption)
}

func TestExtractURL(t *testing.T) {
	cases := map[string]string{
		"audit https://shop.test/products/x.": "https://shop.test/products/x",
		"check out shop.test please":          "shop.test",
		"(see http://a.shop.test)":            "http://a.shop.test",
		"hello there":                         "",
		"e.g it works":                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractURL(in), in)
	}
}

func TestChatRunnerHandle(t *testing.T) {
	aud := &fakeAuditor{report: true}
	runner := NewChatRunner(aud, Admission{Validator: fakeValidator{}}, 1, nil)
	out := &fakeOutbox{}

	runner.Handle(context.Background(), out, "telegram", "42", "please look at shop.test")

	assert.Equal(t, []string{"https://shop.test"}, aud.called)
	assert.Equal(t, 1, out.images, "only the first screenshot per stage is relayed")
	assert.Equal(t, []string{"Landing on Homepage"}, out.captions)

	text := out.joined()
	assert.Contains(t, text, "Auditing Shop")
	assert.Contains(t, text, "[1/5] Landing on Homepage")
	assert.Contains(t, text, "Landing on Homepage: Clean hero, clear offer.")
	assert.Contains(t, text, "Shop scored 80/100 (Good)")
	assert.Contains(t, text, "1. Show shipping costs: Add a banner")
}

func TestChatRunnerRejections(t *testing.T) {
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyHost("competitor.com")

	cases := map[string]struct {
		text      string
		validator Validator
		want      string
	}{
		"no url":         {"hi!", fakeValidator{}, "Send me a store URL"},
		"not storefront": {"blog.test", fakeValidator{err: storefront.ErrNotStorefront}, "doesn't appear to be a Shopify store"},
		"denied":         {"https://competitor.com", fakeValidator{}, "restricted"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			aud := &fakeAuditor{}
			runner := NewChatRunner(aud, Admission{Validator: tc.validator, Policy: policy}, 1, nil)
			out := &fakeOutbox{}
			runner.Handle(context.Background(), out, "discord", "chan", tc.text)
			assert.Empty(t, aud.called)
			assert.Contains(t, out.joined(), tc.want)
		})
	}
}

func TestChatRunnerEvidenceOnly(t *testing.T) {
	runner := NewChatRunner(&fakeAuditor{}, Admission{Validator: fakeValidator{}}, 1, nil)
	out := &fakeOutbox{}
	runner.Handle(context.Background(), out, "telegram", "42", "shop.test")

	text := out.joined()
	assert.Contains(t, text, "Error: "+session.ReportFailedMessage)
	assert.Contains(t, text, "Audit finished without a report.")
	assert.Contains(t, text, "1 stage notes were collected.")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\nline two", 10))
	assert.Equal(t, []string{"abcde", "fghij", "k"}, splitMessage("abcdefghijk", 5))

	for _, chunk := range splitMessage(strings.Repeat("é", 10), 5) {
		assert.True(t, len(chunk) <= 5)
		assert.Equal(t, 0, len(chunk)%2, "runes are never split")
	}
}

func TestConsoleSink(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	c := NewConsoleSink(&buf, dir, nil)

	(&fakeAuditor{report: true}).Run(context.Background(), "https://shop.test", c)

	assert.Equal(t, 2, c.Saved())
	_, err := os.Stat(filepath.Join(dir, "1-homepage-01.png"))
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Clean hero, clear offer.")
	assert.Contains(t, buf.String(), "80/100")
	assert.Contains(t, buf.String(), "Finished in 1.2s")
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	rep := analysis.Report{StoreURL: "https://shop.test", StoreName: "Shop", OverallScore: 71}
	require.NoError(t, WriteReport(path, rep))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got analysis.Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 71, got.OverallScore)
	assert.Equal(t, "Shop", got.StoreName)
}

func TestFormatSummaryCategories(t *testing.T) {
	snap := session.Snapshot{Report: &analysis.Report{
		StoreName:    "Shop",
		OverallScore: 35,
		Categories: []analysis.CategoryScore{
			{Category: analysis.Categories()[0], Label: "Navigation", Score: 30},
		},
	}}
	out := FormatSummary(snap)
	assert.True(t, strings.HasPrefix(out, "Shop scored 35/100 (Critical)"))
	assert.Contains(t, out, "  Navigation: 30")
}

func TestChatSinkDropsWhenChatStalls(t *testing.T) {
	out := &stalledOutbox{release: make(chan struct{})}
	sink := newChatSink(out, "42", zap.NewNop())

	const events = 500
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for i := 0; i < events; i++ {
			sink.Emit(session.Event{Type: session.EventError, Data: session.ErrorData{Message: "slow"}})
		}
		sink.Emit(session.Event{Type: session.EventScreenshot, Data: session.ScreenshotData{Step: "homepage", Screenshot: "aGk="}})
	}()

	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		close(out.release)
		t.Fatal("Emit blocked on a stalled chat")
	}
	assert.False(t, sink.shown["homepage"], "a dropped screenshot can be retried")

	close(out.release)
	sink.close()

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Less(t, out.sent, events)
	assert.Positive(t, out.sent)
}
