package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/crawl"
	"github.com/rahul/storescout/internal/governance"
	"github.com/rahul/storescout/internal/observability"
	"github.com/rahul/storescout/internal/session"
	"github.com/rahul/storescout/internal/storefront"
)

type fakeValidator struct {
	err error
}

func (f fakeValidator) Validate(ctx context.Context, raw string) (storefront.Validation, error) {
	norm, err := storefront.Normalize(raw)
	if err != nil {
		return storefront.Validation{}, err
	}
	if f.err != nil {
		return storefront.Validation{URL: norm}, f.err
	}
	return storefront.Validation{URL: norm, StoreName: "Shop", IsStorefront: true}, nil
}

type fakeAuditor struct {
	mu     sync.Mutex
	called []string
	report bool
}

func (f *fakeAuditor) Run(ctx context.Context, storeURL string, sink session.Sink) (session.Summary, error) {
	f.mu.Lock()
	f.called = append(f.called, storeURL)
	f.mu.Unlock()

	def, _ := crawl.Definition(crawl.StepHomepage)
	sink.Emit(session.Event{Type: session.EventStepStart, Data: session.StepStartData{Step: def.Name, Label: def.Label, Description: def.Description}})
	for i := 0; i < 2; i++ {
		sink.Emit(session.Event{Type: session.EventScreenshot, Data: session.ScreenshotData{Step: def.Name, Screenshot: "aGk=", URL: storeURL, Index: i}})
	}
	sink.Emit(session.Event{Type: session.EventCommentary, Data: analysis.Commentary{Step: def.Name, Narrative: "Clean hero, clear offer."}})
	if f.report {
		sink.Emit(session.Event{Type: session.EventReport, Data: analysis.Report{
			StoreURL:     storeURL,
			StoreName:    "Shop",
			OverallScore: 80,
			QuickWins:    []analysis.AuditIssue{{Title: "Show shipping costs", Fix: "Add a banner"}},
		}})
	} else {
		sink.Emit(session.Event{Type: session.EventError, Data: session.ErrorData{Message: session.ReportFailedMessage}})
	}
	sink.Emit(session.Event{Type: session.EventDone, Data: session.DoneData{TotalTime: 1200}})
	return session.Summary{}, nil
}

func newServer(aud Auditor, v Validator) *HTTPServer {
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyHost("competitor.com")
	return NewHTTPServer(aud, Admission{Validator: v, Policy: policy}, observability.NewTracker(), true, nil)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeStreamsEvents(t *testing.T) {
	aud := &fakeAuditor{report: true}
	h := newServer(aud, fakeValidator{}).Routes()

	rec := post(t, h, `{"url":"shop.test/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"https://shop.test"}, aud.called)

	var types []string
	for _, frame := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), frame)
		var ev struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"step_start", "screenshot", "screenshot", "commentary", "report", "done"}, types)
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	cases := map[string]struct {
		body      string
		validator Validator
		want      string
	}{
		"missing url":    {`{}`, fakeValidator{}, "URL is required"},
		"bad json":       {`{`, fakeValidator{}, "invalid request body"},
		"invalid url":    {`{"url":"https://"}`, fakeValidator{}, "invalid URL"},
		"not storefront": {`{"url":"blog.test"}`, fakeValidator{err: storefront.ErrNotStorefront}, "Shopify"},
		"denied host":    {`{"url":"https://shop.competitor.com"}`, fakeValidator{}, "restricted"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			aud := &fakeAuditor{}
			rec := post(t, newServer(aud, tc.validator).Routes(), tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tc.want)
			assert.Empty(t, aud.called)
		})
	}
}

func TestStatusEndpoints(t *testing.T) {
	tracker := observability.NewTracker()
	tracker.Start("abc", "https://shop.test")
	srv := NewHTTPServer(&fakeAuditor{}, Admission{}, tracker, true, nil)
	h := srv.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Sessions []observability.SessionStatus `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, "https://shop.test", status.Sessions[0].StoreURL)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHTTPServer(&fakeAuditor{}, Admission{}, nil, false, nil).Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
