package crawl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeStore is an in-memory storefront: each URL has a document and a set of
// visible elements.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]string
	visible  map[string]map[Locator]*fakeElement
	navErr   map[string]error
	current  string
	visited  []string
	sweeps   int
	shotErr  error
	launchEr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:    map[string]string{},
		visible: map[string]map[Locator]*fakeElement{},
		navErr:  map[string]error{},
	}
}

func (f *fakeStore) page(url, html string) *fakeStore {
	f.docs[url] = html
	return f
}

func (f *fakeStore) show(url string, loc Locator, el *fakeElement) *fakeElement {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.visible[url] == nil {
		f.visible[url] = map[Locator]*fakeElement{}
	}
	f.visible[url][loc] = el
	return el
}

func (f *fakeStore) Launch(ctx context.Context) (Page, func(), error) {
	if f.launchEr != nil {
		return nil, nil, f.launchEr
	}
	return f, func() {}, nil
}

func (f *fakeStore) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited = append(f.visited, url)
	if err := f.navErr[url]; err != nil {
		return err
	}
	f.current = url
	return nil
}

func (f *fakeStore) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeStore) Screenshot(ctx context.Context) ([]byte, error) {
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return []byte("png:" + f.current), nil
}

func (f *fakeStore) HTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[f.current]
	if !ok {
		return "", errors.New("no document loaded")
	}
	return doc, nil
}

func (f *fakeStore) ScrollBy(ctx context.Context, dy int) error      { return nil }
func (f *fakeStore) ScrollToTop(ctx context.Context) error           { return nil }
func (f *fakeStore) Wait(ctx context.Context, d time.Duration) error { return ctx.Err() }

func (f *fakeStore) Probe(ctx context.Context, loc Locator, timeout time.Duration) (Element, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.visible[f.current][loc]
	if !ok {
		return nil, false
	}
	return el, true
}

func (f *fakeStore) ClearObstructions(ctx context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, 0, nil
}

type fakeElement struct {
	attrs    map[string]string
	text     string
	clicks   int
	selected int
	onClick  func()
	clickErr error
}

func (e *fakeElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) Text(ctx context.Context) (string, error) { return e.text, nil }

func (e *fakeElement) Click(ctx context.Context) error {
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) SelectOption(ctx context.Context, index int) (bool, error) {
	e.selected = index
	return true, nil
}

func link(href string) *fakeElement {
	return &fakeElement{attrs: map[string]string{"href": href}}
}

type fakeLister struct {
	handle string
	err    error
	calls  int
}

func (l *fakeLister) FirstProductHandle(ctx context.Context, storeURL string) (string, error) {
	l.calls++
	return l.handle, l.err
}

// fastOptions keeps the defaults but removes every settle delay.
func fastOptions() Options {
	o := DefaultOptions()
	o.ScrollSettle = 0
	o.ClickSettle = 0
	o.AddToCartSettle = 0
	return o
}

func doc(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}
