package browser

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/pallasite/tokengate/pkg/config"
	"github.com/pallasite/tokengate/pkg/logging"
)

// instantPause replaces real sleeps in tests. It still honors cancellation
// so context-abort paths stay testable.
func instantPause(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.NewWriterLogger("test", io.Discard)
}

func testSettings() *config.Settings {
	return config.DefaultSettings()
}

// fakePage is a scripted Page double that records every call.
type fakePage struct {
	mu         sync.Mutex
	evalFn     func(expr string) (interface{}, error)
	evalExprs  []string
	gotoURLs   []string
	gotoErr    error
	closeErr   error
	closeCalls int
	closed     bool
	url        string
}

func (p *fakePage) Goto(url string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoURLs = append(p.gotoURLs, url)
	p.url = url
	return nil, p.gotoErr
}

func (p *fakePage) Evaluate(expr string, _ ...interface{}) (interface{}, error) {
	p.mu.Lock()
	p.evalExprs = append(p.evalExprs, expr)
	fn := p.evalFn
	p.mu.Unlock()
	if fn != nil {
		return fn(expr)
	}
	return nil, nil
}

func (p *fakePage) Close(_ ...playwright.PageCloseOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	p.closed = true
	return p.closeErr
}

func (p *fakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// evalCount returns how many evaluated expressions contain substr.
func (p *fakePage) evalCount(substr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, expr := range p.evalExprs {
		if strings.Contains(expr, substr) {
			count++
		}
	}
	return count
}

// evalPrefixCount returns how many evaluated expressions start with prefix.
func (p *fakePage) evalPrefixCount(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, expr := range p.evalExprs {
		if strings.HasPrefix(expr, prefix) {
			count++
		}
	}
	return count
}

// loadedPage returns a page whose document reports complete and whose
// challenge library is already present.
func loadedPage() *fakePage {
	return &fakePage{
		evalFn: func(expr string) (interface{}, error) {
			switch {
			case expr == readyStateExpr:
				return "complete", nil
			case expr == enterpriseReadyExpr:
				return true, nil
			default:
				return nil, nil
			}
		},
	}
}

// fakeHost is a browserHost double. NewPage pops from the pages queue; when
// the queue runs dry it serves fresh loadedPage instances.
type fakeHost struct {
	mu           sync.Mutex
	startErr     error
	startCalls   int
	newPageErr   error
	newPageCalls int
	pages        []*fakePage
	served       []*fakePage
	closeCalls   int
	onClose      func()
}

func (h *fakeHost) EnsureStarted(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startCalls++
	return h.startErr
}

func (h *fakeHost) NewPage() (Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.newPageCalls++
	if h.newPageErr != nil {
		return nil, h.newPageErr
	}
	var page *fakePage
	if len(h.pages) > 0 {
		page = h.pages[0]
		h.pages = h.pages[1:]
	} else {
		page = loadedPage()
	}
	h.served = append(h.served, page)
	return page, nil
}

func (h *fakeHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeCalls++
	if h.onClose != nil {
		h.onClose()
	}
}

// fakeProber is a prober double.
type fakeProber struct {
	ready bool
	calls int
	pages []Page
}

func (p *fakeProber) WaitUntilReady(_ context.Context, page Page) bool {
	p.calls++
	p.pages = append(p.pages, page)
	return p.ready
}

// fakeExecutor is a tokenExecutor double.
type fakeExecutor struct {
	tokens []string // consumed per call; last value repeats
	calls  int
	pages  []Page
}

func (e *fakeExecutor) Execute(_ context.Context, page Page) (string, bool) {
	e.calls++
	e.pages = append(e.pages, page)
	token := ""
	if len(e.tokens) > 0 {
		token = e.tokens[0]
		if len(e.tokens) > 1 {
			e.tokens = e.tokens[1:]
		}
	}
	return token, token != ""
}

// fakeResident is a residentRunner double for facade tests.
type fakeResident struct {
	applicable bool
	token      string
	tokenCalls int
	startErr   error
	startCalls int
	stopCalls  int
	active     bool
	targetID   string
	onStop     func()
}

func (r *fakeResident) Start(_ context.Context, targetID string) error {
	r.startCalls++
	if r.startErr == nil {
		r.targetID = targetID
		r.active = true
	}
	return r.startErr
}

func (r *fakeResident) Stop() {
	r.stopCalls++
	r.active = false
	if r.onStop != nil {
		r.onStop()
	}
}

func (r *fakeResident) Token(_ context.Context, _ string) (string, bool) {
	r.tokenCalls++
	return r.token, r.token != ""
}

func (r *fakeResident) Applicable(_ string) bool { return r.applicable }

func (r *fakeResident) Active() bool { return r.active }

func (r *fakeResident) TargetID() string { return r.targetID }

// fakeAcquirer is an acquirer double for facade tests.
type fakeAcquirer struct {
	token string
	err   error
	calls int
}

func (a *fakeAcquirer) Acquire(_ context.Context, _ string) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return a.token, nil
}
