package browser

import (
	"context"
	"errors"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrTokenUnavailable reports that a token could not be produced by either
// acquisition path. It is the ordinary miss outcome; only browser-launch
// failures surface as other errors.
var ErrTokenUnavailable = errors.New("challenge token unavailable")

// Page is the subset of playwright.Page the acquisition flows touch.
// Narrowing the surface keeps the poll loops testable against fakes.
type Page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Evaluate(expression string, options ...interface{}) (interface{}, error)
	Close(options ...playwright.PageCloseOptions) error
	IsClosed() bool
	URL() string
}

// browserHost abstracts the Controller for the flows that need a running
// browser and fresh pages.
type browserHost interface {
	EnsureStarted(ctx context.Context) error
	NewPage() (Page, error)
	Close()
}

// prober abstracts the ReadinessProbe.
type prober interface {
	WaitUntilReady(ctx context.Context, page Page) bool
}

// tokenExecutor abstracts the Executor.
type tokenExecutor interface {
	Execute(ctx context.Context, page Page) (string, bool)
}

// readyStateExpr reads the document load state on a page.
const readyStateExpr = "document.readyState"

// Retry budgets and intervals. All waits are bounded attempt counters; there
// are no wall-clock deadlines beyond the caller's context.
const (
	// Readiness probe: one warm-up after injection, then a bounded poll.
	readinessWarmup       = 3 * time.Second
	readinessPollLimit    = 20
	readinessPollInterval = 500 * time.Millisecond

	// Challenge execution poll.
	executePollLimit    = 30
	executePollInterval = 500 * time.Millisecond

	// Resident channel page-load loop.
	residentLoadAttempts = 15
	residentLoadInterval = time.Second
	residentLoadBackoff  = 2 * time.Second

	// Legacy acquisition page-load wait. The loop is tolerant: acquisition
	// proceeds even if the document never reports complete.
	legacyWarmup         = 3 * time.Second
	legacyReadyPollLimit = 10
	legacyReadyInterval  = 500 * time.Millisecond
)

// Browser window dimensions.
const (
	ViewportWidth  = 1280
	ViewportHeight = 720
)

// chromiumArgs disable sandboxing and GPU use so the automation driver works
// in constrained and root environments.
var chromiumArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-setuid-sandbox",
	"--disable-gpu",
	"--window-size=1280,720",
	"--profile-directory=Default",
}

// pause sleeps for d, returning early with the context error if the caller's
// context is cancelled first. Poll loops call it between attempts so an
// external deadline can abort a poll.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
