package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pallasite/tokengate/pkg/config"
	"github.com/pallasite/tokengate/pkg/logging"
)

// ChannelState is the lifecycle state of the resident channel.
type ChannelState int

const (
	// StateStopped: no page is held; Start may run.
	StateStopped ChannelState = iota
	// StateStarting: a Start is in flight; further Starts are rejected.
	StateStarting
	// StateReady: the page is loaded, challenge-ready, and bound to a target.
	StateReady
	// StateDegraded: the last execution on the page missed. The channel
	// stays bound and is retried; a successful execution restores Ready.
	StateDegraded
)

// String returns the state name.
func (s ChannelState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ResidentChannel keeps one long-lived page bound to one target identifier,
// loaded and challenge-ready, so tokens can be served without per-request
// navigation.
//
// State transitions happen only inside Start, Stop, and Token, guarded by
// one mutex. The page itself is only ever evaluated by one flow at a time:
// Token holds no lock during execution, but callers are expected to drive a
// channel from one request at a time (concurrent Tokens on the same page
// are safe only because the executor uses unique result globals).
type ResidentChannel struct {
	host     browserHost
	probe    prober
	executor tokenExecutor
	settings *config.Settings
	logger   *logging.Logger
	pause    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    ChannelState
	targetID string
	page     Page
}

// NewResidentChannel creates a stopped channel.
func NewResidentChannel(host browserHost, probe prober, executor tokenExecutor, settings *config.Settings, logger *logging.Logger) *ResidentChannel {
	return &ResidentChannel{
		host:     host,
		probe:    probe,
		executor: executor,
		settings: settings,
		logger:   logger,
		pause:    pause,
	}
}

// Start brings the channel up for targetID: browser started, fresh page
// opened and navigated, document loaded, challenge library ready. Only then
// does the channel become Ready. A channel that is already up (or starting)
// logs a warning and returns nil without touching the existing page.
func (r *ResidentChannel) Start(ctx context.Context, targetID string) error {
	r.mu.Lock()
	if r.state != StateStopped {
		r.mu.Unlock()
		r.logger.Warnf("resident channel already %s, ignoring start", r.State())
		return nil
	}
	r.state = StateStarting
	r.mu.Unlock()

	page, err := r.bringUp(ctx, targetID)
	if err != nil {
		r.setState(StateStopped)
		return err
	}

	r.mu.Lock()
	r.page = page
	r.targetID = targetID
	r.state = StateReady
	r.mu.Unlock()

	r.logger.Infof("resident channel ready (target: %s)", targetID)
	return nil
}

// bringUp performs the startup sequence and returns the prepared page.
func (r *ResidentChannel) bringUp(ctx context.Context, targetID string) (Page, error) {
	if err := r.host.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	url := r.settings.TargetURL(targetID)
	r.logger.Infof("resident channel starting, navigating to %s", url)

	page, err := r.host.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open resident page: %w", err)
	}

	if _, err := page.Goto(url); err != nil {
		// The load loop below recreates the page if it is truly gone.
		r.logger.Warnf("initial navigation failed: %v", err)
	}

	if page, err = r.awaitLoad(ctx, page, url); err != nil {
		r.closePage(page)
		return nil, err
	}

	if !r.probe.WaitUntilReady(ctx, page) {
		r.closePage(page)
		return nil, fmt.Errorf("challenge library not ready on resident page")
	}

	return page, nil
}

// awaitLoad waits for the document to report complete, recreating the page
// when its handle has been invalidated (e.g. the tab was closed out-of-band).
// The returned page is always the current one, even on failure, so the
// caller can clean it up; it may differ from the one passed in.
func (r *ResidentChannel) awaitLoad(ctx context.Context, page Page, url string) (Page, error) {
	for attempt := 1; attempt <= residentLoadAttempts; attempt++ {
		if err := r.pause(ctx, residentLoadInterval); err != nil {
			return page, err
		}

		result, err := page.Evaluate(readyStateExpr)
		if err != nil {
			if pageGone(page, err) {
				r.logger.Warnf("resident page lost: %v, recreating", err)
				if fresh, openErr := r.host.NewPage(); openErr != nil {
					r.logger.Errorf("failed to recreate resident page: %v", openErr)
				} else {
					page = fresh
					if _, gotoErr := page.Goto(url); gotoErr != nil {
						r.logger.Warnf("navigation on recreated page failed: %v", gotoErr)
					}
				}
			} else {
				r.logger.Warnf("page readiness check failed: %v (attempt %d/%d)", err, attempt, residentLoadAttempts)
			}
			if err := r.pause(ctx, residentLoadBackoff); err != nil {
				return page, err
			}
			continue
		}

		state, _ := result.(string)
		r.logger.Debugf("document readyState: %s (attempt %d/%d)", state, attempt, residentLoadAttempts)
		if state == "complete" {
			return page, nil
		}
	}

	return page, fmt.Errorf("resident page never finished loading")
}

// Stop tears the channel down. Idempotent: stopping a stopped channel is a
// no-op. The state flips to Stopped before the page closes, so concurrent
// token requests stop selecting the resident path immediately.
func (r *ResidentChannel) Stop() {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	page := r.page
	r.page = nil
	r.targetID = ""
	r.state = StateStopped
	r.mu.Unlock()

	r.closePage(page)
	r.logger.Infof("resident channel stopped")
}

// Token executes the challenge on the resident page. Valid only when the
// channel is up and bound to targetID; it trusts the page is still loaded
// and challenge-ready rather than re-probing per call. A miss moves the
// channel to Degraded and the caller should fall back to the legacy path.
func (r *ResidentChannel) Token(ctx context.Context, targetID string) (string, bool) {
	r.mu.Lock()
	if !r.applicableLocked(targetID) {
		r.mu.Unlock()
		return "", false
	}
	page := r.page
	r.mu.Unlock()

	start := time.Now()
	token, ok := r.executor.Execute(ctx, page)

	r.mu.Lock()
	if r.targetID == targetID && (r.state == StateReady || r.state == StateDegraded) {
		if ok {
			r.state = StateReady
		} else {
			r.state = StateDegraded
		}
	}
	r.mu.Unlock()

	if ok {
		r.logger.Infof("token served from resident page in %s", time.Since(start).Round(time.Millisecond))
	} else {
		r.logger.Warnf("resident execution missed, channel degraded")
	}
	return token, ok
}

// Applicable reports whether a token request for targetID should try the
// resident path.
func (r *ResidentChannel) Applicable(targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applicableLocked(targetID)
}

func (r *ResidentChannel) applicableLocked(targetID string) bool {
	if r.state != StateReady && r.state != StateDegraded {
		return false
	}
	return r.targetID == targetID && r.page != nil
}

// Active reports whether the channel is up (ready or degraded).
func (r *ResidentChannel) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateReady || r.state == StateDegraded
}

// State returns the current channel state.
func (r *ResidentChannel) State() ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TargetID returns the bound target identifier, or "" when not active.
func (r *ResidentChannel) TargetID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targetID
}

func (r *ResidentChannel) setState(state ChannelState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// closePage closes a page, swallowing errors: teardown never raises.
func (r *ResidentChannel) closePage(page Page) {
	if page == nil {
		return
	}
	if err := page.Close(); err != nil {
		r.logger.Debugf("closing resident page: %v", err)
	}
}

// pageGone reports whether an evaluation error means the page handle is
// invalid (the tab was closed or the connection dropped), as opposed to a
// transient evaluation failure.
func pageGone(page Page, err error) bool {
	if page.IsClosed() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "has been closed") ||
		strings.Contains(msg, "connection refused")
}
