package browser

import (
	"context"
	"time"

	"github.com/pallasite/tokengate/pkg/config"
	"github.com/pallasite/tokengate/pkg/logging"
)

// LegacyAcquirer obtains a token with a disposable page per request:
// navigate, wait for load, probe readiness, execute, tear down. It is the
// fallback when no resident channel applies or the resident execution
// misses.
type LegacyAcquirer struct {
	host     browserHost
	probe    prober
	executor tokenExecutor
	settings *config.Settings
	logger   *logging.Logger
	pause    func(ctx context.Context, d time.Duration) error
}

// NewLegacyAcquirer creates a legacy acquirer.
func NewLegacyAcquirer(host browserHost, probe prober, executor tokenExecutor, settings *config.Settings, logger *logging.Logger) *LegacyAcquirer {
	return &LegacyAcquirer{
		host:     host,
		probe:    probe,
		executor: executor,
		settings: settings,
		logger:   logger,
		pause:    pause,
	}
}

// Acquire obtains a token for targetID on a fresh page. The page is closed
// on every exit path; the browser itself is never closed here. Browser
// launch failures propagate; every other failure is logged and returned as
// ErrTokenUnavailable.
func (l *LegacyAcquirer) Acquire(ctx context.Context, targetID string) (string, error) {
	if err := l.host.EnsureStarted(ctx); err != nil {
		return "", err
	}

	start := time.Now()

	page, err := l.host.NewPage()
	if err != nil {
		l.logger.Errorf("[legacy] failed to open page: %v", err)
		return "", ErrTokenUnavailable
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			l.logger.Debugf("[legacy] closing page: %v", closeErr)
		}
	}()

	url := l.settings.TargetURL(targetID)
	l.logger.Infof("[legacy] navigating to %s", url)

	if _, err := page.Goto(url); err != nil {
		l.logger.Errorf("[legacy] navigation failed: %v", err)
		return "", ErrTokenUnavailable
	}

	if err := l.awaitLoad(ctx, page); err != nil {
		return "", ErrTokenUnavailable
	}

	if !l.probe.WaitUntilReady(ctx, page) {
		l.logger.Errorf("[legacy] challenge library not ready")
		return "", ErrTokenUnavailable
	}

	token, ok := l.executor.Execute(ctx, page)
	if !ok {
		l.logger.Errorf("[legacy] token acquisition failed")
		return "", ErrTokenUnavailable
	}

	l.logger.Infof("[legacy] token acquired in %s", time.Since(start).Round(time.Millisecond))
	return token, nil
}

// awaitLoad gives the page a fixed warm-up, then polls document readiness a
// bounded number of times. Deliberately tolerant: if the document never
// reports complete the acquisition proceeds anyway and the readiness probe
// decides whether the page is usable.
func (l *LegacyAcquirer) awaitLoad(ctx context.Context, page Page) error {
	if err := l.pause(ctx, legacyWarmup); err != nil {
		return err
	}

	for attempt := 0; attempt < legacyReadyPollLimit; attempt++ {
		result, err := page.Evaluate(readyStateExpr)
		if err == nil {
			if state, ok := result.(string); ok && state == "complete" {
				return nil
			}
		} else {
			l.logger.Debugf("[legacy] readiness check failed: %v", err)
		}
		if err := l.pause(ctx, legacyReadyInterval); err != nil {
			return err
		}
	}

	l.logger.Warnf("[legacy] document never reported complete, proceeding anyway")
	return nil
}
