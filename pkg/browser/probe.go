package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/pallasite/tokengate/pkg/logging"
)

// enterpriseReadyExpr checks that the grecaptcha Enterprise client is loaded
// and callable on the page.
const enterpriseReadyExpr = "typeof grecaptcha !== 'undefined' && typeof grecaptcha.enterprise !== 'undefined' && typeof grecaptcha.enterprise.execute === 'function'"

// ReadinessProbe ensures the reCAPTCHA client library is loaded and callable
// on a page, injecting the library when it is absent.
//
// The probe has a hard budget: one injection and a bounded poll. Not-ready is
// a final answer for the page; retrying belongs to the caller's page-load
// loop, not here.
type ReadinessProbe struct {
	siteKey string
	logger  *logging.Logger
	pause   func(ctx context.Context, d time.Duration) error
}

// NewReadinessProbe creates a probe for the given site key.
func NewReadinessProbe(siteKey string, logger *logging.Logger) *ReadinessProbe {
	return &ReadinessProbe{
		siteKey: siteKey,
		logger:  logger,
		pause:   pause,
	}
}

// WaitUntilReady reports whether the challenge library is usable on the page,
// injecting it first when missing. Returns false on budget exhaustion or
// context cancellation.
func (p *ReadinessProbe) WaitUntilReady(ctx context.Context, page Page) bool {
	if p.isReady(page) {
		p.logger.Infof("challenge library already loaded")
		return true
	}

	p.logger.Infof("challenge library not detected, injecting client script")
	if _, err := page.Evaluate(p.injectionScript()); err != nil {
		p.logger.Warnf("client script injection failed: %v", err)
		return false
	}

	// Let the script start downloading and parsing before polling.
	if err := p.pause(ctx, readinessWarmup); err != nil {
		return false
	}

	for attempt := 0; attempt < readinessPollLimit; attempt++ {
		if p.isReady(page) {
			p.logger.Infof("challenge library loaded after %d poll(s)", attempt+1)
			return true
		}
		if err := p.pause(ctx, readinessPollInterval); err != nil {
			return false
		}
	}

	p.logger.Warnf("challenge library never became ready within budget")
	return false
}

// isReady evaluates the readiness expression; evaluation errors count as
// not ready.
func (p *ReadinessProbe) isReady(page Page) bool {
	result, err := page.Evaluate(enterpriseReadyExpr)
	if err != nil {
		p.logger.Debugf("readiness evaluation failed: %v", err)
		return false
	}
	ready, ok := result.(bool)
	return ok && ready
}

// injectionScript adds the reCAPTCHA client script tag keyed by the site key,
// unless a matching tag already exists.
func (p *ReadinessProbe) injectionScript() string {
	return fmt.Sprintf(`(() => {
	if (document.querySelector('script[src*="recaptcha"]')) return;
	const script = document.createElement('script');
	script.src = 'https://www.google.com/recaptcha/api.js?render=%s';
	script.async = true;
	document.head.appendChild(script);
})()`, p.siteKey)
}
