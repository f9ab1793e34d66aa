package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pallasite/tokengate/pkg/logging"
)

// Executor triggers grecaptcha.enterprise.execute on a challenge-ready page
// and polls page globals for the produced token.
//
// Result globals get per-call unique names. The resident channel runs many
// sequential executions on one long-lived page, so a fixed name would let a
// stale result from an earlier call leak into a new one.
type Executor struct {
	siteKey string
	action  string
	logger  *logging.Logger
	pause   func(ctx context.Context, d time.Duration) error
	seq     atomic.Int64
}

// NewExecutor creates an executor for the given site key and action label.
func NewExecutor(siteKey, action string, logger *logging.Logger) *Executor {
	return &Executor{
		siteKey: siteKey,
		action:  action,
		logger:  logger,
		pause:   pause,
	}
}

// Execute runs the challenge on the page and returns the token, or ("",
// false) when the challenge errored or never resolved within the poll
// budget. The token is never empty when ok is true.
func (e *Executor) Execute(ctx context.Context, page Page) (string, bool) {
	tokenVar, errorVar := e.resultGlobals()

	if _, err := page.Evaluate(e.executionScript(tokenVar, errorVar)); err != nil {
		e.logger.Errorf("challenge execution script failed: %v", err)
		return "", false
	}

	token := e.pollForToken(ctx, page, tokenVar, errorVar)

	// Best-effort: clear the globals so repeated executions on a long-lived
	// page do not accumulate state. Failures here are irrelevant.
	if _, err := page.Evaluate(fmt.Sprintf("delete window.%s; delete window.%s;", tokenVar, errorVar)); err != nil {
		e.logger.Debugf("result global cleanup failed: %v", err)
	}

	return token, token != ""
}

// pollForToken reads the token global until it holds a value, the error
// global reports a failure, or the budget runs out.
func (e *Executor) pollForToken(ctx context.Context, page Page, tokenVar, errorVar string) string {
	for attempt := 0; attempt < executePollLimit; attempt++ {
		if err := e.pause(ctx, executePollInterval); err != nil {
			return ""
		}

		result, err := page.Evaluate("window." + tokenVar)
		if err != nil {
			e.logger.Warnf("token poll failed: %v", err)
			return ""
		}
		if token, ok := result.(string); ok && token != "" {
			return token
		}

		if msg := e.executionError(page, errorVar); msg != "" {
			e.logger.Errorf("challenge reported error: %s", msg)
			return ""
		}
	}

	e.logger.Warnf("challenge never resolved within poll budget")
	return ""
}

// executionError reads the error global, returning "" when no error is set.
func (e *Executor) executionError(page Page, errorVar string) string {
	result, err := page.Evaluate("window." + errorVar)
	if err != nil {
		return ""
	}
	msg, _ := result.(string)
	return msg
}

// resultGlobals generates a unique pair of page-global names for this call.
// A timestamp keeps names readable in page state dumps; the counter breaks
// ties between calls landing in the same millisecond.
func (e *Executor) resultGlobals() (tokenVar, errorVar string) {
	stamp := time.Now().UnixMilli()
	n := e.seq.Add(1)
	tokenVar = fmt.Sprintf("_recaptcha_token_%d_%d", stamp, n)
	errorVar = fmt.Sprintf("_recaptcha_error_%d_%d", stamp, n)
	return tokenVar, errorVar
}

// executionScript wraps the enterprise ready/execute API: the token or error
// lands in the unique globals, and synchronous exceptions are captured into
// the error global.
func (e *Executor) executionScript(tokenVar, errorVar string) string {
	return fmt.Sprintf(`(() => {
	window.%[1]s = null;
	window.%[2]s = null;

	try {
		grecaptcha.enterprise.ready(function() {
			grecaptcha.enterprise.execute('%[3]s', {action: '%[4]s'})
				.then(function(token) {
					window.%[1]s = token;
				})
				.catch(function(err) {
					window.%[2]s = err.message || 'execute failed';
				});
		});
	} catch (e) {
		window.%[2]s = e.message || 'exception';
	}
})()`, tokenVar, errorVar, e.siteKey, e.action)
}
