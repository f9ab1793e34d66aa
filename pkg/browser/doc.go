// Package browser obtains reCAPTCHA Enterprise tokens by driving a real
// Chromium instance through Playwright.
//
// # Architecture
//
// The package is built from five components, leaf to root:
//
//  1. Controller: owns the Playwright driver and one persistent browser
//     context bound to an on-disk profile directory
//  2. ReadinessProbe: ensures the grecaptcha client library is loaded and
//     callable on a page, injecting it when absent
//  3. Executor: triggers grecaptcha.enterprise.execute on a ready page and
//     polls page globals for the produced token
//  4. ResidentChannel: one long-lived page kept loaded and challenge-ready
//     for a single target, serving tokens with minimal latency
//  5. LegacyAcquirer: a disposable page per request, used when no resident
//     channel applies or the resident execution misses
//
// Service is the facade over all of them: GetToken prefers the resident
// channel when it is ready and bound to the requested target, and falls back
// to exactly one legacy acquisition otherwise.
//
// # Page ownership
//
// Each logical flow owns its page: the resident channel holds one page for
// its lifetime, and every legacy acquisition opens and closes its own. No
// two flows ever evaluate against the same page concurrently, so page access
// needs no locking. The shared state (browser handle, resident channel
// state) is mutex-guarded.
//
// # Failure model
//
// Browser launch failures propagate; everything else degrades to a token
// miss. Poll loops are bounded by attempt counters, never unbounded waits,
// and respect context cancellation between attempts. Cleanup (closing pages,
// deleting page globals, stopping the browser) never raises: errors are
// logged and suppressed.
package browser
