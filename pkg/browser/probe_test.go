package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestProbe(t *testing.T) *ReadinessProbe {
	t.Helper()
	probe := NewReadinessProbe("test-site-key", testLogger(t))
	probe.pause = instantPause
	return probe
}

func TestProbeReadyOnFirstCheck(t *testing.T) {
	probe := newTestProbe(t)

	page := &fakePage{
		evalFn: func(expr string) (interface{}, error) {
			if expr == enterpriseReadyExpr {
				return true, nil
			}
			return nil, nil
		},
	}

	assert.True(t, probe.WaitUntilReady(context.Background(), page))

	// No injection when the library is already present
	assert.Equal(t, 0, page.evalCount("createElement"))
	assert.Equal(t, 1, page.evalCount(enterpriseReadyExpr))
}

func TestProbeInjectsThenBecomesReady(t *testing.T) {
	probe := newTestProbe(t)

	checks := 0
	page := &fakePage{}
	page.evalFn = func(expr string) (interface{}, error) {
		if expr == enterpriseReadyExpr {
			checks++
			// Not present initially, loaded after injection and two polls
			return checks >= 3, nil
		}
		return nil, nil
	}

	assert.True(t, probe.WaitUntilReady(context.Background(), page))
	assert.Equal(t, 1, page.evalCount("createElement"))
	assert.Contains(t, page.evalExprs[1], "render=test-site-key")
}

func TestProbeNeverReady(t *testing.T) {
	probe := newTestProbe(t)

	page := &fakePage{
		evalFn: func(expr string) (interface{}, error) {
			if expr == enterpriseReadyExpr {
				return false, nil
			}
			return nil, nil
		},
	}

	assert.False(t, probe.WaitUntilReady(context.Background(), page))

	// Exactly one injection, and the initial check plus the bounded poll
	assert.Equal(t, 1, page.evalCount("createElement"))
	assert.Equal(t, 1+readinessPollLimit, page.evalCount(enterpriseReadyExpr))
}

func TestProbeInjectionFailure(t *testing.T) {
	probe := newTestProbe(t)

	page := &fakePage{
		evalFn: func(expr string) (interface{}, error) {
			if expr == enterpriseReadyExpr {
				return false, nil
			}
			return nil, errors.New("evaluation blew up")
		},
	}

	assert.False(t, probe.WaitUntilReady(context.Background(), page))
	// Injection failed, so polling never started
	assert.Equal(t, 1, page.evalCount(enterpriseReadyExpr))
}

func TestProbeEvaluationErrorCountsAsNotReady(t *testing.T) {
	probe := newTestProbe(t)

	page := &fakePage{
		evalFn: func(expr string) (interface{}, error) {
			if expr == enterpriseReadyExpr {
				return nil, errors.New("target closed")
			}
			return nil, nil
		},
	}

	assert.False(t, probe.WaitUntilReady(context.Background(), page))
}

func TestProbeContextCancellation(t *testing.T) {
	probe := newTestProbe(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := &fakePage{
		evalFn: func(expr string) (interface{}, error) {
			if expr == enterpriseReadyExpr {
				return false, nil
			}
			return nil, nil
		},
	}

	assert.False(t, probe.WaitUntilReady(ctx, page))
	// Cancelled during the warm-up: initial check and injection only
	assert.Equal(t, 1, page.evalCount(enterpriseReadyExpr))
	assert.Equal(t, 1, page.evalCount("createElement"))
}
