package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/pallasite/tokengate/pkg/config"
	"github.com/pallasite/tokengate/pkg/logging"
)

// Controller owns the Playwright driver and a single persistent browser
// context bound to the profile directory. The profile directory is the only
// persisted state: login cookies placed there survive process restarts.
type Controller struct {
	mu          sync.Mutex
	settings    *config.Settings
	logger      *logging.Logger
	pw          *playwright.Playwright
	browserCtx  playwright.BrowserContext
	initialized bool
}

// NewController creates a controller. The browser is not launched until
// EnsureStarted is called.
func NewController(settings *config.Settings, logger *logging.Logger) *Controller {
	return &Controller{
		settings: settings,
		logger:   logger,
	}
}

// EnsureStarted launches the browser if it is not already running.
// Idempotent: a live browser returns immediately; a browser that is marked
// running but no longer responds is torn down and relaunched. Launch
// failures propagate, since no automation is possible without a browser.
func (c *Controller) EnsureStarted(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized && c.browserCtx != nil {
		if c.aliveLocked() {
			return nil
		}
		c.logger.Warnf("browser is unresponsive, relaunching")
		c.shutdownLocked()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return c.launchLocked()
}

// aliveLocked reports whether the running browser still responds.
func (c *Controller) aliveLocked() bool {
	browser := c.browserCtx.Browser()
	if browser == nil {
		// Persistent contexts may not expose a browser handle; assume alive
		// and let the next page operation surface a failure.
		return true
	}
	return browser.IsConnected()
}

func (c *Controller) launchLocked() error {
	if err := os.MkdirAll(c.settings.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	// Discard driver output so it does not interleave with the host's stdio.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	c.logger.Infof("launching browser (profile: %s, headless: %v)", c.settings.ProfileDir, c.settings.Headless)

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(c.settings.Headless),
		Args:     chromiumArgs,
		Viewport: &playwright.Size{
			Width:  ViewportWidth,
			Height: ViewportHeight,
		},
	}

	browserCtx, err := pw.Chromium.LaunchPersistentContext(c.settings.ProfileDir, launchOpts)
	if err != nil {
		if stopErr := pw.Stop(); stopErr != nil {
			c.logger.Warnf("stopping playwright after failed launch: %v", stopErr)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	c.pw = pw
	c.browserCtx = browserCtx
	c.initialized = true
	c.logger.Infof("browser started")
	return nil
}

// NewPage opens a brand-new page in the persistent context. Callers own the
// returned page and are responsible for closing it.
func (c *Controller) NewPage() (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized || c.browserCtx == nil {
		return nil, fmt.Errorf("browser not started")
	}

	page, err := c.browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return page, nil
}

// Close stops the browser and the Playwright driver. Best-effort: every
// shutdown error is logged and suppressed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownLocked()
}

func (c *Controller) shutdownLocked() {
	if c.browserCtx != nil {
		if err := c.browserCtx.Close(); err != nil {
			c.logger.Warnf("closing browser context: %v", err)
		}
		c.browserCtx = nil
	}

	if c.pw != nil {
		if err := c.pw.Stop(); err != nil {
			c.logger.Warnf("stopping playwright: %v", err)
		}
		c.pw = nil
	}

	if c.initialized {
		c.logger.Infof("browser stopped")
	}
	c.initialized = false
}
