package browser

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pallasite/tokengate/pkg/config"
	"github.com/pallasite/tokengate/pkg/logging"
)

// residentRunner abstracts the ResidentChannel for the facade.
type residentRunner interface {
	Start(ctx context.Context, targetID string) error
	Stop()
	Token(ctx context.Context, targetID string) (string, bool)
	Applicable(targetID string) bool
	Active() bool
	TargetID() string
}

// acquirer abstracts the LegacyAcquirer for the facade.
type acquirer interface {
	Acquire(ctx context.Context, targetID string) (string, error)
}

// Service is the entry point for token acquisition. It owns the browser
// controller, one resident channel, and the legacy acquirer, and decides
// which path serves each request.
type Service struct {
	settings *config.Settings
	logger   *logging.Logger
	host     browserHost
	resident residentRunner
	legacy   acquirer

	// flight collapses concurrent legacy acquisitions for the same target:
	// one browser flow serves every waiter.
	flight singleflight.Group
}

// NewService wires a service from settings. The host process constructs one
// service at startup and passes it to consumers; the browser itself is not
// launched until the first operation needs it.
func NewService(settings *config.Settings, logger *logging.Logger) *Service {
	controller := NewController(settings, logger)
	probe := NewReadinessProbe(settings.SiteKey, logger)
	executor := NewExecutor(settings.SiteKey, settings.Action, logger)

	return &Service{
		settings: settings,
		logger:   logger,
		host:     controller,
		resident: NewResidentChannel(controller, probe, executor, settings, logger),
		legacy:   NewLegacyAcquirer(controller, probe, executor, settings, logger),
	}
}

var (
	defaultService *Service
	defaultOnce    sync.Once
)

// Default returns the process-wide service, constructing it on first call.
// The settings and logger of later calls are ignored. Hosts that can thread
// an explicit instance should prefer NewService.
func Default(settings *config.Settings, logger *logging.Logger) *Service {
	defaultOnce.Do(func() {
		defaultService = NewService(settings, logger)
	})
	return defaultService
}

// GetToken obtains a challenge token for targetID. The resident channel is
// tried first when it is up and bound to the target; a resident miss falls
// through to exactly one legacy acquisition. The returned token is never
// empty on a nil error; ordinary acquisition failures are
// ErrTokenUnavailable, and only browser-launch failures surface as other
// errors.
func (s *Service) GetToken(ctx context.Context, targetID string) (string, error) {
	if s.resident.Applicable(targetID) {
		if token, ok := s.resident.Token(ctx, targetID); ok {
			return token, nil
		}
		s.logger.Warnf("resident path missed, falling back to legacy acquisition")
	}

	result, err, _ := s.flight.Do(targetID, func() (interface{}, error) {
		return s.legacy.Acquire(ctx, targetID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// StartResident brings up the resident channel for targetID.
func (s *Service) StartResident(ctx context.Context, targetID string) error {
	return s.resident.Start(ctx, targetID)
}

// StopResident tears down the resident channel. No-op when not running.
func (s *Service) StopResident() {
	s.resident.Stop()
}

// ResidentActive reports whether the resident channel is up.
func (s *Service) ResidentActive() bool {
	return s.resident.Active()
}

// ResidentTargetID returns the resident channel's bound target, or "".
func (s *Service) ResidentTargetID() string {
	return s.resident.TargetID()
}

// Close shuts everything down: the resident channel first, then the browser.
// Best-effort; shutdown never raises.
func (s *Service) Close() {
	s.resident.Stop()
	s.host.Close()
}

// OpenLoginWindow opens a page on the identity provider's login page for a
// human operator. The profile directory persists the authenticated session,
// so future runs reuse it. Not part of the automated request path.
func (s *Service) OpenLoginWindow(ctx context.Context) error {
	if err := s.host.EnsureStarted(ctx); err != nil {
		return err
	}

	page, err := s.host.NewPage()
	if err != nil {
		return err
	}

	if _, err := page.Goto(s.settings.LoginURL); err != nil {
		return err
	}

	s.logger.Infof("login window opened; sign in manually, the profile directory keeps the session for future runs")
	return nil
}
