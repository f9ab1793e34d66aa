// Package config holds the runtime settings for the token acquisition
// service: where the persistent browser profile lives, which reCAPTCHA site
// key and action label to use, and how target and login URLs are built.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults match the upstream Flow deployment this service was built against.
const (
	DefaultProfileDir        = "browser_data"
	DefaultSiteKey           = "6LdsFiUsAAAAAIjVDZcuLhaHiDn5nnHVXVRQGeMV"
	DefaultTargetURLTemplate = "https://labs.google/fx/tools/flow/project/%s"
	DefaultLoginURL          = "https://accounts.google.com/"
	DefaultAction            = "FLOW_GENERATION"
)

// Environment variables that override file and default values.
const (
	EnvProfileDir = "TOKENGATE_PROFILE_DIR"
	EnvHeadless   = "TOKENGATE_HEADLESS"
	EnvSiteKey    = "TOKENGATE_SITE_KEY"
)

// Settings configures the browser controller and the challenge flows.
type Settings struct {
	// ProfileDir is the persistent browser profile directory. It is the
	// only on-disk state: cookies and identity survive restarts through it.
	ProfileDir string `yaml:"profile_dir"`

	// Headless controls whether the browser runs without a visible window.
	// Headed is the default: the login window needs a human in front of it.
	Headless bool `yaml:"headless"`

	// SiteKey is the reCAPTCHA Enterprise site key used for injection and
	// execution.
	SiteKey string `yaml:"site_key"`

	// TargetURLTemplate builds the navigation URL from a target ID. It must
	// contain exactly one %s placeholder.
	TargetURLTemplate string `yaml:"target_url_template"`

	// LoginURL is the identity provider page opened for manual login.
	LoginURL string `yaml:"login_url"`

	// Action is the action label passed to grecaptcha.enterprise.execute.
	Action string `yaml:"action"`
}

// DefaultSettings returns settings with all defaults applied.
func DefaultSettings() *Settings {
	return &Settings{
		ProfileDir:        DefaultProfileDir,
		Headless:          false,
		SiteKey:           DefaultSiteKey,
		TargetURLTemplate: DefaultTargetURLTemplate,
		LoginURL:          DefaultLoginURL,
		Action:            DefaultAction,
	}
}

// Load builds settings from defaults, an optional YAML file, and environment
// overrides, in that order of increasing precedence.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}

	settings.applyEnv()

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// applyEnv overrides settings from environment variables.
func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvProfileDir); v != "" {
		s.ProfileDir = v
	}
	if v := os.Getenv(EnvHeadless); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			s.Headless = headless
		}
	}
	if v := os.Getenv(EnvSiteKey); v != "" {
		s.SiteKey = v
	}
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.ProfileDir == "" {
		return fmt.Errorf("profile_dir must not be empty")
	}
	if s.SiteKey == "" {
		return fmt.Errorf("site_key must not be empty")
	}
	if strings.Count(s.TargetURLTemplate, "%s") != 1 {
		return fmt.Errorf("target_url_template must contain exactly one %%s placeholder, got %q", s.TargetURLTemplate)
	}
	if s.LoginURL == "" {
		return fmt.Errorf("login_url must not be empty")
	}
	if s.Action == "" {
		return fmt.Errorf("action must not be empty")
	}
	return nil
}

// TargetURL builds the navigation URL for a target ID. The ID is opaque and
// is not validated beyond being substituted into the template.
func (s *Settings) TargetURL(targetID string) string {
	return fmt.Sprintf(s.TargetURLTemplate, targetID)
}
