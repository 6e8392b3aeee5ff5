package vbdlis

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the service. Zero values fall back to
// production defaults via defaults().
type Config struct {
	// BaseURL is the portal endpoint used when a request carries no server
	// override.
	BaseURL string `yaml:"base_url"`

	// AuthHost is the SSO host; landing there means we are logged out.
	AuthHost string `yaml:"auth_host"`

	// TinhID is the default province filter for searches.
	TinhID int `yaml:"tinh_id"`

	// Headless controls browser visibility unless the request overrides it.
	Headless *bool `yaml:"headless"`

	// SlowMotion inserts a delay between browser actions (debugging aid).
	SlowMotion time.Duration `yaml:"slow_motion"`

	// Timeout bounds every navigation and the post-login redirect wait.
	Timeout time.Duration `yaml:"timeout"`

	// MarkerTimeout bounds the logged-in-as identity probe.
	MarkerTimeout time.Duration `yaml:"marker_timeout"`

	// UserDataRoot holds per-session browser profiles.
	UserDataRoot string `yaml:"user_data_root"`

	// SessionIdle is how long a session may sit unused before the sweep
	// closes it.
	SessionIdle time.Duration `yaml:"session_idle"`

	// DefaultMaxAge is the cache freshness window applied when a request
	// does not set maxAgeDays.
	DefaultMaxAge time.Duration `yaml:"default_max_age"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://bgi.mplis.gov.vn/dc"
	}
	if c.AuthHost == "" {
		c.AuthHost = "authen.mplis.gov.vn"
	}
	if c.TinhID <= 0 {
		c.TinhID = 24
	}
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MarkerTimeout <= 0 {
		c.MarkerTimeout = 10 * time.Second
	}
	if c.UserDataRoot == "" {
		c.UserDataRoot = "profiles"
	}
	if c.SessionIdle <= 0 {
		c.SessionIdle = 30 * time.Minute
	}
	if c.DefaultMaxAge <= 0 {
		c.DefaultMaxAge = 7 * 24 * time.Hour
	}
}

// LoadConfigFile reads a YAML config. A missing file returns a zero Config
// so deployments can run on defaults alone.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("vbdlis: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("vbdlis: parse config: %w", err)
	}
	return cfg, nil
}
