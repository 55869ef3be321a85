// Package config provides YAML-based configuration loading for Warden.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Warden configuration, loaded from warden.yaml and
// overridden by the environment.
type Config struct {
	Port         int               `yaml:"port" env:"PORT"`
	StateFile    string            `yaml:"state_file" env:"WARDEN_STATE_FILE"`
	CatalogueDir string            `yaml:"catalogue_dir" env:"WARDEN_CATALOGUE_DIR"`
	Platform     string            `yaml:"platform" env:"WARDEN_PLATFORM"`
	Prefix       string            `yaml:"prefix" env:"WARDEN_PREFIX"`
	AdminID      string            `yaml:"admin_id" env:"WARDEN_ADMIN_ID"`
	Persona      PersonaConfig     `yaml:"persona"`
	Timings      TimingsConfig     `yaml:"timings"`
	Schedule     ScheduleConfig    `yaml:"schedule"`
	Store        StoreConfig       `yaml:"store"`
	Enforcement  EnforcementConfig `yaml:"enforcement"`
}

// PersonaConfig holds the bot's display identity and reply catalogue.
type PersonaConfig struct {
	Nickname  string `yaml:"nickname" env:"WARDEN_NICKNAME"`
	Catalogue string `yaml:"catalogue" env:"WARDEN_REPLY_CATALOGUE"`
}

// TimingsConfig holds retry, pacing and limit settings.
type TimingsConfig struct {
	LoginRetry       time.Duration `yaml:"login_retry" env:"WARDEN_LOGIN_RETRY"`
	ListenerRetry    time.Duration `yaml:"listener_retry" env:"WARDEN_LISTENER_RETRY"`
	ReconnectCeiling int           `yaml:"reconnect_ceiling" env:"WARDEN_RECONNECT_CEILING"`
	SettleDelay      time.Duration `yaml:"settle_delay" env:"WARDEN_SETTLE_DELAY"`
	Throttle         time.Duration `yaml:"throttle" env:"WARDEN_THROTTLE"`
	TargetInterval   time.Duration `yaml:"target_interval" env:"WARDEN_TARGET_INTERVAL"`
	ThreadLimit      int           `yaml:"thread_limit" env:"WARDEN_THREAD_LIMIT"`
}

// ScheduleConfig holds cron expressions for periodic jobs.
type ScheduleConfig struct {
	Save    string `yaml:"save" env:"WARDEN_SAVE_SCHEDULE"`
	Persona string `yaml:"persona" env:"WARDEN_PERSONA_SCHEDULE"`
}

// StoreConfig selects the enforcement state backend.
type StoreConfig struct {
	Driver string      `yaml:"driver" env:"WARDEN_STORE_DRIVER"`
	Path   string      `yaml:"path" env:"WARDEN_STORE_PATH"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig holds connection settings for the MySQL backend.
type MySQLConfig struct {
	Host     string `yaml:"host" env:"WARDEN_MYSQL_HOST"`
	Port     int    `yaml:"port" env:"WARDEN_MYSQL_PORT"`
	User     string `yaml:"user" env:"WARDEN_MYSQL_USER"`
	Password string `yaml:"password" env:"WARDEN_MYSQL_PASSWORD"`
	Database string `yaml:"database" env:"WARDEN_MYSQL_DATABASE"`
}

// EnforcementConfig tunes lock enforcement.
type EnforcementConfig struct {
	PhotoPolicy string `yaml:"photo_policy" env:"WARDEN_PHOTO_POLICY"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A missing file yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = nil
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and defaults,
// and returns a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.StateFile == "" {
		c.StateFile = "config.json"
	}
	if c.CatalogueDir == "" {
		c.CatalogueDir = "."
	}
	if c.Platform == "" {
		c.Platform = "discord"
	}
	if c.Prefix == "" {
		c.Prefix = "/"
	}
	if c.Persona.Nickname == "" {
		c.Persona.Nickname = "warden"
	}

	t := &c.Timings
	if t.LoginRetry == 0 {
		t.LoginRetry = 10 * time.Second
	}
	if t.ListenerRetry == 0 {
		t.ListenerRetry = 5 * time.Second
	}
	if t.ReconnectCeiling == 0 {
		t.ReconnectCeiling = 5
	}
	if t.SettleDelay == 0 {
		t.SettleDelay = 5 * time.Second
	}
	if t.Throttle == 0 {
		t.Throttle = 500 * time.Millisecond
	}
	if t.TargetInterval == 0 {
		t.TargetInterval = 10 * time.Second
	}
	if t.ThreadLimit == 0 {
		t.ThreadLimit = 100
	}

	if c.Schedule.Save == "" {
		c.Schedule.Save = "@every 10m"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "warden.db"
	}
	if c.Store.MySQL.Host == "" {
		c.Store.MySQL.Host = "127.0.0.1"
	}
	if c.Store.MySQL.Port == 0 {
		c.Store.MySQL.Port = 3306
	}
	if c.Store.MySQL.Database == "" {
		c.Store.MySQL.Database = "warden"
	}

	if c.Enforcement.PhotoPolicy == "" {
		c.Enforcement.PhotoPolicy = "revert"
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range", c.Port))
	}
	switch c.Platform {
	case "discord", "slack":
	default:
		errs = append(errs, fmt.Sprintf("platform %q must be discord or slack", c.Platform))
	}
	if strings.ContainsAny(c.Prefix, " \t\n") {
		errs = append(errs, "prefix must not contain whitespace")
	}

	t := c.Timings
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"login_retry", t.LoginRetry},
		{"listener_retry", t.ListenerRetry},
		{"settle_delay", t.SettleDelay},
		{"throttle", t.Throttle},
		{"target_interval", t.TargetInterval},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Sprintf("timings.%s must not be negative", d.name))
		}
	}
	if t.ReconnectCeiling < 1 {
		errs = append(errs, "timings.reconnect_ceiling must be at least 1")
	}
	if t.ThreadLimit < 1 {
		errs = append(errs, "timings.thread_limit must be at least 1")
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	case "mysql":
		if c.Store.MySQL.User == "" {
			errs = append(errs, "store.mysql.user is required for the mysql driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory, sqlite or mysql", c.Store.Driver))
	}

	switch c.Enforcement.PhotoPolicy {
	case "revert", "accept":
	default:
		errs = append(errs, fmt.Sprintf("enforcement.photo_policy %q must be revert or accept", c.Enforcement.PhotoPolicy))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
