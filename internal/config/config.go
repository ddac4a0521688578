// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Store() StoreConfig
	Picker() PickerConfig
	Interceptor() InterceptorConfig
	Reference() ReferenceConfig
	Control() ControlConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)
	SetBrowserStartURL(string)

	// Store Setters
	SetStoreBackend(string)

	// Control Setters
	SetControlEnabled(bool)
	SetControlAddr(string)
}

// Config holds the entire application configuration. Fields are private to
// enforce access through the Interface's getter methods; decoding goes
// through fileConfig.
type Config struct {
	logger      LoggerConfig
	browser     BrowserConfig
	store       StoreConfig
	picker      PickerConfig
	interceptor InterceptorConfig
	reference   ReferenceConfig
	control     ControlConfig
	metrics     MetricsConfig
}

// fileConfig is the decoded shape of the configuration file and environment.
type fileConfig struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Picker      PickerConfig      `mapstructure:"picker" yaml:"picker"`
	Interceptor InterceptorConfig `mapstructure:"interceptor" yaml:"interceptor"`
	Reference   ReferenceConfig   `mapstructure:"reference" yaml:"reference"`
	Control     ControlConfig     `mapstructure:"control" yaml:"control"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.logger }
func (c *Config) Browser() BrowserConfig         { return c.browser }
func (c *Config) Store() StoreConfig             { return c.store }
func (c *Config) Picker() PickerConfig           { return c.picker }
func (c *Config) Interceptor() InterceptorConfig { return c.interceptor }
func (c *Config) Reference() ReferenceConfig     { return c.reference }
func (c *Config) Control() ControlConfig         { return c.control }
func (c *Config) Metrics() MetricsConfig         { return c.metrics }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)    { c.browser.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string) { c.browser.RemoteURL = u }
func (c *Config) SetBrowserStartURL(u string)  { c.browser.StartURL = u }
func (c *Config) SetStoreBackend(b string)     { c.store.Backend = b }
func (c *Config) SetControlEnabled(b bool)     { c.control.Enabled = b }
func (c *Config) SetControlAddr(addr string)   { c.control.Addr = addr }

// Snapshot returns the configuration in its file shape for display, with
// secrets redacted.
func (c *Config) Snapshot() any {
	fc := fileConfig{
		Logger:      c.logger,
		Browser:     c.browser,
		Store:       c.store,
		Picker:      c.picker,
		Interceptor: c.interceptor,
		Reference:   c.reference,
		Control:     c.control,
		Metrics:     c.metrics,
	}
	if fc.Control.JWT.Secret != "" {
		fc.Control.JWT.Secret = redacted
	}
	// The DSN may embed a password.
	if fc.Store.URL != "" {
		fc.Store.URL = redacted
	}
	return fc
}

const redacted = "********"

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RemoteURL attaches to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL   string `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath    string `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	// StartURL is opened when the tab is created.
	StartURL          string        `mapstructure:"start_url" yaml:"start_url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// StoreConfig selects and configures the flag store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // memory, sqlite, postgres
	Path    string `mapstructure:"path" yaml:"path"`
	URL     string `mapstructure:"url" yaml:"url"`
	// PollInterval controls how quickly writes from other processes are seen.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PickerConfig holds the season/episode picker timings.
type PickerConfig struct {
	MenuInterval    time.Duration `mapstructure:"menu_interval" yaml:"menu_interval"`
	MenuAttempts    int           `mapstructure:"menu_attempts" yaml:"menu_attempts"`
	ScrollEvery     int           `mapstructure:"scroll_every" yaml:"scroll_every"`
	ScrollBy        int           `mapstructure:"scroll_by" yaml:"scroll_by"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	EpisodeInterval time.Duration `mapstructure:"episode_interval" yaml:"episode_interval"`
	EpisodeAttempts int           `mapstructure:"episode_attempts" yaml:"episode_attempts"`
}

// InterceptorConfig holds the next-control interceptor cadences and ceilings.
type InterceptorConfig struct {
	BindInterval     time.Duration `mapstructure:"bind_interval" yaml:"bind_interval"`
	BindLifetime     time.Duration `mapstructure:"bind_lifetime" yaml:"bind_lifetime"`
	ObserverLifetime time.Duration `mapstructure:"observer_lifetime" yaml:"observer_lifetime"`
	SeamlessInterval time.Duration `mapstructure:"seamless_interval" yaml:"seamless_interval"`
	SeamlessLifetime time.Duration `mapstructure:"seamless_lifetime" yaml:"seamless_lifetime"`
	RouteInterval    time.Duration `mapstructure:"route_interval" yaml:"route_interval"`
	RouteLifetime    time.Duration `mapstructure:"route_lifetime" yaml:"route_lifetime"`
	Debounce         time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// ReferenceConfig configures title URL derivation.
type ReferenceConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// ControlConfig configures the local HTTP control API.
type ControlConfig struct {
	Enabled bool      `mapstructure:"enabled" yaml:"enabled"`
	Addr    string    `mapstructure:"addr" yaml:"addr"`
	JWT     JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig configures bearer-token auth on the control API.
type JWTConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Secret  string        `mapstructure:"secret" yaml:"secret"`
	Issuer  string        `mapstructure:"issuer" yaml:"issuer"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// MetricsConfig configures the prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := decode(v)
	if err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "netflix-shuffle")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.user_data_dir", "~/.netflix-shuffle/chrome")
	v.SetDefault("browser.start_url", "https://www.netflix.com/browse")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.debug", false)

	// -- Store --
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "~/.netflix-shuffle/flags.db")
	v.SetDefault("store.poll_interval", "1s")

	// -- Picker --
	v.SetDefault("picker.menu_interval", "400ms")
	v.SetDefault("picker.menu_attempts", 30)
	v.SetDefault("picker.scroll_every", 6)
	v.SetDefault("picker.scroll_by", 250)
	v.SetDefault("picker.settle_delay", "700ms")
	v.SetDefault("picker.episode_interval", "500ms")
	v.SetDefault("picker.episode_attempts", 16)

	// -- Interceptor --
	v.SetDefault("interceptor.bind_interval", "1s")
	v.SetDefault("interceptor.bind_lifetime", "30m")
	v.SetDefault("interceptor.observer_lifetime", "30m")
	v.SetDefault("interceptor.seamless_interval", "1s")
	v.SetDefault("interceptor.seamless_lifetime", "20m")
	v.SetDefault("interceptor.route_interval", "300ms")
	v.SetDefault("interceptor.route_lifetime", "30m")
	v.SetDefault("interceptor.debounce", "2s")

	// -- Reference --
	v.SetDefault("reference.base_url", "https://www.netflix.com")

	// -- Control --
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.addr", "127.0.0.1:8765")
	v.SetDefault("control.jwt.enabled", false)
	v.SetDefault("control.jwt.issuer", "netflix-shuffle")
	v.SetDefault("control.jwt.ttl", "720h")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "netflix_shuffle")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data
	v.BindEnv("control.jwt.secret", "SHUFFLE_CONTROL_SECRET")
	v.BindEnv("store.url", "SHUFFLE_STORE_URL")

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &Config{
		logger:      fc.Logger,
		browser:     fc.Browser,
		store:       fc.Store,
		picker:      fc.Picker,
		interceptor: fc.Interceptor,
		reference:   fc.Reference,
		control:     fc.Control,
		metrics:     fc.Metrics,
	}, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.logger.LogFile, &c.browser.UserDataDir, &c.browser.ExecPath, &c.store.Path} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.store.Backend) {
	case "memory":
	case "sqlite":
		if c.store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case "postgres":
		if c.store.URL == "" {
			return fmt.Errorf("store.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, sqlite, postgres; got %q", c.store.Backend)
	}
	if err := c.picker.Validate(); err != nil {
		return fmt.Errorf("picker configuration invalid: %w", err)
	}
	if err := c.interceptor.Validate(); err != nil {
		return fmt.Errorf("interceptor configuration invalid: %w", err)
	}
	if c.reference.BaseURL == "" {
		return fmt.Errorf("reference.base_url must not be empty")
	}
	if c.control.Enabled && c.control.Addr == "" {
		return fmt.Errorf("control.addr is required when the control API is enabled")
	}
	if c.control.JWT.Enabled && c.control.JWT.Secret == "" {
		return fmt.Errorf("control.jwt.secret is required when token auth is enabled. Ensure SHUFFLE_CONTROL_SECRET is set")
	}
	return nil
}

// Validate checks the picker timings.
func (p *PickerConfig) Validate() error {
	if p.MenuInterval <= 0 || p.EpisodeInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive durations")
	}
	if p.MenuAttempts <= 0 || p.EpisodeAttempts <= 0 {
		return fmt.Errorf("attempt budgets must be greater than 0")
	}
	if p.SettleDelay < 0 || p.ScrollEvery < 0 {
		return fmt.Errorf("settle_delay and scroll_every must not be negative")
	}
	return nil
}

// Validate checks the interceptor cadences. Every periodic task needs a
// positive interval and a ceiling.
func (i *InterceptorConfig) Validate() error {
	pairs := []struct {
		name               string
		interval, lifetime time.Duration
	}{
		{"bind", i.BindInterval, i.BindLifetime},
		{"seamless", i.SeamlessInterval, i.SeamlessLifetime},
		{"route", i.RouteInterval, i.RouteLifetime},
	}
	for _, p := range pairs {
		if p.interval <= 0 || p.lifetime <= 0 {
			return fmt.Errorf("%s_interval and %s_lifetime must be positive durations", p.name, p.name)
		}
	}
	if i.ObserverLifetime <= 0 {
		return fmt.Errorf("observer_lifetime must be a positive duration")
	}
	if i.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	return nil
}
