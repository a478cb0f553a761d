package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/intest/pkg/browser"
	"github.com/odvcencio/intest/pkg/browser/adapters/cdp"
	"github.com/odvcencio/intest/pkg/bus"
	"github.com/odvcencio/intest/pkg/erp"
	"github.com/odvcencio/intest/pkg/scheduler"
)

const (
	// MinSecretLength is the minimum recommended length for the JWT secret.
	MinSecretLength = 32

	// ConfigDirName is the per-user configuration directory under $HOME.
	ConfigDirName = ".intest"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultAppURL         = "http://localhost:52773/csp/azu/AnmeldungiFood2.CSP"
	DefaultDevicePrefix   = "GBINT"
	DefaultControlURL     = "ws://127.0.0.1:9222"
	DefaultWorkers        = 2
	DefaultHalt           = 200 * time.Millisecond
	DefaultTypeDelay      = 10 * time.Millisecond
	DefaultInitialSettle  = 500 * time.Millisecond
	DefaultElementTimeout = 5 * time.Second
	DefaultTokenTTL       = 24 * time.Hour
	DefaultHTTPAddr       = ":3000"
	DefaultDatabasePath   = "intest.db"
)

// Config represents the complete intest configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Browser   BrowserConfig   `yaml:"browser"`
	Timing    TimingConfig    `yaml:"timing"`
	Pool      PoolConfig      `yaml:"pool"`
	Storage   StorageConfig   `yaml:"storage"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Auth      AuthConfig      `yaml:"auth"`
	HTTP      HTTPConfig      `yaml:"http"`
	Bus       BusConfig       `yaml:"bus"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// AppConfig describes the terminal under test and the credentials every
// worker logs in with.
type AppConfig struct {
	URL          string           `yaml:"url"`
	DevicePrefix string           `yaml:"device_prefix"`
	Operator     string           `yaml:"operator"`
	Password     string           `yaml:"password"`
	Viewport     browser.Viewport `yaml:"viewport"`
}

// BrowserConfig controls the shared browser control endpoint.
type BrowserConfig struct {
	ControlURL       string        `yaml:"control_url"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	ElementTimeout   time.Duration `yaml:"element_timeout"`
	LoginTimeout     time.Duration `yaml:"login_timeout"`
}

// TimingConfig holds the settle delays around UI primitives.
type TimingConfig struct {
	Halt          time.Duration `yaml:"halt"`
	TypeDelay     time.Duration `yaml:"type_delay"`
	InitialSettle time.Duration `yaml:"initial_settle"`
}

// PoolConfig sizes the worker pool and bounds its polling.
type PoolConfig struct {
	Workers        int           `yaml:"workers"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BarrierTimeout time.Duration `yaml:"barrier_timeout"`
}

// StorageConfig locates the session store.
type StorageConfig struct {
	Path string `yaml:"path"`
	// CleanupInterval is how often expired sessions are purged. Zero
	// disables the sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ArtifactsConfig holds the recording and log dump defaults a task can
// override.
type ArtifactsConfig struct {
	Record     bool   `yaml:"record"`
	RecordPath string `yaml:"record_path"`
	Log        bool   `yaml:"log"`
	LogPath    string `yaml:"log_path"`
}

// AuthConfig configures token issuance.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TTL       time.Duration `yaml:"ttl"`
	// RateLimit is the sustained auth requests per second per client IP.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BusConfig selects the event bus. An empty URL keeps events in-process.
type BusConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// LoggingConfig controls the process log.
type LoggingConfig struct {
	// Dir receives daily rotated process logs. Empty logs to stderr only.
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// TracingConfig switches span export for worker actions and dispatch.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Pretty indents exported spans.
	Pretty bool `yaml:"pretty"`
	// Output is a file that receives spans. Empty writes to stdout.
	Output string `yaml:"output"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			URL:          DefaultAppURL,
			DevicePrefix: DefaultDevicePrefix,
			Viewport:     browser.Viewport{Width: 1920, Height: 1000},
		},
		Browser: BrowserConfig{
			ControlURL:       DefaultControlURL,
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 30 * time.Second,
			ElementTimeout:   DefaultElementTimeout,
			LoginTimeout:     30 * time.Second,
		},
		Timing: TimingConfig{
			Halt:          DefaultHalt,
			TypeDelay:     DefaultTypeDelay,
			InitialSettle: DefaultInitialSettle,
		},
		Pool: PoolConfig{
			Workers:        DefaultWorkers,
			PollInterval:   500 * time.Millisecond,
			BarrierTimeout: 10 * time.Minute,
		},
		Storage: StorageConfig{
			Path:            DefaultDatabasePath,
			CleanupInterval: time.Hour,
		},
		Artifacts: ArtifactsConfig{
			RecordPath: "media",
			LogPath:    "logs",
		},
		Auth: AuthConfig{
			TTL:       DefaultTokenTTL,
			RateLimit: 1,
			RateBurst: 5,
		},
		HTTP: HTTPConfig{
			Addr:            DefaultHTTPAddr,
			ShutdownTimeout: 15 * time.Second,
		},
		Bus: BusConfig{
			Name: "intest",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads ~/.intest/config.yaml and then ./intest.yaml over the defaults,
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	for _, path := range SearchPaths() {
		if err := loadAndMerge(cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg, configEnv)
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// SearchPaths lists the files Load merges, lowest precedence first.
func SearchPaths() []string {
	var paths []string
	if home := userHome(); home != "" {
		paths = append(paths, filepath.Join(home, ConfigDirName, "config.yaml"))
	}
	return append(paths, "intest.yaml")
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg, configEnv)
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies INTEST_* variables. Values from the process
// environment win over ~/.intest/config.env.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	get := func(keys ...string) string {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				return v
			}
		}
		for _, key := range keys {
			if v := strings.TrimSpace(configEnv[key]); v != "" {
				return v
			}
		}
		return ""
	}

	if v := get("INTEST_APP_URL"); v != "" {
		cfg.App.URL = v
	}
	if v := get("INTEST_OPERATOR", "BEDIENER"); v != "" {
		cfg.App.Operator = v
	}
	if v := get("INTEST_PASSWORD", "KENNWORT"); v != "" {
		cfg.App.Password = v
	}
	if v := get("INTEST_JWT_SECRET", "JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := get("INTEST_BROWSER_URL"); v != "" {
		cfg.Browser.ControlURL = v
	}
	if v := get("INTEST_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := get("INTEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Workers = n
		}
	}
	if v := get("INTEST_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := get("INTEST_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if val, ok := envBool("INTEST_RECORD"); ok {
		cfg.Artifacts.Record = val
	}
	if val, ok := envBool("INTEST_LOG"); ok {
		cfg.Artifacts.Log = val
	}
	if val, ok := envBool("INTEST_TRACING"); ok {
		cfg.Tracing.Enabled = val
	}
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func (c *Config) expandPaths() {
	c.Storage.Path = expandHomeDir(c.Storage.Path)
	c.Artifacts.RecordPath = expandHomeDir(c.Artifacts.RecordPath)
	c.Artifacts.LogPath = expandHomeDir(c.Artifacts.LogPath)
	c.Logging.Dir = expandHomeDir(c.Logging.Dir)
	c.Tracing.Output = expandHomeDir(c.Tracing.Output)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	appURL, err := url.Parse(strings.TrimSpace(c.App.URL))
	if err != nil || appURL.Scheme == "" || appURL.Host == "" {
		return fmt.Errorf("app.url must be an absolute URL: %q", c.App.URL)
	}
	if c.App.Viewport.Width <= 0 || c.App.Viewport.Height <= 0 {
		return fmt.Errorf("app.viewport must have a positive width and height")
	}

	browserCfg := cdp.Config{ControlURL: c.Browser.ControlURL}
	if err := browserCfg.Validate(); err != nil {
		return fmt.Errorf("browser.%w", err)
	}
	if c.Browser.ElementTimeout <= 0 {
		return fmt.Errorf("browser.element_timeout must be > 0")
	}
	if c.Browser.ConnectTimeout < 0 || c.Browser.OperationTimeout < 0 || c.Browser.LoginTimeout < 0 {
		return fmt.Errorf("browser timeouts must be >= 0")
	}

	if c.Timing.Halt < 0 || c.Timing.TypeDelay < 0 || c.Timing.InitialSettle < 0 {
		return fmt.Errorf("timing values must be >= 0")
	}

	if c.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be at least 1, got %d", c.Pool.Workers)
	}
	if c.Pool.PollInterval <= 0 {
		return fmt.Errorf("pool.poll_interval must be > 0")
	}
	if c.Pool.BarrierTimeout < c.Pool.PollInterval {
		return fmt.Errorf("pool.barrier_timeout must be at least pool.poll_interval")
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.CleanupInterval < 0 {
		return fmt.Errorf("storage.cleanup_interval must be >= 0")
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required (set INTEST_JWT_SECRET)")
	}
	if c.Auth.TTL <= 0 {
		return fmt.Errorf("auth.ttl must be > 0")
	}
	if c.Auth.RateLimit < 0 || c.Auth.RateBurst < 0 {
		return fmt.Errorf("auth.rate_limit and auth.rate_burst must be >= 0")
	}

	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return fmt.Errorf("http.addr must be host:port: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	return nil
}

// ValidationWarnings returns non-fatal configuration concerns.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if c.App.Operator == "" || c.App.Password == "" {
		warnings = append(warnings, "app.operator or app.password is empty; workers will not be able to log in.")
	}
	if c.App.Password != "" && os.Getenv("INTEST_PASSWORD") == "" && os.Getenv("KENNWORT") == "" {
		warnings = append(warnings, "SECURITY: the terminal password is stored in the config file. Consider using the INTEST_PASSWORD environment variable instead.")
	}
	if n := len(strings.TrimSpace(c.Auth.JWTSecret)); n > 0 && n < MinSecretLength {
		warnings = append(warnings, fmt.Sprintf("SECURITY: auth.jwt_secret is shorter than %d characters.", MinSecretLength))
	}
	if c.Auth.RateLimit == 0 {
		warnings = append(warnings, "auth.rate_limit is 0; the auth endpoint is not rate limited.")
	}
	return warnings
}

// ERP returns the session controller configuration.
func (c *Config) ERP() erp.Config {
	return erp.Config{
		URL:            c.App.URL,
		DevicePrefix:   c.App.DevicePrefix,
		Operator:       c.App.Operator,
		Password:       c.App.Password,
		Viewport:       c.App.Viewport,
		Halt:           c.Timing.Halt,
		TypeDelay:      c.Timing.TypeDelay,
		InitialSettle:  c.Timing.InitialSettle,
		ElementTimeout: c.Browser.ElementTimeout,
		LoginTimeout:   c.Browser.LoginTimeout,
		Record:         c.Artifacts.Record,
		RecordPath:     c.Artifacts.RecordPath,
		Log:            c.Artifacts.Log,
		LogPath:        c.Artifacts.LogPath,
	}
}

// CDP returns the browser adapter configuration.
func (c *Config) CDP() cdp.Config {
	return cdp.Config{
		ControlURL:       c.Browser.ControlURL,
		ConnectTimeout:   c.Browser.ConnectTimeout,
		OperationTimeout: c.Browser.OperationTimeout,
	}
}

// SchedulerOptions returns the pool timing options.
func (c *Config) SchedulerOptions() scheduler.Options {
	return scheduler.Options{
		PollInterval:   c.Pool.PollInterval,
		BarrierTimeout: c.Pool.BarrierTimeout,
	}
}

// BusConfig returns the message bus configuration.
func (c *Config) BusConfig() bus.Config {
	cfg := bus.DefaultConfig()
	cfg.URL = c.Bus.URL
	if c.Bus.Name != "" {
		cfg.Name = c.Bus.Name
	}
	return cfg
}
