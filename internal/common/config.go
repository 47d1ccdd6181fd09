package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration. Values are resolved
// defaults -> file(s) -> environment -> CLI flags, later sources overriding
// earlier ones. The two load-bearing secrets (encryption key, callback key)
// are environment-only and never appear in a config file.
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Queue       QueueConfig   `toml:"queue"`
	Storage     StorageConfig `toml:"storage"`
	Worker      WorkerConfig  `toml:"worker"`
	Scraper     ScraperConfig `toml:"scraper"`
	Janitor     JanitorConfig `toml:"janitor"`
	Logging     LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port           int      `toml:"port" validate:"min=1,max=65535"`
	Host           string   `toml:"host"`
	PublicBaseURL  string   `toml:"public_base_url"` // Base URL used to build widget iframe URLs
	AllowedOrigins []string `toml:"allowed_origins"` // Origins permitted to embed the widget / call CORS endpoints
	SubmitPerMin   int      `toml:"submit_per_min"`  // Credential submissions allowed per remote host per minute
	SubmitBurst    int      `toml:"submit_burst"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers (each job owns a browser)
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before dead-letter
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	InMemory       bool   `toml:"in_memory"`        // Run Badger fully in memory (tests / ephemeral deployments)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// WorkerConfig holds the worker runtime settings. EncryptionKey is mandatory:
// the worker refuses to start without a valid 256-bit hex key rather than run
// with no secrecy. An empty CallbackKey disables callback authentication.
type WorkerConfig struct {
	EncryptionKey string `toml:"-"`            // env CREDBRIDGE_ENCRYPTION_KEY only, 64 hex chars
	CallbackKey   string `toml:"-"`            // env CREDBRIDGE_CALLBACK_KEY only, optional
	CallbackURL   string `toml:"callback_url"` // Intake base URL for event callbacks (default: local server)
	JobTimeout    string `toml:"job_timeout"`  // Hard deadline for one scrape attempt
	EmitRetries   int    `toml:"emit_retries"` // Bounded retry count for event delivery to intake
	EmitBackoff   string `toml:"emit_backoff"` // Delay between event delivery retries
}

// ScraperConfig holds the browser automation settings shared by all adapters.
type ScraperConfig struct {
	Headless          bool   `toml:"headless"`
	NoSandbox         bool   `toml:"no_sandbox"`
	DisableGPU        bool   `toml:"disable_gpu"`
	UserAgent         string `toml:"user_agent"`
	ProbeTimeout      string `toml:"probe_timeout"`      // Bounded wait per candidate selector
	OtpProbeTimeout   string `toml:"otp_probe_timeout"`  // Bounded wait for the OTP control after submit
	NavigationTimeout string `toml:"navigation_timeout"` // Per-navigation deadline
	SettleTime        string `toml:"settle_time"`        // Post-login wait for network to settle
}

// JanitorConfig controls the stale-session sweep that prevents sessions from
// hanging in "queued"/"started" forever after a lost worker.
type JanitorConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule"`    // cron spec, e.g. "@every 1m"
	StaleAfter string `toml:"stale_after"` // Age past last event before a session is failed
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig returns configuration defaults suitable for local development.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:           8080,
			Host:           "localhost",
			PublicBaseURL:  "http://localhost:8080",
			AllowedOrigins: []string{"http://localhost:8082"},
			SubmitPerMin:   10,
			SubmitBurst:    5,
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       2,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "scrape",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/credbridge",
			},
		},
		Worker: WorkerConfig{
			JobTimeout:  "4m",
			EmitRetries: 3,
			EmitBackoff: "500ms",
		},
		Scraper: ScraperConfig{
			Headless:          true,
			NoSandbox:         false,
			DisableGPU:        true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			ProbeTimeout:      "8s",
			OtpProbeTimeout:   "15s",
			NavigationTimeout: "30s",
			SettleTime:        "3s",
		},
		Janitor: JanitorConfig{
			Enabled:    true,
			Schedule:   "@every 1m",
			StaleAfter: "10m",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads defaults, applies each TOML file in order, then
// environment overrides. Missing files are an error; passing no paths loads
// defaults + environment only.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies CREDBRIDGE_* environment variables over the
// loaded configuration. Secrets are only ever read here.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CREDBRIDGE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("CREDBRIDGE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CREDBRIDGE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if base := os.Getenv("CREDBRIDGE_PUBLIC_BASE_URL"); base != "" {
		config.Server.PublicBaseURL = base
	}
	if origins := os.Getenv("CREDBRIDGE_ALLOWED_ORIGINS"); origins != "" {
		parts := []string{}
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			config.Server.AllowedOrigins = parts
		}
	}

	if pollInterval := os.Getenv("CREDBRIDGE_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("CREDBRIDGE_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("CREDBRIDGE_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}

	if badgerPath := os.Getenv("CREDBRIDGE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Secrets (environment only, never from files)
	config.Worker.EncryptionKey = os.Getenv("CREDBRIDGE_ENCRYPTION_KEY")
	config.Worker.CallbackKey = os.Getenv("CREDBRIDGE_CALLBACK_KEY")
	if callbackURL := os.Getenv("CREDBRIDGE_CALLBACK_URL"); callbackURL != "" {
		config.Worker.CallbackURL = callbackURL
	}

	if level := os.Getenv("CREDBRIDGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural constraints plus every duration field, so a bad
// config fails at startup rather than mid-job.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":        c.Queue.PollInterval,
		"queue.visibility_timeout":   c.Queue.VisibilityTimeout,
		"worker.job_timeout":         c.Worker.JobTimeout,
		"worker.emit_backoff":        c.Worker.EmitBackoff,
		"scraper.probe_timeout":      c.Scraper.ProbeTimeout,
		"scraper.otp_probe_timeout":  c.Scraper.OtpProbeTimeout,
		"scraper.navigation_timeout": c.Scraper.NavigationTimeout,
		"scraper.settle_time":        c.Scraper.SettleTime,
		"janitor.stale_after":        c.Janitor.StaleAfter,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s=%q: %w", name, value, err)
		}
	}

	return nil
}

// CallbackBaseURL returns the intake base URL the worker posts events to,
// defaulting to the local server address.
func (c *Config) CallbackBaseURL() string {
	if c.Worker.CallbackURL != "" {
		return strings.TrimRight(c.Worker.CallbackURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// Duration parses a duration config value, falling back to def when unset.
// Validate has already rejected malformed values at startup; the fallback
// keeps call sites total.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
