package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ppiankov/listpush/internal/privacy"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile     = "listpush.yaml"
	DefaultDotEnvFile     = ".env"
	DefaultSource         = "1981892452895117355"
	DefaultCollectTimeout = 10 * time.Minute
	DefaultDeliverTimeout = 60 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"

	DefaultURLEnv    = "INGEST_URL"
	DefaultTokenEnv  = "INGEST_TOKEN"
	DefaultSentryEnv = "LISTPUSH_SENTRY_DSN"
	SourceEnv        = "TW_LIST"
	PushgatewayEnv   = "LISTPUSH_PUSHGATEWAY_URL"
	LogLevelEnv      = "LISTPUSH_LOG_LEVEL"
)

// DefaultScraperCommand runs snscrape against a Twitter/X list.
var DefaultScraperCommand = []string{"snscrape", "--jsonl", "twitter-list-posts"}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Scraper ScraperConfig `yaml:"scraper"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sentry  SentryConfig  `yaml:"sentry"`
}

type SourceConfig struct {
	List string `yaml:"list"`
}

type ScraperConfig struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

type IngestConfig struct {
	URL      string   `yaml:"url"`
	URLEnv   string   `yaml:"url_env"`
	TokenEnv string   `yaml:"token_env"`
	Timeout  Duration `yaml:"timeout"`

	// Resolved from env vars at load time.
	Token string `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
}

type SentryConfig struct {
	DSNEnv      string   `yaml:"dsn_env"`
	Environment string   `yaml:"environment"`
	Redact      []string `yaml:"redact"` // extra patterns scrubbed from events

	// Resolved from env var at load time.
	DSN string `yaml:"-"`
}

// MissingError reports a required setting that has no value.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s is not set", e.Name)
}

// Load builds the configuration: defaults, then the YAML file at path, then
// environment variables (including a .env file in the working directory).
// An empty path reads DefaultConfigFile if it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DefaultDotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", DefaultDotEnvFile, err)
	}

	var cfg Config

	optional := strings.TrimSpace(path) == ""
	if optional {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
		// no file, defaults and env only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Source.List == "" {
		cfg.Source.List = DefaultSource
	}
	if len(cfg.Scraper.Command) == 0 {
		cfg.Scraper.Command = append([]string(nil), DefaultScraperCommand...)
	}
	if cfg.Scraper.Timeout.Duration == 0 {
		cfg.Scraper.Timeout.Duration = DefaultCollectTimeout
	}
	if cfg.Ingest.URLEnv == "" {
		cfg.Ingest.URLEnv = DefaultURLEnv
	}
	if cfg.Ingest.TokenEnv == "" {
		cfg.Ingest.TokenEnv = DefaultTokenEnv
	}
	if cfg.Ingest.Timeout.Duration == 0 {
		cfg.Ingest.Timeout.Duration = DefaultDeliverTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Sentry.DSNEnv == "" {
		cfg.Sentry.DSNEnv = DefaultSentryEnv
	}
}

func resolveEnv(cfg *Config) {
	if v := os.Getenv(SourceEnv); v != "" {
		cfg.Source.List = v
	}
	if v := os.Getenv(cfg.Ingest.URLEnv); v != "" {
		cfg.Ingest.URL = v
	}
	cfg.Ingest.Token = os.Getenv(cfg.Ingest.TokenEnv)
	if v := os.Getenv(PushgatewayEnv); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv(LogLevelEnv); v != "" {
		cfg.Log.Level = v
	}
	cfg.Sentry.DSN = os.Getenv(cfg.Sentry.DSNEnv)
}

// Validate checks the structure of the configuration. Delivery credentials
// are checked separately by RequireDelivery.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Source.List) == "" {
		return errors.New("source.list: list identifier is required")
	}
	if len(cfg.Scraper.Command) == 0 || strings.TrimSpace(cfg.Scraper.Command[0]) == "" {
		return errors.New("scraper.command: executable is required")
	}
	if cfg.Scraper.Timeout.Duration < 0 {
		return fmt.Errorf("scraper.timeout: must be positive, got %s", cfg.Scraper.Timeout.Duration)
	}
	if cfg.Ingest.Timeout.Duration < 0 {
		return fmt.Errorf("ingest.timeout: must be positive, got %s", cfg.Ingest.Timeout.Duration)
	}
	if cfg.Ingest.URL != "" {
		if err := checkHTTPURL(cfg.Ingest.URL); err != nil {
			return fmt.Errorf("ingest.url: %w", err)
		}
	}
	if cfg.Metrics.PushgatewayURL != "" {
		if err := checkHTTPURL(cfg.Metrics.PushgatewayURL); err != nil {
			return fmt.Errorf("metrics.pushgateway_url: %w", err)
		}
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := privacy.Compile(cfg.Sentry.Redact); err != nil {
		return fmt.Errorf("sentry.redact: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", cfg.Log.Format)
	}
	return nil
}

// RequireDelivery reports the first missing delivery credential.
func (cfg *Config) RequireDelivery() error {
	if strings.TrimSpace(cfg.Ingest.URL) == "" {
		return &MissingError{Name: cfg.Ingest.URLEnv}
	}
	if strings.TrimSpace(cfg.Ingest.Token) == "" {
		return &MissingError{Name: cfg.Ingest.TokenEnv}
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
