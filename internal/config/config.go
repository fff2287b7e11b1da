package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingAPIKey = errors.New("llm api key is not configured")

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Auth          AuthConfig
	Database      DatabaseConfig
	ObjectStore   ObjectStoreConfig
	Archive       ArchiveConfig
	Browser       BrowserConfig
	AI            AIConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// AuthConfig guards the HTTP API with static API keys. StaticKeys is a
// comma-separated list of key:name:role|role entries.
type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// DatabaseConfig holds the target PostgreSQL parameters. DSN wins over the
// individual fields when set.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// StatementTimeout bounds every statement server side. Zero keeps the
	// server default.
	StatementTimeout time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ArchiveConfig struct {
	Enabled bool
}

type BrowserConfig struct {
	DefaultLimit int
	MaxLimit     int
	ExportLimit  int

	// ExportLinkTTL is how long presigned export download links stay valid.
	// Zero disables them.
	ExportLinkTTL time.Duration
}

type AIConfig struct {
	Provider        string
	BaseURL         string
	OpenAIKey       string
	AnthropicKey    string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SQLGPT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SQLGPT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "SQLGPT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SQLGPT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SQLGPT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SQLGPT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SQLGPT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyBool(lookup, "SQLGPT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyRaw(lookup, "SQLGPT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },

		func() error { return applyString(lookup, "POSTGRES_HOST", &cfg.Database.Host) },
		func() error { return applyInt(lookup, "POSTGRES_PORT", &cfg.Database.Port) },
		func() error { return applyString(lookup, "POSTGRES_USER", &cfg.Database.User) },
		func() error { return applyRaw(lookup, "POSTGRES_PASSWORD", &cfg.Database.Password) },
		func() error { return applyString(lookup, "POSTGRES_DB", &cfg.Database.Name) },
		func() error { return applyString(lookup, "SQLGPT_DATABASE_URL", &cfg.Database.DSN) },
		func() error { return applyInt(lookup, "SQLGPT_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "SQLGPT_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error { return applyDuration(lookup, "SQLGPT_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "SQLGPT_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime) },
		func() error {
			return applyDuration(lookup, "SQLGPT_DB_STATEMENT_TIMEOUT", &cfg.Database.StatementTimeout)
		},

		func() error { return applyString(lookup, "SQLGPT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SQLGPT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SQLGPT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "SQLGPT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "SQLGPT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "SQLGPT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SQLGPT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "SQLGPT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyBool(lookup, "SQLGPT_ARCHIVE_ENABLED", &cfg.Archive.Enabled) },

		func() error { return applyInt(lookup, "SQLGPT_BROWSER_DEFAULT_LIMIT", &cfg.Browser.DefaultLimit) },
		func() error { return applyInt(lookup, "SQLGPT_BROWSER_MAX_LIMIT", &cfg.Browser.MaxLimit) },
		func() error { return applyInt(lookup, "SQLGPT_BROWSER_EXPORT_LIMIT", &cfg.Browser.ExportLimit) },
		func() error { return applyDuration(lookup, "SQLGPT_BROWSER_EXPORT_LINK_TTL", &cfg.Browser.ExportLinkTTL) },

		func() error { return applyString(lookup, "SQLGPT_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "SQLGPT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "OPENAI_API_KEY", &cfg.AI.OpenAIKey) },
		func() error { return applyString(lookup, "ANTHROPIC_API_KEY", &cfg.AI.AnthropicKey) },
		func() error { return applyString(lookup, "SQLGPT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "SQLGPT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "SQLGPT_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "SQLGPT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "SQLGPT_AI_MAX_RETRIES", &cfg.AI.MaxRetries) },
		func() error { return applyDuration(lookup, "SQLGPT_AI_RETRY_INITIAL_INTERVAL", &cfg.AI.InitialInterval) },

		func() error { return applyBool(lookup, "SQLGPT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SQLGPT_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.Provider != ProviderOpenAI && cfg.AI.Provider != ProviderAnthropic {
		return Config{}, fmt.Errorf("invalid SQLGPT_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}
	if cfg.AI.MaxRetries < 0 {
		return Config{}, fmt.Errorf("invalid SQLGPT_AI_MAX_RETRIES: must be >= 0")
	}
	if cfg.Browser.MaxLimit <= 0 {
		return Config{}, fmt.Errorf("invalid SQLGPT_BROWSER_MAX_LIMIT: must be > 0")
	}
	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	return cfg, nil
}

// APIKey returns the credential of the selected provider.
func (c Config) APIKey() string {
	if c.AI.Provider == ProviderAnthropic {
		return c.AI.AnthropicKey
	}
	return c.AI.OpenAIKey
}

func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey()) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ConnString returns the explicit connection string or one assembled from the
// POSTGRES_* parameters.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqlgpt"},
		HTTP: HTTPConfig{
			Address:      "0.0.0.0:5000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Name:            "sql_gpt",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "sqlgpt",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Archive: ArchiveConfig{Enabled: false},
		Browser: BrowserConfig{
			DefaultLimit:  100,
			MaxLimit:      1000,
			ExportLimit:   100000,
			ExportLinkTTL: 15 * time.Minute,
		},
		AI: AIConfig{
			Provider:        ProviderOpenAI,
			Temperature:     0.1,
			MaxTokens:       4096,
			Timeout:         60 * time.Second,
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelInfo,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.AI.MaxRetries = 0
	case ProfileProd:
		cfg.Auth.Required = true
		cfg.Observability.LogJSON = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func defaultModel(provider string) string {
	if provider == ProviderAnthropic {
		return "claude-sonnet-4-5-20250929"
	}
	return "gpt-4-turbo"
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyRaw keeps surrounding whitespace; passwords may carry it.
func applyRaw(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = raw
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
