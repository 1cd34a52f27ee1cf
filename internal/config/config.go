package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bottlescout/price-ingest/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// NATSConfig holds the reporting collaborator's NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// SchedulerConfig bounds the sequential chain loop
type SchedulerConfig struct {
	// ChainTimeout is the wall-clock budget for one chain's pass
	ChainTimeout time.Duration `mapstructure:"chain_timeout"`
	// InterChainDelay is the politeness pause between consecutive chains
	InterChainDelay time.Duration `mapstructure:"inter_chain_delay"`
}

// RateLimitConfig holds the fixed fetch delays at each granularity.
// Store/category delays are deliberately larger than page delays.
type RateLimitConfig struct {
	PageDelay     time.Duration `mapstructure:"page_delay"`
	CategoryDelay time.Duration `mapstructure:"category_delay"`
	StoreDelay    time.Duration `mapstructure:"store_delay"`
}

// RetryConfig bounds retry-with-backoff around a single fetch
type RetryConfig struct {
	MaxRetries     uint64        `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// HTTPConfig holds shared HTTP client configuration
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// BrowserConfig holds headless browser configuration
type BrowserConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	CookieSettle time.Duration `mapstructure:"cookie_settle"`
}

// ChainConfig describes one configured retail chain.
// Kind selects the source shape: "html" for paginated storefront listings,
// "api" for an authenticated store-scoped JSON catalog, "browser" for
// storefronts that only render client-side.
type ChainConfig struct {
	Name          string             `mapstructure:"name"`
	Kind          string             `mapstructure:"kind"`
	Mode          domain.PricingMode `mapstructure:"mode"`
	BaseURL       string             `mapstructure:"base_url"`
	Categories    []string           `mapstructure:"categories"`
	Headers       map[string]string  `mapstructure:"headers"`
	Authenticated bool               `mapstructure:"authenticated"`
	TokenURL      string             `mapstructure:"token_url"`
	APIKey        string             `mapstructure:"api_key"`
	APISecret     string             `mapstructure:"api_secret"`
	LoginURL      string             `mapstructure:"login_url"`
	ProbePath     string             `mapstructure:"probe_path"`
	PageSize      int                `mapstructure:"page_size"`
	MaxPages      int                `mapstructure:"max_pages"`
}

// IngestConfig holds configuration for the ingestd binary
type IngestConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Retry      RetryConfig     `mapstructure:"retry"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	Browser    BrowserConfig   `mapstructure:"browser"`
	Chains     []ChainConfig   `mapstructure:"chains"`
	// RunRetention bounds how long finished ingestion runs are kept
	RunRetention time.Duration `mapstructure:"run_retention"`
}

// LoadIngestConfig loads configuration for ingestd
func LoadIngestConfig(configFile string, envPath string) (*IngestConfig, error) {
	v := configureViper("ingestd", configFile, envPath)

	// Set defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "INGEST_REPORTS")
	v.SetDefault("nats.subject_prefix", "ingest.reports")
	v.SetDefault("nats.connection_name", "price-ingestd")
	v.SetDefault("scheduler.chain_timeout", "45m")
	v.SetDefault("scheduler.inter_chain_delay", "30s")
	v.SetDefault("rate_limit.page_delay", "1s")
	v.SetDefault("rate_limit.category_delay", "5s")
	v.SetDefault("rate_limit.store_delay", "10s")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff", "2s")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.user_agent", "price-ingest/1.0")
	v.SetDefault("browser.timeout", "90s")
	v.SetDefault("browser.cookie_settle", "3s")
	v.SetDefault("run_retention", "2160h") // 90 days

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg IngestConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks required fields and per-chain consistency
func (c *IngestConfig) validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}

	seen := make(map[string]bool, len(c.Chains))
	for i := range c.Chains {
		chain := &c.Chains[i]
		if chain.Name == "" {
			return fmt.Errorf("chains[%d].name is required", i)
		}
		if seen[chain.Name] {
			return fmt.Errorf("duplicate chain %q", chain.Name)
		}
		seen[chain.Name] = true

		switch chain.Kind {
		case "html", "api", "browser":
		case "":
			chain.Kind = "html"
		default:
			return fmt.Errorf("chain %q: unknown source kind %q", chain.Name, chain.Kind)
		}
		if chain.BaseURL == "" {
			return fmt.Errorf("chain %q: base_url is required", chain.Name)
		}
		if chain.Authenticated && chain.TokenURL == "" && chain.LoginURL == "" {
			return fmt.Errorf("chain %q: authenticated chains need token_url or login_url", chain.Name)
		}

		switch chain.Mode {
		case domain.PricingBroadcast, domain.PricingStoreScoped:
		case "":
			chain.Mode = domain.PricingBroadcast
		default:
			return fmt.Errorf("chain %q: unknown pricing mode %q", chain.Name, chain.Mode)
		}

		if chain.PageSize <= 0 {
			chain.PageSize = 50
		}
		if chain.MaxPages <= 0 {
			// safety ceiling for sites that never signal a last page
			chain.MaxPages = 500
		}
	}

	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("PRICE_INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// This is required for viper to map env vars to config struct fields when no
// config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"run_retention",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.subject_prefix",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Scheduler
		"scheduler.chain_timeout",
		"scheduler.inter_chain_delay",
		// Rate limiting
		"rate_limit.page_delay",
		"rate_limit.category_delay",
		"rate_limit.store_delay",
		// Retry
		"retry.max_retries",
		"retry.initial_backoff",
		"retry.max_backoff",
		// HTTP
		"http.timeout",
		"http.user_agent",
		// Browser
		"browser.timeout",
		"browser.cookie_settle",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
