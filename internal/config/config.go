package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the clipforge server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Reconcile   ReconcileConfig
	Probe       ProbeConfig
	Storage     StorageConfig
	RecordStore RecordStoreConfig
	Providers   ProvidersConfig
	Webhook     WebhookConfig
	Admin       AdminConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// PublicBaseURL is the externally reachable base used to build provider callback URLs.
	PublicBaseURL string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type ReconcileConfig struct {
	Enabled          bool
	Interval         time.Duration
	StuckThreshold   time.Duration
	TickTimeout      time.Duration
	ProbeConcurrency int
	BatchSize        int
	ArchiveHorizon   time.Duration
	// MaxPropagationAttempts stops retrying a dependent record update after
	// this many attempts. Zero retries forever.
	MaxPropagationAttempts int
}

type ProbeConfig struct {
	Timeout         time.Duration
	FailureCeiling  time.Duration
	BaseURL         string
	ConventionsFile string
}

type StorageConfig struct {
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
}

type RecordStoreConfig struct {
	BaseURL string
	APIKey  string
	BaseID  string
	Timeout time.Duration
	Fields  FieldMapping
}

// FieldMapping names the downstream record fields written on propagation.
type FieldMapping struct {
	OutputURL string
	Status    string
	Error     string
	JobID     string
}

type ProvidersConfig struct {
	Timeout    time.Duration
	TTS        ProviderEndpoint
	Generation ProviderEndpoint
	Media      ProviderEndpoint
}

type ProviderEndpoint struct {
	BaseURL string
	APIKey  string
}

type WebhookConfig struct {
	// Secrets maps provider name to its HMAC signing secret. Providers without
	// a secret are accepted unsigned.
	Secrets      map[string]string
	DedupeTTL    time.Duration
	MaxBodyBytes int64
}

type AdminConfig struct {
	TokenHash         string
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("CLIPFORGE_PORT", 8080),
			Env:           envString("CLIPFORGE_ENV", "development"),
			PublicBaseURL: strings.TrimRight(os.Getenv("CLIPFORGE_PUBLIC_URL"), "/"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Reconcile: ReconcileConfig{
			Enabled:          envBool("RECONCILE_ENABLED", true),
			Interval:         envDuration("RECONCILE_INTERVAL", 2*time.Minute),
			StuckThreshold:   envDuration("RECONCILE_STUCK_THRESHOLD", 5*time.Minute),
			TickTimeout:      envDuration("RECONCILE_TICK_TIMEOUT", 90*time.Second),
			ProbeConcurrency: envInt("RECONCILE_PROBE_CONCURRENCY", 8),
			BatchSize:        envInt("RECONCILE_BATCH_SIZE", 200),
			ArchiveHorizon:   envDuration("RECONCILE_ARCHIVE_HORIZON", 30*24*time.Hour),

			MaxPropagationAttempts: envInt("RECONCILE_MAX_PROPAGATION_ATTEMPTS", 10),
		},
		Probe: ProbeConfig{
			Timeout:         envDuration("PROBE_TIMEOUT", 10*time.Second),
			FailureCeiling:  envDuration("PROBE_FAILURE_CEILING", time.Hour),
			BaseURL:         strings.TrimRight(os.Getenv("PROBE_BASE_URL"), "/"),
			ConventionsFile: os.Getenv("PROBE_CONVENTIONS_FILE"),
		},
		Storage: StorageConfig{
			MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
			MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinIOUseSSL:    envBool("MINIO_USE_SSL", true),
		},
		RecordStore: RecordStoreConfig{
			BaseURL: strings.TrimRight(envString("RECORD_STORE_BASE_URL", "https://api.airtable.com/v0"), "/"),
			APIKey:  os.Getenv("RECORD_STORE_API_KEY"),
			BaseID:  os.Getenv("RECORD_STORE_BASE_ID"),
			Timeout: envDuration("RECORD_STORE_TIMEOUT", 15*time.Second),
			Fields: FieldMapping{
				OutputURL: envString("RECORD_FIELD_OUTPUT_URL", "Output URL"),
				Status:    envString("RECORD_FIELD_STATUS", "Status"),
				Error:     envString("RECORD_FIELD_ERROR", "Error"),
				JobID:     envString("RECORD_FIELD_JOB_ID", "Job ID"),
			},
		},
		Providers: ProvidersConfig{
			Timeout: envDuration("PROVIDER_TIMEOUT", 30*time.Second),
			TTS: ProviderEndpoint{
				BaseURL: strings.TrimRight(os.Getenv("TTS_BASE_URL"), "/"),
				APIKey:  os.Getenv("TTS_API_KEY"),
			},
			Generation: ProviderEndpoint{
				BaseURL: strings.TrimRight(os.Getenv("GENERATION_BASE_URL"), "/"),
				APIKey:  os.Getenv("GENERATION_API_KEY"),
			},
			Media: ProviderEndpoint{
				BaseURL: strings.TrimRight(os.Getenv("MEDIA_BASE_URL"), "/"),
				APIKey:  os.Getenv("MEDIA_API_KEY"),
			},
		},
		Webhook: WebhookConfig{
			Secrets: map[string]string{
				"tts":        os.Getenv("WEBHOOK_SECRET_TTS"),
				"generation": os.Getenv("WEBHOOK_SECRET_GENERATION"),
				"media":      os.Getenv("WEBHOOK_SECRET_MEDIA"),
			},
			DedupeTTL:    envDuration("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
			MaxBodyBytes: int64(envInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		Admin: AdminConfig{
			TokenHash:         os.Getenv("ADMIN_TOKEN_HASH"),
			RequestsPerMinute: envInt("ADMIN_REQUESTS_PER_MINUTE", 30),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.PublicBaseURL == "" {
		return fmt.Errorf("CLIPFORGE_PUBLIC_URL is required")
	}
	if !isHTTPURL(c.Server.PublicBaseURL) {
		return fmt.Errorf("CLIPFORGE_PUBLIC_URL must start with http:// or https://, got %q", c.Server.PublicBaseURL)
	}

	if c.Probe.BaseURL == "" {
		return fmt.Errorf("PROBE_BASE_URL is required")
	}

	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.Probe.Timeout >= c.Reconcile.Interval {
		return fmt.Errorf("PROBE_TIMEOUT (%s) must be shorter than RECONCILE_INTERVAL (%s)",
			c.Probe.Timeout, c.Reconcile.Interval)
	}
	if c.Reconcile.TickTimeout > c.Reconcile.Interval {
		return fmt.Errorf("RECONCILE_TICK_TIMEOUT (%s) must not exceed RECONCILE_INTERVAL (%s)",
			c.Reconcile.TickTimeout, c.Reconcile.Interval)
	}
	if c.Probe.FailureCeiling <= c.Reconcile.StuckThreshold {
		return fmt.Errorf("PROBE_FAILURE_CEILING (%s) must exceed RECONCILE_STUCK_THRESHOLD (%s)",
			c.Probe.FailureCeiling, c.Reconcile.StuckThreshold)
	}
	if c.Reconcile.ProbeConcurrency <= 0 {
		return fmt.Errorf("RECONCILE_PROBE_CONCURRENCY must be positive, got %d", c.Reconcile.ProbeConcurrency)
	}

	if c.RecordStore.APIKey == "" {
		return fmt.Errorf("RECORD_STORE_API_KEY is required")
	}
	if c.RecordStore.BaseID == "" {
		return fmt.Errorf("RECORD_STORE_BASE_ID is required")
	}

	if c.Storage.MinIOEndpoint != "" && (c.Storage.MinIOAccessKey == "" || c.Storage.MinIOSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}

	for name, p := range map[string]ProviderEndpoint{
		"TTS":        c.Providers.TTS,
		"GENERATION": c.Providers.Generation,
		"MEDIA":      c.Providers.Media,
	} {
		if p.BaseURL != "" && !isHTTPURL(p.BaseURL) {
			return fmt.Errorf("%s_BASE_URL must start with http:// or https://, got %q", name, p.BaseURL)
		}
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
