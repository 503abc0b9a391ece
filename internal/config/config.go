package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Storage
		LLM
		Trim
		Tasks
		Auth
		Maintenance
		Log
		Parser Parser
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
		ConfigFile               string // Optional YAML file, watched for parser rule changes
	}
	Database struct {
		Path string
	}
	Storage struct {
		Backend  StorageBackend
		LocalDir string

		MinIOEndpoint         string
		MinIOAccessKey        string
		MinIOSecretKey        string
		MinIOBucket           string
		MinIORegion           string
		MinIOUseSSL           bool
		MinIOAutoCreateBucket bool
	}
	LLM struct {
		BaseURL     string
		APIKey      string
		Model       string
		InputPrice  float64 // Price per million prompt tokens
		OutputPrice float64 // Price per million completion tokens
		Timeout     time.Duration
	}
	Trim struct {
		MockChunkRunes    int           // Rune count per chunk when replaying a cached trim
		MockInterval      time.Duration // Delay between replayed chunks
		JobConcurrency    int           // Chapters trimmed in parallel by one background task
		StreamRatePerSec  float64       // Per-user stream starts per second
		StreamRateBurst   int
		StreamLimiterIdle time.Duration // Idle limiters are dropped after this long
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	Auth struct {
		JWTSecret       string
		TokenExpiry     time.Duration
		SessionSecret   string
		SessionLifetime time.Duration
		BcryptCost      int
		SecureCookies   bool // Set to false for local dev without HTTPS
		RegisterBonus   int

		// Rate limiting configuration
		MaxLoginAttempts int           // Max failed attempts before lockout (default: 5)
		RateLimitWindow  time.Duration // Time window for counting attempts (default: 15m)
		LockoutDuration  time.Duration // How long to lock out (default: 30m)
	}
	Maintenance struct {
		Enabled       bool
		Schedule      string        // Cron format: "*/10 * * * *" = every 10 minutes
		StaleTaskAge  time.Duration // Active tasks untouched for this long are reaped
		SweepOrphans  bool
		SweepSchedule string
	}
	Log struct {
		Level  string
		Pretty bool
	}

	Parser struct {
		Version int          `mapstructure:"version" json:"version"`
		Rules   []ParserRule `mapstructure:"rules" json:"rules"`
	}
	ParserRule struct {
		Name    string `mapstructure:"name" json:"name"`
		Pattern string `mapstructure:"pattern" json:"pattern"`
		Weight  int    `mapstructure:"weight" json:"weight"`
	}
)

// NewConfig builds the configuration from the environment. A .env file in
// the working directory is loaded first when present, and CONFIG_PATH may
// point at a YAML file holding the same keys plus the parser section.
func NewConfig() *Config {
	cfg, _, _ := Load()
	return cfg
}

// Load is NewConfig returning the viper instance used, so callers can watch
// the config file. A config file that exists but cannot be parsed is
// reported as an error alongside the env-only configuration.
func Load() (*Config, *viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8080)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("config_path", "")
	v.SetDefault("database_path", DefaultDatabasePath)

	// Storage defaults
	v.SetDefault("storage_backend", string(StorageBackendLocal))
	v.SetDefault("storage_local_dir", DefaultStorageDir)
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "storytrim")
	v.SetDefault("minio_region", "")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("minio_auto_create_bucket", true)

	// LLM defaults
	v.SetDefault("llm_base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm_api_key", "")
	v.SetDefault("llm_model", "deepseek-chat")
	v.SetDefault("llm_input_price", 2.0)
	v.SetDefault("llm_output_price", 3.0)
	v.SetDefault("llm_timeout", "10m")

	// Trim defaults
	v.SetDefault("trim_mock_chunk_runes", 10)
	v.SetDefault("trim_mock_interval", "100ms")
	v.SetDefault("trim_job_concurrency", 5)
	v.SetDefault("trim_stream_rate_per_sec", 0.5)
	v.SetDefault("trim_stream_rate_burst", 5)
	v.SetDefault("trim_stream_limiter_idle", "30m")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "3h")
	v.SetDefault("task_cleanup_interval", "1h")

	// Auth defaults
	v.SetDefault("auth_jwt_secret", "")
	v.SetDefault("auth_token_expiry", "24h")
	v.SetDefault("auth_session_secret", "")       // Auto-generated if empty
	v.SetDefault("auth_session_lifetime", "168h") // 7 days
	v.SetDefault("auth_bcrypt_cost", 10)
	v.SetDefault("auth_secure_cookies", true)
	v.SetDefault("auth_register_bonus", DefaultRegisterBonus)
	v.SetDefault("auth_max_login_attempts", 5)
	v.SetDefault("auth_rate_limit_window", "15m")
	v.SetDefault("auth_lockout_duration", "30m")

	// Maintenance defaults
	v.SetDefault("maintenance_enabled", true)
	v.SetDefault("maintenance_schedule", "*/10 * * * *")
	v.SetDefault("maintenance_stale_task_age", "3h")
	v.SetDefault("maintenance_sweep_orphans", true)
	v.SetDefault("maintenance_sweep_schedule", "30 3 * * *")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	v.SetDefault("parser.version", 1)

	var loadErr error
	configPath := v.GetString("CONFIG_PATH")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				loadErr = fmt.Errorf("read config file %s: %w", configPath, err)
			}
			configPath = ""
		}
	}

	cfg := &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
			ConfigFile:               configPath,
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Storage: Storage{
			Backend:               StorageBackend(v.GetString("STORAGE_BACKEND")),
			LocalDir:              v.GetString("STORAGE_LOCAL_DIR"),
			MinIOEndpoint:         v.GetString("MINIO_ENDPOINT"),
			MinIOAccessKey:        v.GetString("MINIO_ACCESS_KEY"),
			MinIOSecretKey:        v.GetString("MINIO_SECRET_KEY"),
			MinIOBucket:           v.GetString("MINIO_BUCKET"),
			MinIORegion:           v.GetString("MINIO_REGION"),
			MinIOUseSSL:           v.GetBool("MINIO_USE_SSL"),
			MinIOAutoCreateBucket: v.GetBool("MINIO_AUTO_CREATE_BUCKET"),
		},
		LLM: LLM{
			BaseURL:     v.GetString("LLM_BASE_URL"),
			APIKey:      v.GetString("LLM_API_KEY"),
			Model:       v.GetString("LLM_MODEL"),
			InputPrice:  v.GetFloat64("LLM_INPUT_PRICE"),
			OutputPrice: v.GetFloat64("LLM_OUTPUT_PRICE"),
			Timeout:     v.GetDuration("LLM_TIMEOUT"),
		},
		Trim: Trim{
			MockChunkRunes:    v.GetInt("TRIM_MOCK_CHUNK_RUNES"),
			MockInterval:      v.GetDuration("TRIM_MOCK_INTERVAL"),
			JobConcurrency:    v.GetInt("TRIM_JOB_CONCURRENCY"),
			StreamRatePerSec:  v.GetFloat64("TRIM_STREAM_RATE_PER_SEC"),
			StreamRateBurst:   v.GetInt("TRIM_STREAM_RATE_BURST"),
			StreamLimiterIdle: v.GetDuration("TRIM_STREAM_LIMITER_IDLE"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Auth: Auth{
			JWTSecret:        v.GetString("AUTH_JWT_SECRET"),
			TokenExpiry:      v.GetDuration("AUTH_TOKEN_EXPIRY"),
			SessionSecret:    v.GetString("AUTH_SESSION_SECRET"),
			SessionLifetime:  v.GetDuration("AUTH_SESSION_LIFETIME"),
			BcryptCost:       v.GetInt("AUTH_BCRYPT_COST"),
			SecureCookies:    v.GetBool("AUTH_SECURE_COOKIES"),
			RegisterBonus:    v.GetInt("AUTH_REGISTER_BONUS"),
			MaxLoginAttempts: v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
			RateLimitWindow:  v.GetDuration("AUTH_RATE_LIMIT_WINDOW"),
			LockoutDuration:  v.GetDuration("AUTH_LOCKOUT_DURATION"),
		},
		Maintenance: Maintenance{
			Enabled:       v.GetBool("MAINTENANCE_ENABLED"),
			Schedule:      v.GetString("MAINTENANCE_SCHEDULE"),
			StaleTaskAge:  v.GetDuration("MAINTENANCE_STALE_TASK_AGE"),
			SweepOrphans:  v.GetBool("MAINTENANCE_SWEEP_ORPHANS"),
			SweepSchedule: v.GetString("MAINTENANCE_SWEEP_SCHEDULE"),
		},
		Log: Log{
			Level:  v.GetString("LOG_LEVEL"),
			Pretty: v.GetBool("LOG_PRETTY"),
		},
		Parser: readParser(v),
	}

	return cfg, v, loadErr
}

// readParser decodes the parser section. An empty rule list means the
// built-in rules apply.
func readParser(v *viper.Viper) Parser {
	var p Parser
	if err := v.UnmarshalKey("parser", &p); err != nil {
		return Parser{Version: 1}
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return p
}
