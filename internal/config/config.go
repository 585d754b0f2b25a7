package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	DBPath        string
	JWTSecret     string
	TokenTTL      time.Duration
	CORSOrigins   []string
	MigrationsDir string
	LogLevel      string

	APNs    APNsConfig
	Push    PushConfig
	Billing BillingConfig
	Local   LocalConfig
}

type APNsConfig struct {
	KeyPath     string
	KeyID       string
	TeamID      string
	Topic       string
	Environment string
}

// Enabled reports whether enough credentials are present to send pushes.
func (c APNsConfig) Enabled() bool {
	return c.KeyPath != "" && c.KeyID != "" && c.TeamID != "" && c.Topic != ""
}

type PushConfig struct {
	AttemptTimeout     time.Duration
	MaxAttempts        int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	RequestsPerMinute  int
	Workers            int
	QueueSize          int
	PeriodicInterval   time.Duration
	CompletionInterval time.Duration
	DeliveryRetention  time.Duration
}

type BillingConfig struct {
	KeyPath     string
	KeyID       string
	IssuerID    string
	MaxRequests int
}

func (c BillingConfig) Enabled() bool {
	return c.KeyPath != "" && c.KeyID != "" && c.IssuerID != ""
}

// LocalConfig is read by the on-device processes.
type LocalConfig struct {
	SharedStorePath  string
	SignalDir        string
	ServerURL        string
	ServerToken      string
	PollInterval     time.Duration
	ForegroundOnStop bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first, and the YAML file named by TIMERSYNC_CONFIG
// supplies values for variables that are unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	file, err := loadFile(os.Getenv("TIMERSYNC_CONFIG"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:          getEnv("PORT", file.String("server.port", "8080")),
		DBPath:        getEnv("DB_PATH", file.String("server.db_path", "./data/timersync.db")),
		JWTSecret:     getEnv("JWT_SECRET", file.String("server.jwt_secret", "change-this-secret")),
		TokenTTL:      time.Duration(getEnvInt("TOKEN_TTL_HOURS", file.Int("server.token_ttl_hours", 72))) * time.Hour,
		CORSOrigins:   getEnvList("CORS_ORIGINS", file.List("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})),
		MigrationsDir: getEnv("MIGRATIONS_DIR", file.String("server.migrations_dir", "./migrations")),
		LogLevel:      getEnv("LOG_LEVEL", file.String("log_level", "info")),

		APNs: APNsConfig{
			KeyPath:     getEnv("APNS_KEY_PATH", file.String("apns.key_path", "")),
			KeyID:       getEnv("APNS_KEY_ID", file.String("apns.key_id", "")),
			TeamID:      getEnv("APNS_TEAM_ID", file.String("apns.team_id", "")),
			Topic:       getEnv("APNS_TOPIC", file.String("apns.topic", "")),
			Environment: getEnv("APNS_ENVIRONMENT", file.String("apns.environment", "production")),
		},

		Push: PushConfig{
			AttemptTimeout:     getEnvDuration("PUSH_ATTEMPT_TIMEOUT", file.Duration("push.attempt_timeout", 30*time.Second)),
			MaxAttempts:        getEnvInt("PUSH_MAX_ATTEMPTS", file.Int("push.max_attempts", 4)),
			BaseBackoff:        getEnvDuration("PUSH_BASE_BACKOFF", file.Duration("push.base_backoff", time.Second)),
			MaxBackoff:         getEnvDuration("PUSH_MAX_BACKOFF", file.Duration("push.max_backoff", 30*time.Second)),
			RequestsPerMinute:  getEnvInt("PUSH_REQUESTS_PER_MINUTE", file.Int("push.requests_per_minute", 300)),
			Workers:            getEnvInt("PUSH_WORKERS", file.Int("push.workers", 4)),
			QueueSize:          getEnvInt("PUSH_QUEUE_SIZE", file.Int("push.queue_size", 256)),
			PeriodicInterval:   getEnvDuration("PUSH_PERIODIC_INTERVAL", file.Duration("push.periodic_interval", time.Minute)),
			CompletionInterval: getEnvDuration("PUSH_COMPLETION_INTERVAL", file.Duration("push.completion_interval", 5*time.Second)),
			DeliveryRetention:  getEnvDuration("PUSH_DELIVERY_RETENTION", file.Duration("push.delivery_retention", 7*24*time.Hour)),
		},

		Billing: BillingConfig{
			KeyPath:     getEnv("APP_STORE_CONNECT_PRIVATE_KEY_PATH", file.String("billing.key_path", "")),
			KeyID:       getEnv("APP_STORE_CONNECT_KEY_ID", file.String("billing.key_id", "")),
			IssuerID:    getEnv("APP_STORE_CONNECT_ISSUER_ID", file.String("billing.issuer_id", "")),
			MaxRequests: getEnvInt("APP_STORE_CONNECT_MAX_REQUESTS", file.Int("billing.max_requests", 200)),
		},

		Local: LocalConfig{
			SharedStorePath:  getEnv("SHARED_STORE_PATH", file.String("local.shared_store_path", "./data/shared.db")),
			SignalDir:        getEnv("SIGNAL_DIR", file.String("local.signal_dir", "./data/signals")),
			ServerURL:        getEnv("SERVER_URL", file.String("local.server_url", "")),
			ServerToken:      getEnv("SERVER_TOKEN", file.String("local.server_token", "")),
			PollInterval:     getEnvDuration("POLL_INTERVAL", file.Duration("local.poll_interval", time.Second)),
			ForegroundOnStop: getEnvBool("FOREGROUND_ON_STOP", file.Bool("local.foreground_on_stop", false)),
		},
	}, nil
}

// fileValues serves fallbacks from the optional YAML file.
type fileValues struct {
	v *viper.Viper
}

func loadFile(path string) (fileValues, error) {
	if path == "" {
		return fileValues{}, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fileValues{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	return fileValues{v: v}, nil
}

func (f fileValues) has(key string) bool {
	return f.v != nil && f.v.IsSet(key)
}

func (f fileValues) String(key, fallback string) string {
	if !f.has(key) {
		return fallback
	}
	return f.v.GetString(key)
}

func (f fileValues) Int(key string, fallback int) int {
	if !f.has(key) {
		return fallback
	}
	return f.v.GetInt(key)
}

func (f fileValues) Bool(key string, fallback bool) bool {
	if !f.has(key) {
		return fallback
	}
	return f.v.GetBool(key)
}

func (f fileValues) Duration(key string, fallback time.Duration) time.Duration {
	if !f.has(key) {
		return fallback
	}
	return f.v.GetDuration(key)
}

func (f fileValues) List(key string, fallback []string) []string {
	if !f.has(key) {
		return fallback
	}
	items := f.v.GetStringSlice(key)
	if len(items) == 0 {
		return fallback
	}
	return items
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
