package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

const (
	DefaultDailyLimit   = 100
	DefaultRatePerMin   = 10
	DefaultModel        = "llama-3.3-70b-versatile"
	DefaultGroqBaseURL  = "https://api.groq.com/openai/v1"
	DefaultPort         = "8000"
	DefaultSQLitePath   = "./data/usage.db"
	DefaultUpstreamWait = 60 * time.Second
)

type Config struct {
	Port string `yaml:"port"`

	StorageBackend string `yaml:"storage_backend"`
	DatabaseURL    string `yaml:"database_url"`
	DBUser         string `yaml:"db_user"`
	DBPassword     string `yaml:"db_password"`
	DBHost         string `yaml:"db_host"`
	DBPort         string `yaml:"db_port"`
	DBName         string `yaml:"db_name"`
	SQLitePath     string `yaml:"sqlite_path"`
	RedisURL       string `yaml:"redis_url"`

	GroqAPIKey      string        `yaml:"groq_api_key"`
	GroqModel       string        `yaml:"groq_model"`
	GroqBaseURL     string        `yaml:"groq_base_url"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	SystemPrompt    string        `yaml:"system_prompt"`

	DailyMessageLimit  int `yaml:"daily_message_limit"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	UsageRetentionDays int `yaml:"usage_retention_days"`

	LogDir      string   `yaml:"log_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoadConfig builds the configuration from, in increasing priority:
// defaults, the YAML file named by CONFIG_FILE, and the environment
// (a .env file in the working directory is loaded first if present).
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:               DefaultPort,
		StorageBackend:     BackendPostgres,
		SQLitePath:         DefaultSQLitePath,
		GroqModel:          DefaultModel,
		GroqBaseURL:        DefaultGroqBaseURL,
		UpstreamTimeout:    DefaultUpstreamWait,
		DailyMessageLimit:  DefaultDailyLimit,
		RateLimitPerMinute: DefaultRatePerMin,
		LogDir:             "./logs",
		CORSOrigins:        []string{"*"},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.GroqAPIKey = getEnv("GROQ_API_KEY", cfg.GroqAPIKey)
	cfg.GroqModel = getEnv("GROQ_MODEL", cfg.GroqModel)
	cfg.GroqBaseURL = getEnv("GROQ_BASE_URL", cfg.GroqBaseURL)
	cfg.SystemPrompt = getEnv("SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.LogDir = getEnv("LOG_DIR", cfg.LogDir)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	var err error
	if cfg.UpstreamTimeout, err = getDuration("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DailyMessageLimit, err = getInt("DAILY_MESSAGE_LIMIT", cfg.DailyMessageLimit); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = getInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.UsageRetentionDays, err = getInt("USAGE_RETENTION_DAYS", cfg.UsageRetentionDays); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays a YAML file. ${VAR} references are expanded first.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" && c.DBHost == "" {
			return errors.New("config: postgres backend needs DATABASE_URL or DB_HOST")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: sqlite backend needs SQLITE_PATH")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: redis backend needs REDIS_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	if c.DailyMessageLimit < 1 {
		return fmt.Errorf("config: daily message limit must be positive, got %d", c.DailyMessageLimit)
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("config: rate limit must be positive, got %d", c.RateLimitPerMinute)
	}
	if c.UsageRetentionDays < 0 {
		return fmt.Errorf("config: usage retention must not be negative, got %d", c.UsageRetentionDays)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("config: upstream timeout must be positive, got %s", c.UpstreamTimeout)
	}
	return nil
}

// PostgresDSN prefers DATABASE_URL and falls back to the DB_* parts.
func (c Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
	)
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
