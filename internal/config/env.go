package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// GeminiConfig configures the generative model client.
type GeminiConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration
}

// RetryConfig controls the chat reply retry loop.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	HintBuffer   time.Duration
}

// RedisConfig holds Redis connectivity and key names.
type RedisConfig struct {
	URL        string
	PlantsKey  string
	SessionTTL time.Duration
}

// StorageConfig holds S3 settings for chat photos.
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	UploadPrefix    string
}

// WeatherConfig points the /api/weather proxy at the provider.
type WeatherConfig struct {
	APIKey          string
	URL             string
	DefaultLocation string
	Timeout         time.Duration
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Gemini  GeminiConfig
	Retry   RetryConfig
	Redis   RedisConfig
	Storage StorageConfig
	Weather WeatherConfig
	HTTP    HTTPConfig
}

// Load reads the given .env files (missing ones are skipped) and then the
// environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/smartgarden.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_smartgarden",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Gemini = GeminiConfig{
		APIKey:         getEnv("GEMINI_API_KEY", ""),
		Model:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		BaseURL:        getEnv("GEMINI_BASE_URL", ""),
		MaxTokens:      parseInt(getEnv("GEMINI_MAX_TOKENS", "1024"), 1024),
		Temperature:    parseFloat(getEnv("GEMINI_TEMPERATURE", "0.7"), 0.7),
		RequestTimeout: parseDuration(getEnv("REQUEST_TIMEOUT", "60s"), 60*time.Second),
	}

	cfg.Retry = RetryConfig{
		MaxRetries:   parseInt(getEnv("AI_MAX_RETRIES", "3"), 3),
		InitialDelay: parseDuration(getEnv("AI_RETRY_INITIAL_DELAY", "2s"), 2*time.Second),
		HintBuffer:   parseDuration(getEnv("AI_RETRY_HINT_BUFFER", "500ms"), 500*time.Millisecond),
	}

	cfg.Redis = RedisConfig{
		URL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		PlantsKey:  getEnv("PLANTS_KEY", "SMART_GARDEN_PLANTS"),
		SessionTTL: parseDuration(getEnv("SESSION_TTL", "720h"), 720*time.Hour),
	}

	cfg.Storage = StorageConfig{
		Bucket:          getEnv("S3_BUCKET", ""),
		Region:          getEnv("AWS_REGION", "us-east-1"),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    parseBool(getEnv("S3_USE_PATH_STYLE", "0")),
		UploadPrefix:    getEnv("S3_UPLOAD_PREFIX", "chat-photos/"),
	}

	cfg.Weather = WeatherConfig{
		APIKey:          getEnv("WEATHER_API_KEY", ""),
		URL:             getEnv("WEATHER_API_URL", "http://api.weatherstack.com/current"),
		DefaultLocation: getEnv("WEATHER_DEFAULT_LOCATION", "Hanoi"),
		Timeout:         parseDuration(getEnv("WEATHER_TIMEOUT", "10s"), 10*time.Second),
	}

	cfg.HTTP = HTTPConfig{
		Port:            parseInt(getEnv("PORT", "8080"), 8080),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
		MaxBodyBytes:    int64(parseInt(getEnv("MAX_BODY_BYTES", "10485760"), 10<<20)),
	}

	return cfg
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required"))
	}
	if c.Retry.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("AI_MAX_RETRIES must be >= 1, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("AI_RETRY_INITIAL_DELAY must be positive, got %v", c.Retry.InitialDelay))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.HTTP.Port))
	}
	return errors.Join(errs...)
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
