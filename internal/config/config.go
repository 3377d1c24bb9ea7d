package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"reorder-engine/internal/core"
	"reorder-engine/internal/observability"
)

// Item lock backends selectable through ENGINE_ITEM_LOCK.
const (
	LockNone     = "none"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

type Config struct {
	DatabaseURL        string
	ServerPort         string
	LogMode            string
	AllowedOrigins     string
	SchedulerJWTSecret string

	ItemLock      string
	ItemLockTTL   time.Duration
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	NotifyWebhookURL string
	NotifyTimeout    time.Duration
	NotifyMaxRetries int

	OpenAIAPIKey string
	OpenAIModel  string

	Tracing observability.TracingConfig

	Engine core.EngineConfig
}

// Load reads .env (if present), the process environment and the optional engine tuning file
// named by ENGINE_CONFIG_FILE.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ServerPort:         String("SERVER_PORT", "8080"),
		LogMode:            String("LOG_MODE", "development"),
		AllowedOrigins:     os.Getenv("ALLOWED_ORIGINS"),
		SchedulerJWTSecret: os.Getenv("SCHEDULER_JWT_SECRET"),
		ItemLock:           strings.ToLower(String("ENGINE_ITEM_LOCK", LockNone)),
		ItemLockTTL:        time.Duration(Int("ENGINE_ITEM_LOCK_TTL_SECONDS", 60)) * time.Second,
		RedisAddress:       os.Getenv("REDIS_ADDRESS"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            Int("REDIS_DB", 0),
		NotifyWebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyTimeout:      time.Duration(Int("NOTIFY_TIMEOUT_SECONDS", 10)) * time.Second,
		NotifyMaxRetries:   Int("NOTIFY_MAX_RETRIES", 2),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		Tracing: observability.TracingConfig{
			Enabled:     Bool("OTEL_ENABLED", false),
			ServiceName: String("OTEL_SERVICE_NAME", "reorder-engine"),
			Environment: os.Getenv("APP_ENV"),
			Exporter:    os.Getenv("OTEL_TRACES_EXPORTER"),
			Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Insecure:    Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
			Headers:     observability.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			SampleRatio: Float("OTEL_SAMPLER_RATIO", 1),
		},
	}

	engine, err := LoadEngineConfig(os.Getenv("ENGINE_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.ItemLock {
	case LockNone, LockPostgres:
	case LockRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("ENGINE_ITEM_LOCK=redis requires REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("ENGINE_ITEM_LOCK must be one of none, postgres, redis (got %q)", c.ItemLock)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", observability.ExporterOTLP, observability.ExporterStdout:
	default:
		return fmt.Errorf("OTEL_TRACES_EXPORTER must be otlp or stdout (got %q)", c.Tracing.Exporter)
	}
	if c.NotifyMaxRetries < 0 {
		return fmt.Errorf("NOTIFY_MAX_RETRIES must not be negative")
	}
	return nil
}

// LoadEngineConfig reads a YAML tuning file on top of the defaults. An empty path yields the defaults.
func LoadEngineConfig(path string) (core.EngineConfig, error) {
	if strings.TrimSpace(path) == "" {
		return core.DefaultEngineConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return core.EngineConfig{}, fmt.Errorf("read engine config %s: %w", path, err)
	}
	return ParseEngineConfig(raw)
}

// ParseEngineConfig overlays raw YAML on DefaultEngineConfig: absent keys keep their
// defaults, explicit zeros are kept.
func ParseEngineConfig(raw []byte) (core.EngineConfig, error) {
	ec := core.DefaultEngineConfig()
	if err := yaml.Unmarshal(raw, &ec); err != nil {
		return core.EngineConfig{}, fmt.Errorf("parse engine config: %w", err)
	}
	if err := ec.Validate(); err != nil {
		return core.EngineConfig{}, fmt.Errorf("parse engine config: %w", err)
	}
	return ec.WithDefaults(), nil
}

func String(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Bool(name string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return v
}

func Float(name string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(name)), 64)
	if err != nil {
		return def
	}
	return v
}
