package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Telegram alert sink. Unset token or chat ID disables alerting.
	TelegramToken   string
	TelegramChatID  string
	TelegramTimeout time.Duration

	AlertQueueSize int
	AlertWorkers   int

	// Optional Kafka telemetry source.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Optional sustained-risk escalation sweeper.
	EscalationEnabled  bool
	EscalationSchedule string

	DeviceCacheSize int
	SessionTTL      time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	telegramTimeout, err := parseDuration("TELEGRAM_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := parseDuration("SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		TelegramToken:   os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:  os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramTimeout: telegramTimeout,

		AlertQueueSize: parsePositiveInt("ALERT_QUEUE_SIZE", 100),
		AlertWorkers:   parsePositiveInt("ALERT_WORKERS", 2),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "water-level-readings"),
		KafkaGroupID: envOrDefault("KAFKA_GROUP_ID", "flood-monitor"),

		EscalationEnabled:  os.Getenv("ESCALATION_ENABLED") == "true",
		EscalationSchedule: envOrDefault("ESCALATION_SCHEDULE", "@every 1m"),

		DeviceCacheSize: parsePositiveInt("DEVICE_CACHE_SIZE", 1000),
		SessionTTL:      sessionTTL,
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == "" {
		return nil, errors.New("TELEGRAM_TOKEN is set but TELEGRAM_CHAT_ID is not")
	}

	return cfg, nil
}

// AlertsEnabled reports whether the Telegram sink is fully configured.
func (c *Config) AlertsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}
