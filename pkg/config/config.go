package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the message control plane.
type Config struct {
	Port     string
	GRPCPort string

	// Storage
	DBDriver    string // "sqlite" (default) or "postgres"
	DBPath      string
	DatabaseURL string

	// Queues
	QueueMaxSize   int
	EnableQueueWAL bool
	QueueWALPath   string

	// Scheduling
	ProcessorInterval time.Duration
	PersistInterval   time.Duration
	ResyncInterval    time.Duration

	// Routing
	BrokerProfilesPath string
	EnablePaperBroker  bool
	AutoRouteUsers     []string
	AutoRouteStrategy  string

	// Binance
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Notifications
	TelegramBotToken   string
	TelegramChatID     int64
	DiscordWebhookURL  string
	FCMCredentialsFile string
	FCMTopic           string

	// External signal feed
	SignalFeedURL      string
	SignalFeedInterval time.Duration

	// Logging / localization
	LogLevel  string
	LogFormat string
	Language  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/mcp.db")
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", "9090"),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:             dbPath,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		QueueMaxSize:       getEnvInt("QUEUE_MAX_SIZE", 1000),
		EnableQueueWAL:     getEnv("ENABLE_QUEUE_WAL", "true") == "true",
		QueueWALPath:       getEnv("QUEUE_WAL_PATH", "./data/queue_wal"),
		ProcessorInterval:  getEnvDuration("PROCESSOR_INTERVAL", 100*time.Millisecond),
		PersistInterval:    getEnvDuration("PERSIST_INTERVAL", 5*time.Minute),
		ResyncInterval:     getEnvDuration("RESYNC_INTERVAL", 30*time.Minute),
		BrokerProfilesPath: getEnv("BROKER_PROFILES_PATH", "brokers.yaml"),
		EnablePaperBroker:  getEnv("PAPER_BROKER", "true") == "true",
		AutoRouteUsers:     splitAndTrim(getEnv("AUTO_ROUTE_USERS", "")),
		AutoRouteStrategy:  strings.ToLower(getEnv("AUTO_ROUTE_STRATEGY", "auto")),
		BinanceAPIKey:      os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:   os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:     getEnv("BINANCE_TESTNET", "false") == "true",
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     getEnvInt64("TELEGRAM_CHAT_ID", 0),
		DiscordWebhookURL:  os.Getenv("DISCORD_WEBHOOK_URL"),
		FCMCredentialsFile: os.Getenv("FCM_CREDENTIALS_FILE"),
		FCMTopic:           getEnv("FCM_TOPIC", "trading_signals"),
		SignalFeedURL:      os.Getenv("SIGNAL_FEED_URL"),
		SignalFeedInterval: getEnvDuration("SIGNAL_FEED_INTERVAL", time.Minute),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
		Language:           getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
