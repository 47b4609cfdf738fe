package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. Broker credential blocks are optional: a broker with no
// credentials configured is simply not registered.
type Config struct {
	// Fyers credentials
	FyersClientID   string
	FyersAppID      string
	FyersSecretKey  string
	FyersTOTPSecret string
	FyersPIN        string

	// Zerodha (Kite) credentials
	ZerodhaUserID     string
	ZerodhaPassword   string
	ZerodhaAPIKey     string
	ZerodhaAPISecret  string
	ZerodhaTOTPSecret string

	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Single shared poll interval: the order cache, the order monitor
	// and the risk check all tick on this value so the cache snapshot
	// is never more than one monitor tick stale.
	PollInterval    time.Duration
	BalanceInterval time.Duration
	BrokerTimeout   time.Duration

	// Order stream (fyers order-update websocket)
	OrderStreamEnabled bool

	// Day PnL limits applied to every broker unless overridden by
	// MAX_LOSS_<BROKER> / MAX_PROFIT_<BROKER>. Zero disables the limit.
	RiskMaxLoss   float64
	RiskMaxProfit float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FyersClientID:   getEnv("FYERS_CLIENT_ID", ""),
		FyersAppID:      getEnv("FYERS_APP_ID", ""),
		FyersSecretKey:  getEnv("FYERS_SECRET_KEY", ""),
		FyersTOTPSecret: getEnv("FYERS_TOTP_SECRET", ""),
		FyersPIN:        getEnv("FYERS_PIN", ""),

		ZerodhaUserID:     getEnv("ZERODHA_USER_ID", ""),
		ZerodhaPassword:   getEnv("ZERODHA_PASSWORD", ""),
		ZerodhaAPIKey:     getEnv("ZERODHA_API_KEY", ""),
		ZerodhaAPISecret:  getEnv("ZERODHA_API_SECRET", ""),
		ZerodhaTOTPSecret: getEnv("ZERODHA_TOTP_SECRET", ""),

		AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
		AngelClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
		AngelPassword:   getEnv("ANGEL_PASSWORD", ""),
		AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/execengine.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		PollInterval:    getDuration("POLL_INTERVAL", 5*time.Second),
		BalanceInterval: getDuration("BALANCE_INTERVAL", 60*time.Second),
		BrokerTimeout:   getDuration("BROKER_TIMEOUT", 10*time.Second),

		OrderStreamEnabled: getBool("ORDER_STREAM_ENABLED", true),

		RiskMaxLoss:   getFloat("MAX_LOSS", 0),
		RiskMaxProfit: getFloat("MAX_PROFIT", 0),
	}
}

// RiskLimitsFor resolves the loss/profit caps for one broker, preferring
// a MAX_LOSS_<BROKER> / MAX_PROFIT_<BROKER> override over the shared value.
func (c *Config) RiskLimitsFor(brokerName string) (maxLoss, maxProfit float64) {
	suffix := "_" + strings.ToUpper(brokerName)
	return getFloat("MAX_LOSS"+suffix, c.RiskMaxLoss), getFloat("MAX_PROFIT"+suffix, c.RiskMaxProfit)
}

// HasFyers reports whether the fyers credential block is complete.
func (c *Config) HasFyers() bool {
	return c.FyersClientID != "" && c.FyersAppID != "" && c.FyersTOTPSecret != "" && c.FyersPIN != ""
}

// HasZerodha reports whether the zerodha credential block is complete.
func (c *Config) HasZerodha() bool {
	return c.ZerodhaUserID != "" && c.ZerodhaAPIKey != "" && c.ZerodhaTOTPSecret != ""
}

// HasAngel reports whether the angel credential block is complete.
func (c *Config) HasAngel() bool {
	return c.AngelAPIKey != "" && c.AngelClientCode != "" && c.AngelTOTPSecret != ""
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		log.Printf("[config] invalid value for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
