package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	minJWTSecretLen = 16
)

type Config struct {
	DB       DBConfig
	HTTP     HTTPConfig
	Telegram TelegramConfig
	AMQP     AMQPConfig
	Checkout CheckoutConfig
	Log      LogConfig
	Admin    AdminConfig
}

type DBConfig struct {
	Driver   string // postgres or memory
	Host     string
	Port     int
	User     string
	Password string
	Database string
	MaxConns int32
}

// DSN returns the postgres connection URL.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

type HTTPConfig struct {
	Port           int
	JWTSecret      string
	JWTTTL         time.Duration
	TrustedProxies []string // CIDRs or IPs allowed to set X-Forwarded-For; empty trusts none
}

type TelegramConfig struct {
	Token       string // customer bot
	StaffToken  string // staff bot: order cards and status buttons
	StaffChatID int64  // chat the staff cards are posted to
	AdminID     int64  // telegram user treated as ADMIN
}

type AMQPConfig struct {
	URL      string // empty disables event publishing
	Exchange string
}

type CheckoutConfig struct {
	Retries int
}

type LogConfig struct {
	Level string
}

type AdminConfig struct {
	Username string
	Password string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dbPort, err := getInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	maxConns, err := getInt("DB_MAX_CONNS", 25)
	if err != nil {
		return nil, err
	}
	httpPort, err := getInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	ttl, err := getDuration("JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	staffChat, err := getInt64("STAFF_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}
	adminID, err := getInt64("ADMIN_ID", 0)
	if err != nil {
		return nil, err
	}
	retries, err := getInt("CHECKOUT_RETRIES", 1)
	if err != nil {
		return nil, err
	}
	if retries < 0 {
		return nil, fmt.Errorf("CHECKOUT_RETRIES must be >= 0, got %d", retries)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if len(jwtSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("JWT_SECRET must be set to at least %d characters", minJWTSecretLen)
	}

	driver := getEnv("DB_DRIVER", DriverPostgres)
	if driver != DriverPostgres && driver != DriverMemory {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, driver)
	}

	return &Config{
		DB: DBConfig{
			Driver:   driver,
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "table_order"),
			MaxConns: int32(maxConns),
		},
		HTTP: HTTPConfig{
			Port:           httpPort,
			JWTSecret:      jwtSecret,
			JWTTTL:         ttl,
			TrustedProxies: getList("HTTP_TRUSTED_PROXIES"),
		},
		Telegram: TelegramConfig{
			Token:       getEnv("TELEGRAM_TOKEN", ""),
			StaffToken:  getEnv("STAFF_BOT_TOKEN", ""),
			StaffChatID: staffChat,
			AdminID:     adminID,
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "orders_topic"),
		},
		Checkout: CheckoutConfig{
			Retries: retries,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
