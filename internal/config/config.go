package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once by the factory and
// passed by reference into every component.
type Config struct {
	Environment string

	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	OTP      OTPConfig
	Token    TokenConfig
	SMS      SMSConfig
	Cleanup  CleanupConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type OTPConfig struct {
	CodeLength        int
	TTL               time.Duration
	SendCooldown      time.Duration
	MaxVerifyAttempts int
	VerifyAttemptsTTL time.Duration
}

type TokenConfig struct {
	ByteLength      int
	ExpiryDays      int
	SessionCacheTTL time.Duration
}

type SMSConfig struct {
	APIURL     string
	APIKey     string
	TemplateID int
	Sandbox    bool
}

type CleanupConfig struct {
	Interval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment. A .env file is loaded
// first if present so local development does not need exported variables.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Postgres: PostgresConfig{
			URL:             getEnv("DATABASE_URL", "postgres://localhost:5432/prediction?sslmode=disable"),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getEnv("KAFKA_AUTH_EVENTS_TOPIC", "auth-events"),
		},
		OTP: OTPConfig{
			CodeLength:        getEnvInt("OTP_CODE_LENGTH", 6),
			TTL:               getEnvDuration("OTP_TTL", 2*time.Minute),
			SendCooldown:      getEnvDuration("OTP_SEND_COOLDOWN", 2*time.Minute),
			MaxVerifyAttempts: getEnvInt("OTP_MAX_VERIFY_ATTEMPTS", 5),
			VerifyAttemptsTTL: getEnvDuration("OTP_VERIFY_ATTEMPTS_TTL", time.Minute),
		},
		Token: TokenConfig{
			ByteLength:      getEnvInt("TOKEN_BYTE_LENGTH", 64),
			ExpiryDays:      getEnvInt("TOKEN_EXPIRY_DAYS", 30),
			SessionCacheTTL: getEnvDuration("SESSION_CACHE_TTL", time.Hour),
		},
		SMS: SMSConfig{
			APIURL:     getEnv("SMS_API_URL", "https://api.sms.ir/v1/send/verify"),
			APIKey:     getEnv("SMS_API_KEY", ""),
			TemplateID: getEnvInt("SMS_TEMPLATE_ID", 0),
			Sandbox:    getEnvBool("SMS_SANDBOX", true),
		},
		Cleanup: CleanupConfig{
			Interval: getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		// Bare integers are treated as seconds.
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
