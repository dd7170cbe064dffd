package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ActiveVisitorWindow is how long a fingerprint counts as "currently browsing".
	ActiveVisitorWindow = 300 * time.Second

	// MaxBodyBytes is the largest beacon body the collector accepts.
	MaxBodyBytes = 10 * 1024
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPPort    string
	AutoMigrate bool
	Postgres    PostgresConfig
	Kafka       KafkaConfig
	Collector   CollectorConfig
	Retention   RetentionConfig
	Auth        AuthConfig
}

type PostgresConfig struct {
	Host            string
	Port            string
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SSLMode         string
}

type KafkaConfig struct {
	Brokers          []string
	Topic            string
	ProducerRetries  int
	ProducerTimeout  time.Duration
	RequiredAcks     int
	CompressionType  string
	MaxMessageBytes  int
	IdempotentWrites bool
}

type CollectorConfig struct {
	FlushDelay     time.Duration
	Location       *time.Location
	CountryHeaders []string
	TrustedProxies []string
	AllowedOrigins []string
}

type RetentionConfig struct {
	RawHours            int
	AggregateHours      int
	AggregationInterval time.Duration
	RetentionInterval   time.Duration
}

type AuthConfig struct {
	AdminPasswordHash string
	JWTSecret         string
	SessionTTL        time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		AutoMigrate: getEnvAsBool("AUTO_MIGRATE", true),
	}

	cfg.Postgres = PostgresConfig{
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Database:        getEnv("POSTGRES_DB", "analytics"),
		Username:        getEnv("POSTGRES_USER", "admin"),
		Password:        getEnv("POSTGRES_PASSWORD", "password"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
	}

	cfg.Kafka = KafkaConfig{
		Brokers:          getEnvAsList("KAFKA_BROKERS", ""),
		Topic:            getEnv("KAFKA_TOPIC_EVENTS", "pageview-events"),
		ProducerRetries:  getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:  getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:     getEnvAsInt("KAFKA_REQUIRED_ACKS", -1),
		CompressionType:  getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites: getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:  getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000),
	}

	location, err := loadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return nil, err
	}

	cfg.Collector = CollectorConfig{
		FlushDelay: getEnvAsDuration("FLUSH_DELAY", 5*time.Second),
		Location:   location,
		CountryHeaders: getEnvAsList("COUNTRY_HEADERS",
			"CF-IPCountry,X-Vercel-IP-Country,CloudFront-Viewer-Country,X-Country-Code"),
		TrustedProxies: getEnvAsList("TRUSTED_PROXIES", ""),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", "*"),
	}

	cfg.Retention = RetentionConfig{
		RawHours:            getEnvAsInt("RAW_RETENTION_HOURS", 24),
		AggregateHours:      getEnvAsInt("AGGREGATE_RETENTION_HOURS", 8760),
		AggregationInterval: getEnvAsDuration("AGGREGATION_INTERVAL", time.Hour),
		RetentionInterval:   getEnvAsDuration("RETENTION_INTERVAL", 24*time.Hour),
	}

	cfg.Auth = AuthConfig{
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		SessionTTL:        getEnvAsDuration("SESSION_TTL", 24*time.Hour),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Retention.RawHours <= 0 {
		return errors.New("config: RAW_RETENTION_HOURS must be positive")
	}
	if c.Retention.AggregateHours <= 0 {
		return errors.New("config: AGGREGATE_RETENTION_HOURS must be positive")
	}
	if c.Retention.AggregationInterval <= 0 || c.Retention.RetentionInterval <= 0 {
		return errors.New("config: AGGREGATION_INTERVAL and RETENTION_INTERVAL must be positive")
	}
	// A slower cycle would let the purge pass hours that were never aggregated.
	if c.Retention.AggregationInterval >= time.Duration(c.Retention.RawHours)*time.Hour {
		return errors.New("config: AGGREGATION_INTERVAL must be shorter than RAW_RETENTION_HOURS")
	}
	if c.Collector.FlushDelay <= 0 {
		return errors.New("config: FLUSH_DELAY must be positive")
	}
	if c.Auth.AdminPasswordHash != "" && c.Auth.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set when ADMIN_PASSWORD_HASH is set")
	}
	return nil
}

// AuthEnabled reports whether the dashboard endpoints require a session.
func (c *Config) AuthEnabled() bool {
	return c.Auth.AdminPasswordHash != ""
}

// KafkaEnabled reports whether persisted events are mirrored to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func (c *PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// MigrateURL is the URL form of the DSN expected by golang-migrate.
func (c *PostgresConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("config: invalid TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
