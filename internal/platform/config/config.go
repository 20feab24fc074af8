package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/srgjo27/travel_booking/internal/platform/database"
)

type Config struct {
	HTTPAddr      string
	StorageDriver string
	DB            database.Config
	DBMigrate     bool

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RabbitMQURL    string
	EventsExchange string

	OTLPEndpoint string
	ServiceName  string

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	AdmissionMaxAttempts   uint
	AdmissionCommitTimeout time.Duration
	PendingTTL             time.Duration
	PendingSweepInterval   time.Duration
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// Load reads the process environment, after loading any of the given dotenv
// files that exist. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			log.Printf("File %s not found, using OS environment variables.", f)
		}
	}

	var errs []string
	p := parser{errs: &errs}

	cfg := Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		StorageDriver: strings.ToLower(getenv("STORAGE_DRIVER", "postgres")),
		DB: database.Config{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", ""),
			DBName:   getenv("DB_NAME", "travel_booking"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		DBMigrate: p.flag("DB_MIGRATE", true),

		RedisHost:     getenv("REDIS_HOST", "localhost"),
		RedisPort:     getenv("REDIS_PORT", "6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       p.integer("REDIS_DB", 0),
		CacheTTL:      p.duration("CACHE_TTL", 30*time.Second),

		RabbitMQURL:    getenv("RABBITMQ_URL", ""),
		EventsExchange: getenv("EVENTS_EXCHANGE", "travel.bookings"),

		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getenv("OTEL_SERVICE_NAME", "travel-booking"),

		JWTSecret:      getenv("JWT_SECRET", ""),
		RateLimitRPS:   p.number("RATE_LIMIT_RPS", 50),
		RateLimitBurst: p.integer("RATE_LIMIT_BURST", 100),

		AdmissionMaxAttempts:   uint(p.integer("ADMISSION_MAX_ATTEMPTS", 8)),
		AdmissionCommitTimeout: p.duration("ADMISSION_COMMIT_TIMEOUT", 5*time.Second),
		PendingTTL:             p.duration("PENDING_TTL", 0),
		PendingSweepInterval:   p.duration("PENDING_SWEEP_INTERVAL", time.Minute),
	}

	switch cfg.StorageDriver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_DRIVER: unknown driver %q", cfg.StorageDriver))
	}
	if cfg.AdmissionMaxAttempts == 0 {
		errs = append(errs, "ADMISSION_MAX_ATTEMPTS: must be at least 1")
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs *[]string
}

func (p parser) fail(key, raw string, err error) {
	*p.errs = append(*p.errs, fmt.Sprintf("%s=%q: %v", key, raw, err))
}

func (p parser) integer(key string, def int) int {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		p.fail(key, raw, fmt.Errorf("expected a non-negative integer"))
		return def
	}
	return n
}

func (p parser) number(key string, def float64) float64 {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		p.fail(key, raw, fmt.Errorf("expected a non-negative number"))
		return def
	}
	return f
}

func (p parser) flag(key string, def bool) bool {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return b
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		p.fail(key, raw, fmt.Errorf("expected a non-negative duration such as 30s"))
		return def
	}
	return d
}
