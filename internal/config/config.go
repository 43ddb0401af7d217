package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"time"

	pkgconfig "github.com/thecalistalife/review-service/pkg/config"
)

// Order ledger backends used to verify purchases.
const (
	LedgerProjection = "projection"
	LedgerHTTP       = "http"
	LedgerSupabase   = "supabase"
)

const insecureJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the review service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort              int      `env:"REVIEW_HTTP_PORT" envDefault:"8012"`
	RequestTimeoutSeconds int      `env:"REVIEW_REQUEST_TIMEOUT_SECONDS" envDefault:"10"`
	CORSAllowedOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	SummaryMaxAgeSeconds  int      `env:"REVIEW_SUMMARY_MAX_AGE_SECONDS" envDefault:"60"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"REVIEW_DB_NAME" envDefault:"review_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka. Disabling it turns off event publishing and the order projection
	// consumers.
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	// IdempotencyTTLHours is how long consumed order event IDs are remembered.
	IdempotencyTTLHours int `env:"KAFKA_IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Proxies allowed to set X-Forwarded-For, X-Real-IP and True-Client-IP.
	// Requests from other addresses are identified by their socket address.
	TrustedProxyCIDRs []string `env:"TRUSTED_PROXY_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// JWT. Unset disables bearer tokens and trusts gateway identity headers
	// only.
	JWTSecret string `env:"JWT_SECRET"`
	// AuthJWKSURL points at the identity provider's JWKS, for example
	// https://<project>.supabase.co/auth/v1/.well-known/jwks.json. It takes
	// precedence over JWT_SECRET.
	AuthJWKSURL string `env:"AUTH_JWKS_URL"`

	// Purchase verification
	OrderLedgerBackend string  `env:"ORDER_LEDGER_BACKEND" envDefault:"projection"`
	OrderServiceURL    string  `env:"ORDER_SERVICE_URL" envDefault:"http://localhost:8004"`
	OrderMaxPages      int     `env:"ORDER_SERVICE_MAX_PAGES" envDefault:"20"`
	OrderServiceRPS    float64 `env:"ORDER_SERVICE_RPS" envDefault:"50"`
	SupabaseURL        string  `env:"SUPABASE_URL"`
	SupabaseKey        string  `env:"SUPABASE_KEY"`
	// SupabaseMaxInFlight caps concurrent PostgREST lookups, abandoned ones
	// included.
	SupabaseMaxInFlight int `env:"SUPABASE_MAX_IN_FLIGHT" envDefault:"32"`
	VerifyTimeoutMs     int `env:"VERIFY_TIMEOUT_MS" envDefault:"2000"`

	// Circuit breaker around the order service
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Reviews
	StoreTimeoutMs         int  `env:"STORE_TIMEOUT_MS" envDefault:"3000"`
	SummaryCacheTTLSeconds int  `env:"SUMMARY_CACHE_TTL_SECONDS" envDefault:"300"`
	VoteRateLimit          int  `env:"VOTE_RATE_LIMIT" envDefault:"30"`
	VoteRateWindowSeconds  int  `env:"VOTE_RATE_WINDOW_SECONDS" envDefault:"60"`
	AutoApprove            bool `env:"REVIEW_AUTO_APPROVE" envDefault:"true"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load review config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}

	switch c.OrderLedgerBackend {
	case LedgerProjection:
		if !c.KafkaEnabled {
			return fmt.Errorf("KAFKA_ENABLED must be true for the %q ledger backend", LedgerProjection)
		}
	case LedgerHTTP:
		if u, err := url.Parse(c.OrderServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ORDER_SERVICE_URL must be an absolute URL, got %q", c.OrderServiceURL)
		}
		if c.OrderMaxPages < 1 {
			return fmt.Errorf("ORDER_SERVICE_MAX_PAGES must be positive, got %d", c.OrderMaxPages)
		}
		if c.OrderServiceRPS <= 0 {
			return fmt.Errorf("ORDER_SERVICE_RPS must be positive, got %f", c.OrderServiceRPS)
		}
	case LedgerSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the %q ledger backend", LedgerSupabase)
		}
		if c.SupabaseMaxInFlight < 1 {
			return fmt.Errorf("SUPABASE_MAX_IN_FLIGHT must be positive, got %d", c.SupabaseMaxInFlight)
		}
	default:
		return fmt.Errorf("ORDER_LEDGER_BACKEND must be one of %s, %s, %s, got %q",
			LedgerProjection, LedgerHTTP, LedgerSupabase, c.OrderLedgerBackend)
	}

	for name, v := range map[string]int{
		"VERIFY_TIMEOUT_MS":              c.VerifyTimeoutMs,
		"STORE_TIMEOUT_MS":               c.StoreTimeoutMs,
		"SUMMARY_CACHE_TTL_SECONDS":      c.SummaryCacheTTLSeconds,
		"VOTE_RATE_LIMIT":                c.VoteRateLimit,
		"VOTE_RATE_WINDOW_SECONDS":       c.VoteRateWindowSeconds,
		"REVIEW_REQUEST_TIMEOUT_SECONDS": c.RequestTimeoutSeconds,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %f", c.CBFailureRatio)
	}

	// In non-development environments a configured JWT secret must be strong.
	if c.Environment != "development" && c.JWTSecret != "" {
		if c.JWTSecret == insecureJWTSecret {
			return fmt.Errorf("JWT_SECRET must not use the placeholder value in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}
	if c.AuthJWKSURL != "" {
		if u, err := url.Parse(c.AuthJWKSURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("AUTH_JWKS_URL must be an absolute URL, got %q", c.AuthJWKSURL)
		}
	}
	for _, cidr := range c.TrustedProxyCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXY_CIDRS has an invalid CIDR %q: %w", cidr, err)
		}
	}
	if c.Environment != "development" && slices.Contains(c.CORSAllowedOrigins, "*") {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS must list explicit origins in %q mode", c.Environment)
	}
	return nil
}

func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutMs) * time.Millisecond
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMs) * time.Millisecond
}

func (c *Config) SummaryCacheTTL() time.Duration {
	return time.Duration(c.SummaryCacheTTLSeconds) * time.Second
}

func (c *Config) VoteRateWindow() time.Duration {
	return time.Duration(c.VoteRateWindowSeconds) * time.Second
}
