package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Scheduler backends for deferred enrichment.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (CARGO_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage     string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CARGO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Carrier     CarrierConfig
	Enrich      EnrichConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Auth        AuthConfig
	Memory      MemoryConfig
	RateLimit   RateLimitConfig
	CreateLimit RateLimitConfig `usage:"Per-customer shipment creation limit"`
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CarrierConfig points the service at the Shiprocket Cargo API.
type CarrierConfig struct {
	BaseURL      string        `default:"https://api-cargo.shiprocket.in" usage:"Carrier API root"`
	ChargesURL   string        `usage:"Override for the rate calculator endpoint"`
	CancelURL    string        `usage:"Cancellation endpoint, defaults to the main Shiprocket API host"`
	RefreshToken string        `usage:"Long-lived carrier refresh token"`
	ClientID     string        `usage:"Merchant client id on the carrier"`
	Timeout      time.Duration `default:"30s" usage:"Carrier request timeout"`
	TokenTTL     time.Duration `default:"1h" usage:"How long an access token is reused"`
}

// EnrichConfig controls deferred waybill enrichment.
type EnrichConfig struct {
	Delay        time.Duration `default:"30s" usage:"Delay between association and waybill fetch"`
	Attempts     int           `default:"1" usage:"Waybill fetch attempts per shipment"`
	Backend      string        `default:"memory" usage:"Deferred job backend: memory or redis"`
	PollInterval time.Duration `default:"1s" usage:"Redis scheduler poll interval"`
	Key          string        `default:"cargo:enrich" usage:"Redis sorted set holding pending jobs"`
}

// RedisConfig is used when Enrich.Backend is redis.
type RedisConfig struct {
	Addr     string `default:"localhost:6379"`
	DB       int    `default:"0"`
	Password string
}

// KafkaConfig enables domain event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers; empty disables events"`
	Topic   string   `default:"cargo.shipments"`
}

// AuthConfig controls API key hashing.
type AuthConfig struct {
	Pepper string `usage:"HMAC pepper for API key hashing (CARGO_AUTH_PEPPER)"`
}

// MemoryConfig seeds the in-memory backend.
type MemoryConfig struct {
	Keys    []string `usage:"Static API keys as key:customer or key:customer:admin"`
	Balance string   `default:"0" usage:"Opening wallet balance for each seeded customer"`
}

// RateLimitConfig controls a sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// SeedKey is a static API key for the memory backend.
type SeedKey struct {
	Key        string
	CustomerID string
	Admin      bool
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CARGO",
		Files:     []string{"config.yaml", "/etc/cargo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints aconfig cannot express.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set CARGO_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
		if _, err := c.SeedKeys(); err != nil {
			return err
		}
		if _, err := c.SeedBalance(); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}

	switch c.Enrich.Backend {
	case BackendMemory, BackendRedis:
	default:
		return errors.Errorf("unknown enrichment backend %q", c.Enrich.Backend)
	}
	if c.Enrich.Attempts < 1 {
		return errors.Errorf("enrichment attempts must be positive, got %d", c.Enrich.Attempts)
	}
	return nil
}

// SeedKeys parses Memory.Keys.
func (c *Config) SeedKeys() ([]SeedKey, error) {
	keys := make([]SeedKey, 0, len(c.Memory.Keys))
	for _, raw := range c.Memory.Keys {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, errors.Errorf("malformed seed key %q", raw)
		}
		k := SeedKey{Key: parts[0], CustomerID: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "admin" {
				return nil, errors.Errorf("seed key %q: unknown scope %q", parts[0], parts[2])
			}
			k.Admin = true
		}
		if k.CustomerID == "" && !k.Admin {
			return nil, errors.Errorf("seed key %q has neither customer nor admin scope", parts[0])
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// SeedBalance parses Memory.Balance.
func (c *Config) SeedBalance() (decimal.Decimal, error) {
	if c.Memory.Balance == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(c.Memory.Balance)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "seed balance %q", c.Memory.Balance)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("seed balance %s is negative", d)
	}
	return d, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CARGO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
