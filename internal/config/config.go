package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Marketplace MarketplaceConfig
	ERP         ERPConfig
	Resolver    ResolverConfig
	Assignment  AssignmentConfig
	Sync        SyncConfig
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"fulfillsync"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// ServerConfig holds settings for the ops HTTP server.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	APIKeys         string        `envconfig:"API_KEYS" default:""`
}

// DatabaseConfig holds order store settings. Type selects the backend:
// mysql, postgres, or sqlite.
type DatabaseConfig struct {
	Type string `envconfig:"DB_TYPE" default:"sqlite"`
	Path string `envconfig:"DB_PATH" default:"./data/orders.db"`

	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"fulfillsync"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// CacheConfig holds resolver cache settings.
type CacheConfig struct {
	Type    string `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	MaxSize int    `envconfig:"CACHE_MAX_SIZE" default:"500"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// MarketplaceConfig holds order feed settings.
type MarketplaceConfig struct {
	BaseURL     string        `envconfig:"MARKETPLACE_BASE_URL" default:"https://api.mercadolibre.com"`
	AccessToken string        `envconfig:"MARKETPLACE_ACCESS_TOKEN" default:""`
	SellerID    string        `envconfig:"MARKETPLACE_SELLER_ID" default:""`
	Timeout     time.Duration `envconfig:"MARKETPLACE_TIMEOUT" default:"30s"`
}

// ERPConfig holds ERP stock and movement endpoint settings.
type ERPConfig struct {
	BaseURL  string `envconfig:"ERP_BASE_URL" default:""`
	APIKey   string `envconfig:"ERP_API_KEY" default:""`
	Tenant   string `envconfig:"ERP_TENANT" default:""`
	Database string `envconfig:"ERP_DATABASE" default:""`

	StockTimeout    time.Duration `envconfig:"ERP_STOCK_TIMEOUT" default:"120s"`
	StockRetries    int           `envconfig:"ERP_STOCK_RETRIES" default:"3"`
	StockRetryDelay time.Duration `envconfig:"ERP_STOCK_RETRY_DELAY" default:"2s"`

	// MovementDestination is the counterparty pool outbound movements
	// are booked against.
	MovementDestination string `envconfig:"ERP_MOVEMENT_DESTINATION" default:"VENTAS"`
}

// ResolverConfig holds identifier resolution settings.
type ResolverConfig struct {
	// OverridesPath points at a JSON file mapping raw codes to canonical
	// SKUs. A missing file means no overrides.
	OverridesPath     string `envconfig:"RESOLVER_OVERRIDES_PATH" default:"./data/sku_overrides.json"`
	PlaceholderSuffix string `envconfig:"RESOLVER_PLACEHOLDER_SUFFIX" default:"OUT"`
}

// AssignmentConfig holds deposit selection settings.
type AssignmentConfig struct {
	// DepositPriority is the comma-separated tie-break ordering. Earlier
	// entries win when two deposits report equal availability.
	DepositPriority string `envconfig:"DEPOSIT_PRIORITY" default:"CENTRAL,NORTE,SUR"`
}

// SyncConfig holds polling loop settings.
type SyncConfig struct {
	Interval    time.Duration `envconfig:"SYNC_INTERVAL" default:"120s"`
	MaxInterval time.Duration `envconfig:"SYNC_MAX_INTERVAL" default:"600s"`
	// Lookback pads the cursor window to absorb clock skew between us
	// and the marketplace.
	Lookback time.Duration `envconfig:"SYNC_LOOKBACK" default:"5m"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIKeyList splits the configured API keys.
func (s *ServerConfig) APIKeyList() []string {
	if s.APIKeys == "" {
		return nil
	}
	keys := strings.Split(s.APIKeys, ",")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}
	return keys
}

// MySQLDSN returns the MySQL data source name.
func (d *DatabaseConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// PostgresDSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DepositList splits the configured deposit priority ordering.
func (a *AssignmentConfig) DepositList() []string {
	parts := strings.Split(a.DepositPriority, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
