package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Funding       FundingConfig       `mapstructure:"funding"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// LedgerConfig tunes the per-session wallet engines.
type LedgerConfig struct {
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
	Timezone       string        `mapstructure:"timezone"` // IANA name used to present transaction timestamps
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	ChangeChannel  string        `mapstructure:"change_channel"`
}

// Location resolves Timezone, falling back to UTC when unset.
func (l LedgerConfig) Location() (*time.Location, error) {
	if l.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading ledger timezone %q: %w", l.Timezone, err)
	}
	return loc, nil
}

// PaymentConfig holds the card processor credentials.
type PaymentConfig struct {
	Environment       string        `mapstructure:"environment"` // sandbox, production
	AccessToken       string        `mapstructure:"access_token"`
	ApplicationID     string        `mapstructure:"application_id"`
	LocationID        string        `mapstructure:"location_id"`
	Currency          string        `mapstructure:"currency"`
	ClientTokenSecret string        `mapstructure:"client_token_secret"`
	ClientTokenTTL    time.Duration `mapstructure:"client_token_ttl"`
	CaptureTimeout    time.Duration `mapstructure:"capture_timeout"`
}

// Configured reports whether enough credentials are present to talk to the processor.
func (p PaymentConfig) Configured() bool {
	return p.AccessToken != "" && p.ApplicationID != "" && p.LocationID != ""
}

type FundingConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	NonceTTL       time.Duration `mapstructure:"nonce_ttl"`
}

type NotificationsConfig struct {
	Limit int64         `mapstructure:"limit"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// CatalogItemConfig is one purchasable item. Price is a decimal string.
type CatalogItemConfig struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Price       string `mapstructure:"price"`
	Description string `mapstructure:"description"`
	Image       string `mapstructure:"image"`
}

type CatalogConfig struct {
	Items []CatalogItemConfig `mapstructure:"items"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// DefaultCatalog is the item set shipped with the game.
func DefaultCatalog() []CatalogItemConfig {
	return []CatalogItemConfig{
		{ID: "1", Name: "Small Gold Package", Price: "4.99", Description: "1000 gold coins", Image: "/coin.png"},
		{ID: "2", Name: "Medium Gold Package", Price: "9.99", Description: "2500 gold coins", Image: "/gold-pot.png"},
		{ID: "3", Name: "Large Gold Package", Price: "19.99", Description: "6000 gold coins", Image: "/treasure-chest.png"},
		{ID: "4", Name: "Special Character: Warrior", Price: "14.99", Description: "Unlock the Warrior character", Image: "/viking.png"},
		{ID: "5", Name: "Special Character: Mage", Price: "14.99", Description: "Unlock the Mage character", Image: "/witch.png"},
		{ID: "6", Name: "Power-up: Double XP", Price: "7.99", Description: "Double XP for 24 hours", Image: "/level.png"},
		{ID: "7", Name: "Power-up: Instant Level", Price: "9.99", Description: "Instantly gain one level", Image: "/level-up.png"},
	}
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: RLW_ (Realm Wallet).
// Nested keys use underscore: RLW_DATABASE_HOST, RLW_PAYMENT_ACCESS_TOKEN, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "realm_wallet")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "realm-wallet")
	v.SetDefault("ledger.store_timeout", "5s")
	v.SetDefault("ledger.timezone", "UTC")
	v.SetDefault("ledger.session_idle_ttl", "30m")
	v.SetDefault("ledger.sweep_interval", "1m")
	v.SetDefault("ledger.change_channel", "wallet:changes")
	v.SetDefault("payment.environment", "sandbox")
	v.SetDefault("payment.access_token", "")
	v.SetDefault("payment.application_id", "")
	v.SetDefault("payment.location_id", "")
	v.SetDefault("payment.currency", "USD")
	v.SetDefault("payment.client_token_secret", "")
	v.SetDefault("payment.client_token_ttl", "15m")
	v.SetDefault("payment.capture_timeout", "20s")
	v.SetDefault("funding.idempotency_ttl", "24h")
	v.SetDefault("funding.nonce_ttl", "24h")
	v.SetDefault("notifications.limit", 50)
	v.SetDefault("notifications.ttl", "168h")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// RLW_PAYMENT_ACCESS_TOKEN -> payment.access_token
	v.SetEnvPrefix("RLW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Catalog.Items) == 0 {
		cfg.Catalog.Items = DefaultCatalog()
	}

	return &cfg, nil
}
