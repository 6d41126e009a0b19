package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig              `mapstructure:"server"`
	Database    DatabaseConfig            `mapstructure:"database"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Storage     StorageConfig             `mapstructure:"storage"`
	JWT         JWTConfig                 `mapstructure:"jwt"`
	Internal    InternalConfig            `mapstructure:"internal"`
	Log         LogConfig                 `mapstructure:"log"`
	Ledger      LedgerConfig              `mapstructure:"ledger"`
	Idempotency IdempotencyConfig         `mapstructure:"idempotency"`
	Webhook     WebhookConfig             `mapstructure:"webhook"`
	Poller      PollerConfig              `mapstructure:"poller"`
	NATS        NATSConfig                `mapstructure:"nats"`
	Metrics     MetricsConfig             `mapstructure:"metrics"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
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
	PoolSize int    `mapstructure:"pool_size"` // 0 = go-redis default
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig selects the ledger storage backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// InternalConfig guards the service-to-service API (fund locks, audit log).
// APIKeyHash is the encoded argon2id hash ($argon2id$v=19$...) produced by HashService.
type InternalConfig struct {
	APIKeyHash string `mapstructure:"api_key_hash"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type LedgerConfig struct {
	DefaultCurrency string        `mapstructure:"default_currency"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	PayoutLockTTL   time.Duration `mapstructure:"payout_lock_ttl"`
}

// IdempotencyConfig holds response-cache TTLs per operation scope.
type IdempotencyConfig struct {
	TopupTTL        time.Duration `mapstructure:"topup_ttl"`
	CollectionTTL   time.Duration `mapstructure:"collection_ttl"`
	TransferTTL     time.Duration `mapstructure:"transfer_ttl"`
	DisbursementTTL time.Duration `mapstructure:"disbursement_ttl"`
	ClaimTTL        time.Duration `mapstructure:"claim_ttl"`
}

type WebhookConfig struct {
	AuditLogSize int64         `mapstructure:"audit_log_size"`
	DedupTTL     time.Duration `mapstructure:"dedup_ttl"`
}

type PollerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	MinAge      time.Duration `mapstructure:"min_age"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
}

// NATSConfig configures the domain event publisher. An empty URL disables NATS
// and events are only logged.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Stream        string        `mapstructure:"stream"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// ProviderConfig describes one payment provider: its credentials, the markets it
// serves and the per-request amount bounds (minor units).
type ProviderConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url"`
	SecretKey        string        `mapstructure:"secret_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	SubscriptionKey  string        `mapstructure:"subscription_key"`
	TargetEnv        string        `mapstructure:"target_env"`
	ShortCode        string        `mapstructure:"short_code"`
	CallbackURL      string        `mapstructure:"callback_url"`
	Countries        []string      `mapstructure:"countries"`
	Currencies       []string      `mapstructure:"currencies"`
	PhonePattern     string        `mapstructure:"phone_pattern"`
	MinAmount        int64         `mapstructure:"min_amount"`
	MaxAmount        int64         `mapstructure:"max_amount"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SignatureMaxSkew time.Duration `mapstructure:"signature_max_skew"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WLT_.
// Nested keys use underscore: WLT_DATABASE_HOST, WLT_PROVIDERS_PAYSTACK_SECRET_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "wallet-ledger")
	v.SetDefault("internal.api_key_hash", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("ledger.default_currency", "NGN")
	v.SetDefault("ledger.lock_ttl", "1h")
	v.SetDefault("ledger.payout_lock_ttl", "24h")
	v.SetDefault("idempotency.topup_ttl", "24h")
	v.SetDefault("idempotency.collection_ttl", "1h")
	v.SetDefault("idempotency.transfer_ttl", "24h")
	v.SetDefault("idempotency.disbursement_ttl", "24h")
	v.SetDefault("idempotency.claim_ttl", "30s")
	v.SetDefault("webhook.audit_log_size", 500)
	v.SetDefault("webhook.dedup_ttl", "72h")
	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.interval", "30s")
	v.SetDefault("poller.min_age", "20s")
	v.SetDefault("poller.batch_size", 100)
	v.SetDefault("poller.concurrency", 4)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "wallet-ledger")
	v.SetDefault("nats.subject_prefix", "payments")
	v.SetDefault("nats.stream", "PAYMENTS")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "wallet_ledger")
	setProviderDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// WLT_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WLT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// env vars alone are enough to run
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ClaimTTLMargin is the slack an idempotency claim must keep over the slowest
// enabled provider call, covering the ledger writes around it.
const ClaimTTLMargin = 10 * time.Second

func (c *Config) validate() error {
	var (
		slowest     time.Duration
		slowestName string
	)
	for name, p := range c.Providers {
		if p.Enabled && p.Timeout > slowest {
			slowest, slowestName = p.Timeout, name
		}
	}
	if slowest > 0 && c.Idempotency.ClaimTTL < slowest+ClaimTTLMargin {
		return fmt.Errorf("idempotency.claim_ttl %s must be at least %s (providers.%s.timeout %s plus %s)",
			c.Idempotency.ClaimTTL, slowest+ClaimTTLMargin, slowestName, slowest, ClaimTTLMargin)
	}
	return nil
}

// setProviderDefaults registers market and limit defaults for every supported
// provider. Credentials have empty defaults so that env overrides bind.
func setProviderDefaults(v *viper.Viper) {
	defaults := map[string]struct {
		enabled    bool
		baseURL    string
		countries  []string
		currencies []string
		phone      string
		min, max   int64
	}{
		"paystack":    {true, "https://api.paystack.co", []string{"NG", "GH"}, []string{"NGN", "GHS"}, `^\+(234|233)\d{9,10}$`, 100, 10_000_000_00},
		"flutterwave": {true, "https://api.flutterwave.com", []string{"NG", "GH", "KE", "UG"}, []string{"NGN", "GHS", "KES", "UGX"}, `^\+\d{11,13}$`, 100, 10_000_000_00},
		"stripe":      {false, "https://api.stripe.com", []string{"US", "GB", "NG"}, []string{"USD", "GBP", "NGN"}, "", 50, 1_000_000_00},
		"mtn_momo":    {true, "https://sandbox.momodeveloper.mtn.com", []string{"UG", "GH", "CM"}, []string{"UGX", "GHS", "XAF", "EUR"}, `^\+(256|233|237)\d{9}$`, 500, 5_000_000_00},
		"airtel":      {true, "https://openapiuat.airtel.africa", []string{"UG", "KE", "ZM"}, []string{"UGX", "KES", "ZMW"}, `^\+(256|254|260)\d{9}$`, 500, 5_000_000_00},
		"mpesa":       {true, "https://sandbox.safaricom.co.ke", []string{"KE"}, []string{"KES"}, `^\+254\d{9}$`, 100, 150_000_00},
	}

	for name, d := range defaults {
		p := "providers." + name + "."
		v.SetDefault(p+"enabled", d.enabled)
		v.SetDefault(p+"base_url", d.baseURL)
		v.SetDefault(p+"secret_key", "")
		v.SetDefault(p+"webhook_secret", "")
		v.SetDefault(p+"subscription_key", "")
		v.SetDefault(p+"target_env", "sandbox")
		v.SetDefault(p+"short_code", "")
		v.SetDefault(p+"callback_url", "")
		v.SetDefault(p+"countries", d.countries)
		v.SetDefault(p+"currencies", d.currencies)
		v.SetDefault(p+"phone_pattern", d.phone)
		v.SetDefault(p+"min_amount", d.min)
		v.SetDefault(p+"max_amount", d.max)
		v.SetDefault(p+"timeout", "15s")
		v.SetDefault(p+"signature_max_skew", "5m")
	}
}
