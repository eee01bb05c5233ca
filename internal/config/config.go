package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Realtime       ServerConfig         `mapstructure:"realtime"`
	Redis          RedisConfig          `mapstructure:"redis"`
	MySQL          MySQLConfig          `mapstructure:"mysql"`
	Leader         LeaderConfig         `mapstructure:"leader"`
	Instance       InstanceConfig       `mapstructure:"instance"`
	Log            LogConfig            `mapstructure:"log"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Policy         PolicyConfig         `mapstructure:"policy"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Host           string   `mapstructure:"host"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Encoding is "json" or "console".
	Encoding string `mapstructure:"encoding"`
}

type PaymentConfig struct {
	// Provider is "stripe" or "sandbox".
	Provider        string        `mapstructure:"provider"`
	SecretKey       string        `mapstructure:"secret_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	Currency        string        `mapstructure:"currency"`
	PlatformFeeRate string        `mapstructure:"platform_fee_rate"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	// ConfirmPaymentMethod confirms every hold with one payment method,
	// e.g. pm_card_visa in Stripe test mode.
	ConfirmPaymentMethod string `mapstructure:"confirm_payment_method"`
}

func (p PaymentConfig) FeeRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(p.PlatformFeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payment.platform_fee_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("payment.platform_fee_rate must be in [0, 1), got %s", rate)
	}
	return rate, nil
}

type PolicyConfig struct {
	CancelSupersededHolds   bool `mapstructure:"cancel_superseded_holds"`
	PromoteNextBidOnFailure bool `mapstructure:"promote_next_bid_on_failure"`
}

type SchedulerConfig struct {
	SweepSpec     string        `mapstructure:"sweep_spec"`
	ReconcileSpec string        `mapstructure:"reconcile_spec"`
	BatchSize     int           `mapstructure:"batch_size"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type ReconciliationConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("realtime.port", 8081)
	v.SetDefault("realtime.host", "0.0.0.0")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("realtime.allowed_origins", []string{"*"})
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "timebid:timebid@tcp(localhost:3306)/timebid?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", "timebid-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("payment.provider", "sandbox")
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.platform_fee_rate", "0.10")
	v.SetDefault("payment.call_timeout", 10*time.Second)
	v.SetDefault("policy.cancel_superseded_holds", true)
	v.SetDefault("policy.promote_next_bid_on_failure", false)
	v.SetDefault("scheduler.sweep_spec", "@every 15s")
	v.SetDefault("scheduler.reconcile_spec", "@every 1m")
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.lock_ttl", 30*time.Second)
	v.SetDefault("reconciliation.max_attempts", 8)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit mappings for the names used in deployment manifests.
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("realtime.port", "REALTIME_PORT")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("mysql.dsn", "MYSQL_DSN")
	_ = v.BindEnv("leader.ttl", "LEADER_TTL")
	_ = v.BindEnv("instance.id", "INSTANCE_ID")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.encoding", "LOG_ENCODING")
	_ = v.BindEnv("payment.provider", "PAYMENT_PROVIDER")
	_ = v.BindEnv("payment.secret_key", "STRIPE_SECRET_KEY")
	_ = v.BindEnv("payment.webhook_secret", "STRIPE_WEBHOOK_SECRET")
	_ = v.BindEnv("payment.currency", "PAYMENT_CURRENCY")
	_ = v.BindEnv("payment.platform_fee_rate", "PLATFORM_FEE_RATE")
	_ = v.BindEnv("payment.confirm_payment_method", "STRIPE_CONFIRM_PAYMENT_METHOD")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/timebid/")

	bindEnv(v)

	// Config file is optional; defaults and env vars cover everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Payment.Provider {
	case "sandbox":
	case "stripe":
		if c.Payment.SecretKey == "" || c.Payment.WebhookSecret == "" {
			return fmt.Errorf("payment provider stripe requires secret_key and webhook_secret")
		}
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}
	if _, err := c.Payment.FeeRate(); err != nil {
		return err
	}
	if c.Policy.PromoteNextBidOnFailure && c.Policy.CancelSupersededHolds {
		return fmt.Errorf("policy.promote_next_bid_on_failure needs superseded holds kept open; set policy.cancel_superseded_holds=false")
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s, Realtime: %s, Redis: %s, Payment: %s/%s, Instance: %s",
		c.Server.Address(),
		c.Realtime.Address(),
		c.Redis.Address,
		c.Payment.Provider,
		c.Payment.Currency,
		c.Instance.ID,
	)
}
