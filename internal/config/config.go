package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	PublicURL       string        `yaml:"public_url" env:"HTTP_PUBLIC_URL" env-default:"http://localhost:8080"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env-default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	// Lang selects the locale of the payment result pages.
	Lang            string        `yaml:"lang" env:"HTTP_LANG" env-default:"en"`
}

type LogConfig struct {
	// trace|debug|info|warn|error
	Level    string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	// json|console
	Format   string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	// enable sampling in prod
	Sampling bool   `yaml:"sampling" env:"LOG_SAMPLING"`
}

type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
	Username  string        `yaml:"username" env:"ADMIN_USERNAME" env-default:"admin"`
	Password  string        `yaml:"password" env:"ADMIN_PASSWORD"`
	TokenTTL  time.Duration `yaml:"token_ttl" env-default:"12h"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	MaxConns        int32         `yaml:"max_conns" env-default:"10"`
	ConnectAttempts uint          `yaml:"connect_attempts" env-default:"5"`
	ConnectDelay    time.Duration `yaml:"connect_delay" env-default:"500ms"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env-default:"1h"`
}

// KafkaConfig enables the sarama command dispatcher when Brokers is set.
// Without brokers delivery commands are only logged.
type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Version     string        `yaml:"version" env-default:"2.8.0"`
	Topic       string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"shop.delivery-commands"`
	ExpireTopic string        `yaml:"expire_topic" env:"KAFKA_EXPIRE_TOPIC" env-default:"shop.expire-commands"`
	SendTimeout time.Duration `yaml:"send_timeout" env-default:"5s"`
}

type ZarinPalConfig struct {
	MerchantID  string `yaml:"merchant_id" env:"ZARINPAL_MERCHANT_ID"`
	CallbackURL string `yaml:"callback_url" env:"ZARINPAL_CALLBACK_URL"`
	Sandbox     bool   `yaml:"sandbox" env:"ZARINPAL_SANDBOX"`
}

type StripeConfig struct {
	SecretKey  string `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	SuccessURL string `yaml:"success_url" env:"STRIPE_SUCCESS_URL"`
	CancelURL  string `yaml:"cancel_url" env:"STRIPE_CANCEL_URL"`
}

type MidtransConfig struct {
	ServerKey  string `yaml:"server_key" env:"MIDTRANS_SERVER_KEY"`
	Production bool   `yaml:"production" env:"MIDTRANS_PRODUCTION"`
	FinishURL  string `yaml:"finish_url" env:"MIDTRANS_FINISH_URL"`
}

type PaymentConfig struct {
	ZarinPal  ZarinPalConfig `yaml:"zarinpal"`
	Stripe    StripeConfig   `yaml:"stripe"`
	Midtrans  MidtransConfig `yaml:"midtrans"`
	SiteMoney bool           `yaml:"site_money" env:"PAYMENT_SITE_MONEY"`

	// CheckoutLimit is checkouts per user per CheckoutWindow; 0 disables the limiter.
	CheckoutLimit  int           `yaml:"checkout_limit" env-default:"10"`
	CheckoutWindow time.Duration `yaml:"checkout_window" env-default:"1m"`
	// PendingTimeout marks stale pending payments failed in the reconciler.
	PendingTimeout time.Duration `yaml:"pending_timeout" env-default:"2h"`
}

type SchedulerConfig struct {
	// SweepRule is an RFC 5545 RRULE, e.g. "FREQ=MINUTELY;INTERVAL=5".
	SweepRule      string        `yaml:"sweep_rule" env:"SWEEP_RULE" env-default:"FREQ=MINUTELY;INTERVAL=5"`
	SweepBatch     int           `yaml:"sweep_batch" env-default:"100"`
	LockTTL        time.Duration `yaml:"lock_ttl" env-default:"2m"`
	ReconcileEvery time.Duration `yaml:"reconcile_every" env-default:"10m"`
	// ResumeGrace is how long a paid payment is left to finish on its own
	// before the reconciler completes its missing lines.
	ResumeGrace    time.Duration `yaml:"resume_grace" env-default:"5m"`
}

// SecurityConfig.EncryptionKey enables encryption of stored gateway
// credentials. It must be 16, 24 or 32 bytes.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"SECURITY_ENCRYPTION_KEY"`
}

type CurrencyConfig struct {
	Default       string `yaml:"default" env:"CURRENCY_DEFAULT" env-default:"USD"`
	SiteMoneyName string `yaml:"site_money_name" env-default:"credits"`
	Locale        string `yaml:"locale" env-default:"en"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Payment   PaymentConfig   `yaml:"payment"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Currency  CurrencyConfig  `yaml:"currency"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

// Load reads an optional .env, then the YAML file with env overrides.
// A missing YAML file falls back to environment only.
func Load(configPath string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := os.Stat(configPath); err == nil {
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
	}

	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	cfg.Currency.Default = strings.ToUpper(cfg.Currency.Default)
	if cfg.Scheduler.SweepBatch <= 0 {
		cfg.Scheduler.SweepBatch = 100
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	if !dev && cfg.Admin.JWTSecret == "" {
		return nil, errors.New("admin.jwt_secret is required outside dev mode")
	}
	if dev && cfg.Admin.JWTSecret == "" {
		cfg.Admin.JWTSecret = "dev-secret"
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
