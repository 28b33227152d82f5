package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	Gateway   GatewayConfig
	Stripe    StripeConfig
	Quota     QuotaConfig
	LogLevel  string
}

type ServerConfig struct {
	Address string
	BaseURL string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	// ClaimTTL bounds how long a claim blocks reclaiming. A crash between
	// claim and dispatch leaves the session reclaimable after this window.
	ClaimTTL time.Duration
}

type DispatchConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	// RedispatchOnTopUp controls whether a quota-denied overdue session is
	// retried automatically once credits are replenished. Off by default:
	// denial requires an explicit manual re-trigger.
	RedispatchOnTopUp bool
}

type GatewayConfig struct {
	APIURL            string
	AccountSID        string
	AuthToken         string
	FromNumber        string
	StatusCallbackURL string
}

type StripeConfig struct {
	WebhookSecret string
}

type QuotaConfig struct {
	DefaultFreeAlerts  int
	DefaultFreeTestSms int
	SmsDailyLimit      int
	SOSDailyLimit      int
}

func LoadAll() (*Config, error) {
	var errs []error

	collect := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	require := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
			BaseURL: getEnv("BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: require("POSTGRES_URL"),
		},
		Scheduler: SchedulerConfig{
			Interval:  time.Duration(collect("SCHED_INTERVAL_SECONDS", 30)) * time.Second,
			BatchSize: collect("SCHED_BATCH_SIZE", 50),
			ClaimTTL:  time.Duration(collect("SCHED_CLAIM_TTL_SECONDS", 300)) * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:       collect("DISPATCH_MAX_ATTEMPTS", 3),
			InitialBackoff:    time.Duration(collect("DISPATCH_INITIAL_BACKOFF_MS", 2000)) * time.Millisecond,
			MaxBackoff:        time.Duration(collect("DISPATCH_MAX_BACKOFF_MS", 30000)) * time.Millisecond,
			AttemptTimeout:    time.Duration(collect("DISPATCH_ATTEMPT_TIMEOUT_SECONDS", 10)) * time.Second,
			RedispatchOnTopUp: getEnv("DISPATCH_REDISPATCH_ON_TOPUP", "false") == "true",
		},
		Gateway: GatewayConfig{
			APIURL:            require("SMS_API_URL"),
			AccountSID:        require("SMS_ACCOUNT_SID"),
			AuthToken:         require("SMS_AUTH_TOKEN"),
			FromNumber:        require("SMS_FROM_NUMBER"),
			StatusCallbackURL: getEnv("SMS_STATUS_CALLBACK_URL", ""),
		},
		Stripe: StripeConfig{
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Quota: QuotaConfig{
			DefaultFreeAlerts:  collect("QUOTA_FREE_ALERTS", 1),
			DefaultFreeTestSms: collect("QUOTA_FREE_TEST_SMS", 1),
			SmsDailyLimit:      collect("QUOTA_SMS_DAILY_LIMIT", 10),
			SOSDailyLimit:      collect("QUOTA_SOS_DAILY_LIMIT", 3),
		},
		Redis:    loadRedisConfig(&errs),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig(errs *[]error) RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		*errs = append(*errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 3600)
	if err != nil {
		*errs = append(*errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.ClaimTTL <= 0 {
		errs = append(errs, errors.New("SCHED_CLAIM_TTL_SECONDS must be > 0"))
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Dispatch.InitialBackoff <= 0 {
		errs = append(errs, errors.New("DISPATCH_INITIAL_BACKOFF_MS must be > 0"))
	}
	if cfg.Dispatch.MaxBackoff < cfg.Dispatch.InitialBackoff {
		errs = append(errs, errors.New("DISPATCH_MAX_BACKOFF_MS must be >= DISPATCH_INITIAL_BACKOFF_MS"))
	}
	if cfg.Quota.SmsDailyLimit <= 0 {
		errs = append(errs, errors.New("QUOTA_SMS_DAILY_LIMIT must be > 0"))
	}
	if cfg.Quota.SOSDailyLimit <= 0 {
		errs = append(errs, errors.New("QUOTA_SOS_DAILY_LIMIT must be > 0"))
	}

	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
