package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Payments     PaymentsConfig
	CheckIn      CheckInConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PITLANE_APP_ENV" required:"true"`
	Port         string `envconfig:"PITLANE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PITLANE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PITLANE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PITLANE_LOG_FORMAT" default:"json"`
	CORSOrigins  string `envconfig:"PITLANE_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// ConsoleLogs reports whether logs should be written for humans instead of JSON.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "console")
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	origins := []string{}
	for _, o := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type DBConfig struct {
	DSN string `envconfig:"PITLANE_DB_DSN"`

	Host     string `envconfig:"PITLANE_DB_HOST"`
	Port     int    `envconfig:"PITLANE_DB_PORT" default:"5432"`
	User     string `envconfig:"PITLANE_DB_USER"`
	Password string `envconfig:"PITLANE_DB_PASSWORD"`
	Name     string `envconfig:"PITLANE_DB_NAME"`
	SSLMode  string `envconfig:"PITLANE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PITLANE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PITLANE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PITLANE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PITLANE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold is the latency above which statements are logged.
	SlowQueryThreshold time.Duration `envconfig:"PITLANE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PITLANE_REDIS_URL"`
	Address      string        `envconfig:"PITLANE_REDIS_ADDR"`
	Password     string        `envconfig:"PITLANE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PITLANE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PITLANE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PITLANE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PITLANE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PITLANE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PITLANE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PITLANE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PITLANE_JWT_ISSUER" default:"pitlane"`
	ExpirationMinutes int    `envconfig:"PITLANE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey     string        `envconfig:"PITLANE_STRIPE_API_KEY"`
	Secret     string        `envconfig:"PITLANE_STRIPE_WEBHOOK_SECRET"`
	Env        string        `envconfig:"PITLANE_STRIPE_ENV" default:"test"`
	SuccessURL string        `envconfig:"PITLANE_STRIPE_SUCCESS_URL" default:"https://pitlane.app/payment/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL  string        `envconfig:"PITLANE_STRIPE_CANCEL_URL" default:"https://pitlane.app/payment/cancelled"`
	SessionTTL time.Duration `envconfig:"PITLANE_STRIPE_SESSION_TTL" default:"30m"`
	// WebhookEventTTL bounds how long processed webhook ids are remembered.
	WebhookEventTTL time.Duration `envconfig:"PITLANE_STRIPE_WEBHOOK_EVENT_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PaymentsConfig struct {
	Currency               string `envconfig:"PITLANE_PAYMENTS_CURRENCY" default:"pln"`
	RefundBatchConcurrency int    `envconfig:"PITLANE_REFUND_BATCH_CONCURRENCY" default:"4"`
}

type CheckInConfig struct {
	VerifyWindow time.Duration `envconfig:"PITLANE_CHECKIN_VERIFY_WINDOW" default:"1m"`
	VerifyLimit  int           `envconfig:"PITLANE_CHECKIN_VERIFY_LIMIT" default:"30"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PITLANE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	RegistrationsTopic string `envconfig:"PITLANE_PUBSUB_REGISTRATIONS_TOPIC" default:"pitlane-registration-events"`
	EventsTopic        string `envconfig:"PITLANE_PUBSUB_EVENTS_TOPIC" default:"pitlane-event-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PITLANE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PITLANE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"PITLANE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"PITLANE_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"PITLANE_CRON_INTERVAL" default:"5m"`
	LockTTL           time.Duration `envconfig:"PITLANE_CRON_LOCK_TTL" default:"4m"`
	StaleSessionGrace time.Duration `envconfig:"PITLANE_CRON_STALE_SESSION_GRACE" default:"15m"`
	CodeRetention     time.Duration `envconfig:"PITLANE_CRON_CODE_RETENTION" default:"24h"`
	RefundStallAfter  time.Duration `envconfig:"PITLANE_CRON_REFUND_STALL_AFTER" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PITLANE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}
	db.DSN = u.String()
	return nil
}
