package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Internal     InternalConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Eventing     EventingConfig
	Stream       StreamConfig
	Lifecycle    LifecycleConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Stream.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Name         string `envconfig:"WHATSUB_APP_NAME" default:"whatsub-notifications"`
	Env          string `envconfig:"WHATSUB_APP_ENV" required:"true"`
	Port         string `envconfig:"WHATSUB_APP_PORT" default:"8082"`
	LogLevel     string `envconfig:"WHATSUB_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"WHATSUB_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"WHATSUB_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"WHATSUB_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"WHATSUB_SHUTDOWN_TIMEOUT" default:"15s"`
	// MetricsPort serves /metrics for the worker binaries; the API serves it on its own port.
	MetricsPort string `envconfig:"WHATSUB_METRICS_PORT" default:"9090"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"WHATSUB_DB_DSN"`

	Host     string `envconfig:"WHATSUB_DB_HOST"`
	Port     int    `envconfig:"WHATSUB_DB_PORT" default:"5432"`
	User     string `envconfig:"WHATSUB_DB_USER"`
	Password string `envconfig:"WHATSUB_DB_PASSWORD"`
	Name     string `envconfig:"WHATSUB_DB_NAME"`
	SSLMode  string `envconfig:"WHATSUB_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"WHATSUB_SQLITE_PATH" default:"notifications.db"`

	MaxOpenConns    int           `envconfig:"WHATSUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WHATSUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WHATSUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WHATSUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WHATSUB_REDIS_URL"`
	Address      string        `envconfig:"WHATSUB_REDIS_ADDR"`
	Password     string        `envconfig:"WHATSUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"WHATSUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WHATSUB_REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"WHATSUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WHATSUB_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WHATSUB_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	Secret string `envconfig:"WHATSUB_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"WHATSUB_JWT_ISSUER" default:"whatsub"`
	// ExpirationMinutes only applies to tokens minted by this service (tooling, tests).
	ExpirationMinutes int `envconfig:"WHATSUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

// InternalConfig guards service-to-service routes (creation, cascade delete).
type InternalConfig struct {
	Token string `envconfig:"WHATSUB_INTERNAL_TOKEN" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"WHATSUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"WHATSUB_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"WHATSUB_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"WHATSUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"WHATSUB_PUBSUB_BILLING_TOPIC" default:"whatsub-billing-events"`
	BillingSubscription string `envconfig:"WHATSUB_PUBSUB_BILLING_SUBSCRIPTION" default:"whatsub-billing-events-notifications"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"WHATSUB_EVENTING_IDEMPOTENCY_TTL" default:"168h"`
}

// StreamConfig tunes the per-user delivery channel.
type StreamConfig struct {
	PollInterval time.Duration `envconfig:"WHATSUB_STREAM_POLL_INTERVAL" default:"2s"`
	ErrorBackoff time.Duration `envconfig:"WHATSUB_STREAM_ERROR_BACKOFF" default:"5s"`
	BatchSize    int           `envconfig:"WHATSUB_STREAM_BATCH_SIZE" default:"10"`
}

func (s StreamConfig) validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvStreamPollInterval)
	}
	if s.ErrorBackoff <= 0 {
		return fmt.Errorf("%s must be positive", EnvStreamErrorBackoff)
	}
	if s.BatchSize < 1 || s.BatchSize > 100 {
		return fmt.Errorf("%s must be between 1 and 100", EnvStreamBatchSize)
	}
	return nil
}

// LifecycleConfig drives the cron worker. Queued expiry is off unless an
// operator turns it on; email and sms otherwise stay queued indefinitely.
type LifecycleConfig struct {
	QueuedExpiryEnabled bool          `envconfig:"WHATSUB_QUEUED_EXPIRY_ENABLED" default:"false"`
	QueuedTTL           time.Duration `envconfig:"WHATSUB_QUEUED_TTL" default:"72h"`
	CronInterval        time.Duration `envconfig:"WHATSUB_CRON_INTERVAL" default:"1h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	var missing []string
	for env, value := range map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
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
