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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	API          APIConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	Storage      StorageConfig
	S3           S3Config
	Media        MediaConfig
	Queue        QueueConfig
	Monitor      MonitorConfig
	Scraper      ScraperConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CAROUSEL_APP_ENV" required:"true"`
	Port         string `envconfig:"CAROUSEL_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CAROUSEL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CAROUSEL_LOG_WARN_STACK" default:"false"`
	LogFile      string `envconfig:"CAROUSEL_LOG_FILE"`
	LogFormat    string `envconfig:"CAROUSEL_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CAROUSEL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"CAROUSEL_DB_DSN"`
	// SlowQueryThreshold logs statements slower than this at warn level.
	SlowQueryThreshold time.Duration `envconfig:"CAROUSEL_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`

	LegacyHost     string `envconfig:"CAROUSEL_DB_HOST"`
	LegacyPort     int    `envconfig:"CAROUSEL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CAROUSEL_DB_USER"`
	LegacyPassword string `envconfig:"CAROUSEL_DB_PASSWORD"`
	LegacyName     string `envconfig:"CAROUSEL_DB_NAME"`
	LegacySSLMode  string `envconfig:"CAROUSEL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CAROUSEL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAROUSEL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAROUSEL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAROUSEL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CAROUSEL_REDIS_URL"`
	Address      string        `envconfig:"CAROUSEL_REDIS_ADDR"`
	Password     string        `envconfig:"CAROUSEL_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAROUSEL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAROUSEL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAROUSEL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAROUSEL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAROUSEL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAROUSEL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CAROUSEL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CAROUSEL_JWT_ISSUER" default:"carousel"`
	ExpirationMinutes int    `envconfig:"CAROUSEL_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the service token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// APIConfig tunes the admin/trigger HTTP surface.
type APIConfig struct {
	AllowedOrigins  []string      `envconfig:"CAROUSEL_API_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	RateLimit       int           `envconfig:"CAROUSEL_API_RATE_LIMIT" default:"120"`
	RateLimitWindow time.Duration `envconfig:"CAROUSEL_API_RATE_LIMIT_WINDOW" default:"1m"`
	SyncTimeout     time.Duration `envconfig:"CAROUSEL_API_SYNC_TIMEOUT" default:"2m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CAROUSEL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CAROUSEL_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"CAROUSEL_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CAROUSEL_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CAROUSEL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CAROUSEL_GOOGLE_APPLICATION_CREDENTIALS"`
}

// StorageConfig selects the object store backing cached media.
type StorageConfig struct {
	Driver            string        `envconfig:"CAROUSEL_STORAGE_DRIVER" default:"gcs"`
	BucketName        string        `envconfig:"CAROUSEL_STORAGE_BUCKET" required:"true"`
	PublicBaseURL     string        `envconfig:"CAROUSEL_STORAGE_PUBLIC_BASE_URL"`
	AccessMode        string        `envconfig:"CAROUSEL_STORAGE_ACCESS_MODE" default:"public"`
	DownloadURLExpiry time.Duration `envconfig:"CAROUSEL_STORAGE_DOWNLOAD_URL_EXPIRY" default:"24h"`
	UploadTimeout     time.Duration `envconfig:"CAROUSEL_STORAGE_UPLOAD_TIMEOUT" default:"2m"`
}

// Signed reports whether resolved URLs must be presigned.
func (s StorageConfig) Signed() bool {
	return strings.EqualFold(s.AccessMode, StorageAccessSigned)
}

// ResolvedURLCacheTTL bounds how long a resolved object URL may be reused.
// Signed URLs are cached for half their lifetime.
func (s StorageConfig) ResolvedURLCacheTTL() time.Duration {
	if s.Signed() {
		return s.DownloadURLExpiry / 2
	}
	return time.Hour
}

func (s StorageConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case StorageDriverGCS, StorageDriverS3, StorageDriverMemory:
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s (got %q)", EnvStorageDriver, StorageDriverGCS, StorageDriverS3, StorageDriverMemory, s.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(s.AccessMode)) {
	case StorageAccessPublic, StorageAccessSigned:
	default:
		return fmt.Errorf("%s must be one of %s, %s (got %q)", EnvStorageAccessMode, StorageAccessPublic, StorageAccessSigned, s.AccessMode)
	}
	return nil
}

type S3Config struct {
	Endpoint        string `envconfig:"CAROUSEL_S3_ENDPOINT" default:"localhost:9000"`
	AccessKeyID     string `envconfig:"CAROUSEL_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"CAROUSEL_S3_SECRET_ACCESS_KEY"`
	Region          string `envconfig:"CAROUSEL_S3_REGION" default:"us-east-1"`
	UseSSL          bool   `envconfig:"CAROUSEL_S3_USE_SSL" default:"false"`
}

type MediaConfig struct {
	DownloadTimeout   time.Duration `envconfig:"CAROUSEL_MEDIA_DOWNLOAD_TIMEOUT" default:"30s"`
	DownloadRetries   int           `envconfig:"CAROUSEL_MEDIA_DOWNLOAD_RETRIES" default:"2"`
	RetryDelay        time.Duration `envconfig:"CAROUSEL_MEDIA_DOWNLOAD_RETRY_DELAY" default:"1s"`
	MaxDownloadMB     int           `envconfig:"CAROUSEL_MEDIA_MAX_DOWNLOAD_MB" default:"200"`
	UserAgent         string        `envconfig:"CAROUSEL_MEDIA_USER_AGENT" default:"carousel-media-cache/1.0"`
	JPEGQuality       int           `envconfig:"CAROUSEL_MEDIA_JPEG_QUALITY" default:"92"`
	HEICConverter     string        `envconfig:"CAROUSEL_MEDIA_HEIC_CONVERTER" default:"heif-convert"`
	BreakerMaxFails   uint32        `envconfig:"CAROUSEL_MEDIA_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenFor    time.Duration `envconfig:"CAROUSEL_MEDIA_BREAKER_OPEN_FOR" default:"30s"`
	DefaultFolder     string        `envconfig:"CAROUSEL_MEDIA_DEFAULT_FOLDER" default:"media"`
	InternalURLPrefix string        `envconfig:"CAROUSEL_MEDIA_INTERNAL_URL_PREFIX"`
}

// MaxDownloadBytes returns the download body cap in bytes.
func (m MediaConfig) MaxDownloadBytes() int64 {
	if m.MaxDownloadMB <= 0 {
		return 200 << 20
	}
	return int64(m.MaxDownloadMB) << 20
}

type QueueConfig struct {
	MediaConcurrency     int           `envconfig:"CAROUSEL_QUEUE_MEDIA_CONCURRENCY" default:"5"`
	MonitorConcurrency   int           `envconfig:"CAROUSEL_QUEUE_MONITOR_CONCURRENCY" default:"2"`
	MaxAttempts          int           `envconfig:"CAROUSEL_QUEUE_MAX_ATTEMPTS" default:"3"`
	BackoffBase          time.Duration `envconfig:"CAROUSEL_QUEUE_BACKOFF_BASE" default:"2s"`
	MediaVisibility      time.Duration `envconfig:"CAROUSEL_QUEUE_MEDIA_VISIBILITY" default:"5m"`
	MonitorVisibility    time.Duration `envconfig:"CAROUSEL_QUEUE_MONITOR_VISIBILITY" default:"30m"`
	PollInterval         time.Duration `envconfig:"CAROUSEL_QUEUE_POLL_INTERVAL" default:"1s"`
	KeepCompleted        int           `envconfig:"CAROUSEL_QUEUE_KEEP_COMPLETED" default:"100"`
	KeepFailed           int           `envconfig:"CAROUSEL_QUEUE_KEEP_FAILED" default:"500"`
	ShutdownGracePeriod  time.Duration `envconfig:"CAROUSEL_QUEUE_SHUTDOWN_GRACE" default:"30s"`
	MetricsListenAddress string        `envconfig:"CAROUSEL_QUEUE_METRICS_ADDR" default:":9102"`
}

type MonitorConfig struct {
	PageDelay      time.Duration `envconfig:"CAROUSEL_MONITOR_PAGE_DELAY" default:"1s"`
	MaxPages       int           `envconfig:"CAROUSEL_MONITOR_MAX_PAGES" default:"50"`
	Interval       time.Duration `envconfig:"CAROUSEL_MONITOR_INTERVAL" default:"24h"`
	DedupWindow    time.Duration `envconfig:"CAROUSEL_MONITOR_DEDUP_WINDOW" default:"60s"`
	BatchSize      int           `envconfig:"CAROUSEL_MONITOR_BATCH_SIZE" default:"5"`
	ScheduleLimit  int           `envconfig:"CAROUSEL_MONITOR_SCHEDULE_LIMIT" default:"200"`
	MediaFanout    int           `envconfig:"CAROUSEL_MONITOR_MEDIA_FANOUT" default:"8"`
	CronTickPeriod time.Duration `envconfig:"CAROUSEL_MONITOR_CRON_TICK" default:"1m"`
}

type ScraperConfig struct {
	BaseURL string        `envconfig:"CAROUSEL_SCRAPER_BASE_URL"`
	APIKey  string        `envconfig:"CAROUSEL_SCRAPER_API_KEY"`
	Timeout time.Duration `envconfig:"CAROUSEL_SCRAPER_TIMEOUT" default:"30s"`
	RPS     float64       `envconfig:"CAROUSEL_SCRAPER_RPS" default:"2"`
	Burst   int           `envconfig:"CAROUSEL_SCRAPER_BURST" default:"2"`
}

type PubSubConfig struct {
	EventsTopic           string `envconfig:"CAROUSEL_PUBSUB_EVENTS_TOPIC" default:"carousel-events"`
	AnalyticsTopic        string `envconfig:"CAROUSEL_PUBSUB_ANALYTICS_TOPIC" default:"carousel-analytics"`
	AnalyticsSubscription string `envconfig:"CAROUSEL_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"carousel-analytics-sub"`
	EventsSubscription    string `envconfig:"CAROUSEL_PUBSUB_EVENTS_SUBSCRIPTION" default:"carousel-events-analytics-sub"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"CAROUSEL_BIGQUERY_DATASET" default:"carousel"`
	PostMetricsTable string `envconfig:"CAROUSEL_BIGQUERY_POST_METRICS_TABLE" default:"post_metrics"`
	MonitorRunsTable string `envconfig:"CAROUSEL_BIGQUERY_MONITOR_RUNS_TABLE" default:"monitor_runs"`
	// CreateTables creates missing tables from the row schemas on boot.
	CreateTables  bool          `envconfig:"CAROUSEL_BIGQUERY_CREATE_TABLES" default:"false"`
	BatchSize     int           `envconfig:"CAROUSEL_BIGQUERY_BATCH_SIZE" default:"1"`
	FlushInterval time.Duration `envconfig:"CAROUSEL_BIGQUERY_FLUSH_INTERVAL" default:"5s"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CAROUSEL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CAROUSEL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CAROUSEL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"CAROUSEL_OUTBOX_RETENTION_DAYS" default:"14"`
	// DLQRetentionDays bounds how long dead letters stay inspectable.
	DLQRetentionDays int `envconfig:"CAROUSEL_OUTBOX_DLQ_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

// LoadJWT reads only the token settings, for tools that mint tokens without
// the rest of the service environment.
func LoadJWT() (JWTConfig, error) {
	var cfg JWTConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return JWTConfig{}, fmt.Errorf("parsing jwt config: %w", err)
	}
	return cfg, nil
}
