package config

// EnvPrefix is handed to envconfig; every field tag already carries it, so
// lookups fall back to the literal tag name.
const EnvPrefix = "CAROUSEL"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StorageDriverGCS = "gcs"
	StorageDriverS3  = "s3"
	// StorageDriverMemory keeps objects in process; local runs only.
	StorageDriverMemory = "memory"

	StorageAccessPublic = "public"
	StorageAccessSigned = "signed"
)

const (
	EnvAppEnv            = "CAROUSEL_APP_ENV"
	EnvPort              = "CAROUSEL_APP_PORT"
	EnvDBDSN             = "CAROUSEL_DB_DSN"
	EnvDBHost            = "CAROUSEL_DB_HOST"
	EnvDBUser            = "CAROUSEL_DB_USER"
	EnvDBName            = "CAROUSEL_DB_NAME"
	EnvRedisURL          = "CAROUSEL_REDIS_URL"
	EnvJWTSecret         = "CAROUSEL_JWT_SECRET"
	EnvGCPProjectID      = "CAROUSEL_GCP_PROJECT_ID"
	EnvStorageDriver     = "CAROUSEL_STORAGE_DRIVER"
	EnvStorageBucket     = "CAROUSEL_STORAGE_BUCKET"
	EnvStorageAccessMode = "CAROUSEL_STORAGE_ACCESS_MODE"
	EnvMediaConcurrency  = "CAROUSEL_QUEUE_MEDIA_CONCURRENCY"
	EnvMonitorPageDelay  = "CAROUSEL_MONITOR_PAGE_DELAY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
