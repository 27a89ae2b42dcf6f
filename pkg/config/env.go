package config

const (
	EnvPrefix = "WHATSUB"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "WHATSUB_APP_ENV"
	EnvPort               = "WHATSUB_APP_PORT"
	EnvDBDSN              = "WHATSUB_DB_DSN"
	EnvDBHost             = "WHATSUB_DB_HOST"
	EnvDBUser             = "WHATSUB_DB_USER"
	EnvDBName             = "WHATSUB_DB_NAME"
	EnvUseSQLite          = "WHATSUB_USE_SQLITE"
	EnvRedisURL           = "WHATSUB_REDIS_URL"
	EnvJWTSecret          = "WHATSUB_JWT_SECRET"
	EnvInternalToken      = "WHATSUB_INTERNAL_TOKEN"
	EnvGCPProjectID       = "WHATSUB_GCP_PROJECT_ID"
	EnvPubSubBillingSub   = "WHATSUB_PUBSUB_BILLING_SUBSCRIPTION"
	EnvStreamPollInterval = "WHATSUB_STREAM_POLL_INTERVAL"
	EnvStreamErrorBackoff = "WHATSUB_STREAM_ERROR_BACKOFF"
	EnvStreamBatchSize    = "WHATSUB_STREAM_BATCH_SIZE"
)
