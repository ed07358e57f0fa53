package config

const (
	EnvPrefix = "PITLANE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "PITLANE_APP_ENV"
	EnvPort         = "PITLANE_APP_PORT"
	EnvDBDSN        = "PITLANE_DB_DSN"
	EnvDBHost       = "PITLANE_DB_HOST"
	EnvDBUser       = "PITLANE_DB_USER"
	EnvDBName       = "PITLANE_DB_NAME"
	EnvDBPassword   = "PITLANE_DB_PASSWORD"
	EnvRedisURL     = "PITLANE_REDIS_URL"
	EnvJWTSecret    = "PITLANE_JWT_SECRET"
	EnvStripeAPIKey = "PITLANE_STRIPE_API_KEY"
	EnvStripeSecret = "PITLANE_STRIPE_WEBHOOK_SECRET"
	EnvStripeTTL    = "PITLANE_STRIPE_SESSION_TTL"
	EnvGCPProjectID = "PITLANE_GCP_PROJECT_ID"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
