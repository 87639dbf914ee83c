package types

type Config struct {
	Environment     string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	ServerPort      uint   `envconfig:"SERVER_PORT" default:"8080"`
	DatabaseURL     string `envconfig:"DATABASE_URL"`
	DatabaseSchema  string `envconfig:"DATABASE_SCHEMA" default:"lifeline"`
	ReadTimeoutSec  uint   `envconfig:"READ_TIMEOUT_SEC" default:"10"`
	WriteTimeoutSec uint   `envconfig:"WRITE_TIMEOUT_SEC" default:"15"`

	// Auth. Tokens are issued elsewhere; we only verify them.
	AuthJWKSURL   string `envconfig:"AUTH_JWKS_URL"`
	AuthRoleClaim string `envconfig:"AUTH_ROLE_CLAIM" default:"role"`

	// Optional encrypted cookie carrying the access token (base64 keys)
	// openssl rand -base64 32
	CookieName     string `envconfig:"SESSION_COOKIE_NAME" default:"access_token"`
	CookieHashKey  string `envconfig:"COOKIE_HASH_KEY"`  // 32 or 64 bytes
	CookieBlockKey string `envconfig:"COOKIE_BLOCK_KEY"` // 16, 24, or 32 bytes

	MatchRadiusKm float64 `envconfig:"MATCH_RADIUS_KM" default:"20"`

	S3BucketName string `envconfig:"S3_BUCKET_NAME"`

	// Notifications
	NotifySinks        []string `envconfig:"NOTIFY_SINKS" default:"log,store"`
	NotifyBuffer       int      `envconfig:"NOTIFY_BUFFER" default:"256"`
	NotifyWorkers      int      `envconfig:"NOTIFY_WORKERS" default:"2"`
	SQSQueueURL        string   `envconfig:"SQS_QUEUE_URL"`
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic         string   `envconfig:"KAFKA_TOPIC" default:"lifeline.notifications"`
	RedisURL           string   `envconfig:"REDIS_URL"`
	RedisChannelPrefix string   `envconfig:"REDIS_CHANNEL_PREFIX" default:"lifeline:notifications:"`
}
