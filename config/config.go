package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"go.yaml.in/yaml/v4"
)

// EnvPrefix is the prefix of environment overrides, e.g. RELAYBOX_AUTH_JWT_SECRET.
const EnvPrefix = "relaybox"

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Payments      PaymentsConfig      `yaml:"payments"`
	Notifications NotificationsConfig `yaml:"notifications"`
	RelayBox      RelayBoxConfig      `yaml:"relaybox"`
}

type AppConfig struct {
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" envconfig:"NAME"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"SSL_MODE"`
}

// ConnString builds a pgx connection string, sslmode defaults to disable.
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	DomainEventsTopicName string `yaml:"domain_events_topic_name" envconfig:"DOMAIN_EVENTS_TOPIC"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	Issuer    string `yaml:"issuer"`
}

type PaymentsConfig struct {
	// Provider is "stripe" or "fake".
	Provider             string `yaml:"provider"`
	StripeSecretKey      string `yaml:"stripe_secret_key" envconfig:"STRIPE_SECRET_KEY"`
	Currency             string `yaml:"currency"`
	ChargeTimeoutSeconds int    `yaml:"charge_timeout_seconds" envconfig:"CHARGE_TIMEOUT_SECONDS"`
	MaxAttempts          int    `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
}

type NotificationsConfig struct {
	WebhookURL   string `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	WebhookToken string `yaml:"webhook_token" envconfig:"WEBHOOK_TOKEN"`
}

type RelayBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr" envconfig:"HTTP_ADDR"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group" envconfig:"KAFKA_CONSUMER_GROUP"`

	TrackingCacheTTLSeconds      int `yaml:"tracking_cache_ttl_seconds" envconfig:"TRACKING_CACHE_TTL_SECONDS"`
	CheckpointRateLimitPerMinute int `yaml:"checkpoint_rate_limit_per_minute" envconfig:"CHECKPOINT_RATE_LIMIT_PER_MINUTE"`

	// AllowTransitWithoutPayment disables the paid-before-IN_PROGRESS gate.
	AllowTransitWithoutPayment bool `yaml:"allow_transit_without_payment" envconfig:"ALLOW_TRANSIT_WITHOUT_PAYMENT"`
	// RequireTransferCode makes accept-relay verify the code recorded on the TRANSFER event.
	RequireTransferCode bool `yaml:"require_transfer_code" envconfig:"REQUIRE_TRANSFER_CODE"`

	WorkerHTTPAddr string `yaml:"worker_http_addr" envconfig:"WORKER_HTTP_ADDR"`

	OutboxPollIntervalSeconds int `yaml:"outbox_poll_interval_seconds" envconfig:"OUTBOX_POLL_INTERVAL_SECONDS"`
	OutboxBatchSize           int `yaml:"outbox_batch_size" envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxConcurrency         int `yaml:"outbox_concurrency" envconfig:"OUTBOX_CONCURRENCY"`
	OutboxLeaseSeconds        int `yaml:"outbox_lease_seconds" envconfig:"OUTBOX_LEASE_SECONDS"`
	OutboxBackoff1Seconds     int `yaml:"outbox_backoff_1_seconds" envconfig:"OUTBOX_BACKOFF_1_SECONDS"`
	OutboxBackoff2Seconds     int `yaml:"outbox_backoff_2_seconds" envconfig:"OUTBOX_BACKOFF_2_SECONDS"`
	OutboxBackoff3Seconds     int `yaml:"outbox_backoff_3_seconds" envconfig:"OUTBOX_BACKOFF_3_SECONDS"`
	OutboxBackoff4Seconds     int `yaml:"outbox_backoff_4_seconds" envconfig:"OUTBOX_BACKOFF_4_SECONDS"`

	ReconcileIntervalSeconds   int `yaml:"reconcile_interval_seconds" envconfig:"RECONCILE_INTERVAL_SECONDS"`
	ReconcileStaleAfterSeconds int `yaml:"reconcile_stale_after_seconds" envconfig:"RECONCILE_STALE_AFTER_SECONDS"`
	ReconcileBatchSize         int `yaml:"reconcile_batch_size" envconfig:"RECONCILE_BATCH_SIZE"`
}

// LoadConfig reads the YAML file and then applies RELAYBOX_* environment overrides.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	return &config, nil
}
