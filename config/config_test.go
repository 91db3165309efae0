package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  log_level: "debug"
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  domain_events_topic_name: "relay.domain-events"
redis:
  host: "localhost"
  port: 6379
auth:
  jwt_secret: "from-file"
  issuer: "relaybox"
payments:
  provider: "fake"
  currency: "eur"
relaybox:
  http_addr: ":8080"
  kafka_consumer_group: "relay-api"
  tracking_cache_ttl_seconds: 60
  require_transfer_code: true
`

func writeConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sampleYAML), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "relay.domain-events", cfg.Kafka.DomainEventsTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.RelayBox.HTTPAddr)
	require.True(t, cfg.RelayBox.RequireTransferCode)
	require.False(t, cfg.RelayBox.AllowTransitWithoutPayment)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RELAYBOX_AUTH_JWT_SECRET", "from-env")
	t.Setenv("RELAYBOX_DATABASE_HOST", "pg.internal")
	t.Setenv("RELAYBOX_RELAYBOX_TRACKING_CACHE_TTL_SECONDS", "120")

	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, "pg.internal", cfg.Database.Host)
	require.Equal(t, 120, cfg.RelayBox.TrackingCacheTTLSeconds)
	require.Equal(t, "relaybox", cfg.Auth.Issuer)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
