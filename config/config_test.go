package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
agent:
  http_addr: "127.0.0.1:7070"
  device_id: "van-12"
  drain_interval_seconds: 30
storage:
  backend: "badger"
  badger_path: "/var/lib/lastmile"
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  events_topic: "agent.events"
redis:
  host: "localhost"
  port: 6379
carrier:
  base_url: "https://api.example.ro"
  timeout_seconds: 30
routing:
  provider: "nominatim"
  nominatim_url: "https://nominatim.openstreetmap.org"
  osrm_url: "https://router.project-osrm.org"
  rate_per_second: 1
geocode:
  cache_cap: 2000
  batch_size: 5
log:
  level: "debug"
  format: "json"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "van-12", cfg.Agent.DeviceID)
	require.Equal(t, "badger", cfg.Storage.Backend)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "agent.events", cfg.Kafka.EventsTopic)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, 1.0, cfg.Routing.RatePerSecond)
	require.Equal(t, 2000, cfg.Geocode.CacheCap)
	require.True(t, cfg.Kafka.Enabled())
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestKafkaConfig_DisabledByDefault(t *testing.T) {
	require.False(t, KafkaConfig{}.Enabled())
}
