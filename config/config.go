package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Carrier  CarrierConfig  `yaml:"carrier"`
	Routing  RoutingConfig  `yaml:"routing"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	Log      LogConfig      `yaml:"log"`
}

type AgentConfig struct {
	HTTPAddr             string `yaml:"http_addr"`
	DeviceID             string `yaml:"device_id"`
	SwaggerPath          string `yaml:"swagger_path"`
	DrainIntervalSeconds int    `yaml:"drain_interval_seconds"`
}

// StorageConfig selects the KV substrate: "memory" | "badger" | "redis" | "postgres".
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	BadgerPath string `yaml:"badger_path"`
	KeyPrefix  string `yaml:"key_prefix"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString returns a pgx connection string, defaulting ssl_mode to "disable".
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	EventsTopic string `yaml:"events_topic"`
}

// Enabled reports whether event forwarding to kafka is configured.
func (k KafkaConfig) Enabled() bool {
	return k.Host != "" && k.Port > 0
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

type CarrierConfig struct {
	BaseURL        string `yaml:"base_url"`
	SnapshotPath   string `yaml:"snapshot_path"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RoutingConfig struct {
	// Provider: "nominatim" (nominatim + osrm) | "fake".
	Provider      string  `yaml:"provider"`
	NominatimURL  string  `yaml:"nominatim_url"`
	OSRMURL       string  `yaml:"osrm_url"`
	UserAgent     string  `yaml:"user_agent"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	// SharedLimiter makes geocode rate limits shared via redis between agents of one depot.
	SharedLimiter bool `yaml:"shared_limiter"`
}

type GeocodeConfig struct {
	CacheCap  int `yaml:"cache_cap"`
	BatchSize int `yaml:"batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
