package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	LogMode   string
	Ingest    IngestConfig
	Kafka     KafkaConfig
	MQTT      MQTTConfig
	Store     StoreConfig
	InfluxDB  InfluxDBConfig
	Processor ProcessorConfig
	Control   ControlConfig
	Topology  *Topology
}

// IngestConfig selects the transport sensor updates arrive on
type IngestConfig struct {
	Transport string // kafka, mqtt or none
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	ConsumerCount int
	BatchSize     int
	BatchTimeout  time.Duration
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      int
}

// StoreConfig holds state store configuration
type StoreConfig struct {
	Backend   string // redis or memory
	RedisAddr string
	RedisDB   int
	Prefix    string
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	URL          string
	Org          string
	Token        string
	Bucket       string
	BatchSize    int
	BatchTimeout time.Duration
}

// ProcessorConfig holds ingestion processor configuration
type ProcessorConfig struct {
	WorkerCount   int
	QueueSize     int
	FlushInterval time.Duration
}

// ControlConfig holds control loop configuration
type ControlConfig struct {
	TopologyPath          string
	Period                time.Duration
	StatePrefix           string
	WriteFailureThreshold int
	TelemetryEnabled      bool
}

// Load loads configuration from environment variables with sensible defaults
// and reads the room/circuit topology file.
func Load() (*Config, error) {
	cfg := &Config{
		LogMode: getEnv("LOG_MODE", "dev"),
		Ingest: IngestConfig{
			Transport: strings.ToLower(getEnv("INGEST_TRANSPORT", "kafka")),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:         getEnv("KAFKA_TOPIC", "heating-state-updates"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "smart-heating-control"),
			ConsumerCount: getEnvInt("KAFKA_CONSUMER_COUNT", 1),
			BatchSize:     getEnvInt("KAFKA_BATCH_SIZE", 500),
			BatchTimeout:  getEnvDuration("KAFKA_BATCH_TIMEOUT", 1*time.Second),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			Topic:    getEnv("MQTT_TOPIC", "heating/states/#"),
			ClientID: getEnv("MQTT_CLIENT_ID", "smart-heating-control"),
			QoS:      getEnvInt("MQTT_QOS", 1),
		},
		Store: StoreConfig{
			Backend:   strings.ToLower(getEnv("STORE_BACKEND", "redis")),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvInt("REDIS_DB", 0),
			Prefix:    getEnv("REDIS_PREFIX", "state:"),
		},
		InfluxDB: InfluxDBConfig{
			URL:          getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Org:          getEnv("INFLUXDB_ORG", "home"),
			Token:        getEnv("INFLUX_TOKEN", ""),
			Bucket:       getEnv("INFLUXDB_BUCKET", "heating"),
			BatchSize:    getEnvInt("INFLUXDB_BATCH_SIZE", 500),
			BatchTimeout: getEnvDuration("INFLUXDB_BATCH_TIMEOUT", 1*time.Second),
		},
		Processor: ProcessorConfig{
			WorkerCount:   getEnvInt("PROCESSOR_WORKER_COUNT", 2),
			QueueSize:     getEnvInt("PROCESSOR_QUEUE_SIZE", 10000),
			FlushInterval: getEnvDuration("PROCESSOR_FLUSH_INTERVAL", 1*time.Minute),
		},
		Control: ControlConfig{
			TopologyPath:          getEnv("CONTROL_TOPOLOGY_PATH", "./configs/topology.yaml"),
			Period:                getEnvDuration("CONTROL_PERIOD", 5*time.Minute),
			StatePrefix:           getEnv("CONTROL_STATE_PREFIX", "heatingcontrol.0"),
			WriteFailureThreshold: getEnvInt("CONTROL_WRITE_FAILURE_THRESHOLD", 3),
		},
	}

	switch cfg.Ingest.Transport {
	case "kafka", "mqtt", "none":
	default:
		return nil, fmt.Errorf("unknown INGEST_TRANSPORT %q", cfg.Ingest.Transport)
	}
	switch cfg.Store.Backend {
	case "redis", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	if cfg.Control.Period <= 0 {
		return nil, fmt.Errorf("CONTROL_PERIOD must be positive, got %s", cfg.Control.Period)
	}

	topo, err := LoadTopology(cfg.Control.TopologyPath)
	if err != nil {
		return nil, err
	}
	cfg.Topology = topo
	cfg.Control.TelemetryEnabled = getEnvBool("TELEMETRY_ENABLED", topo.InfluxEnabled)

	return cfg, nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
