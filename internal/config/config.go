package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "rescue_dispatch.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. RESCUE_DB_HOST for db.host.
const EnvPrefix = "RESCUE"

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// MemoryConfig holds in-memory storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
	Fixtures       bool   `json:"fixtures" mapstructure:"fixtures"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string
	DumpInterval time.Duration
	DumpPath     string
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Type     string
	Fallback string
	Memory   MemoryConfig
	SQLite   SQLiteConfig
}

// LoraConfig holds LoRa gateway authentication settings
type LoraConfig struct {
	GatewayKey string
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// KafkaConfig holds event sink settings for Kafka
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// RedisConfig holds event sink settings for Redis streams
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// MQTTConfig holds LoRa bridge settings
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// ScheduleConfig holds cron specs for background jobs
type ScheduleConfig struct {
	Stats       string
	Recalculate string
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file and an optional .env.
func Load(configDir string) error {
	// .env is optional; a missing file is not an error
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error reading .env file: %v", err)
	}

	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.readTimeout", "15s")
	viper.SetDefault("server.writeTimeout", "15s")
	viper.SetDefault("server.shutdownTimeout", "10s")
	viper.SetDefault("server.allowedOrigins", []string{"*"})

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "rescue")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.fallback", "fixtures")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.memory.fixtures", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./rescue_dispatch.db")

	viper.SetDefault("lora.gatewayKey", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "rescue")
	viper.SetDefault("influx.bucket", "rescue_stats")
	viper.SetDefault("influx.backupPath", "./rescue_stats.lp.gz")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "rescue-events")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.stream", "rescue:events")
	viper.SetDefault("redis.maxLen", 10000)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientId", "rescue-dispatch")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.topic", "rescue/lora/+/report")
	viper.SetDefault("mqtt.qos", 1)

	viper.SetDefault("schedule.stats", "@every 30s")
	viper.SetDefault("schedule.recalculate", "@every 5m")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "rescue-dispatch")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetServerConfig returns the HTTP listener configuration.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Address:         viper.GetString("server.address"),
		ReadTimeout:     viper.GetDuration("server.readTimeout"),
		WriteTimeout:    viper.GetDuration("server.writeTimeout"),
		ShutdownTimeout: viper.GetDuration("server.shutdownTimeout"),
		AllowedOrigins:  viper.GetStringSlice("server.allowedOrigins"),
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:     viper.GetString("storage.type"),
		Fallback: viper.GetString("storage.fallback"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
			Fixtures:       viper.GetBool("storage.memory.fixtures"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
	}
}

// GetLoraConfig returns the LoRa gateway configuration.
func GetLoraConfig() LoraConfig {
	return LoraConfig{GatewayKey: viper.GetString("lora.gatewayKey")}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        viper.GetString("influx.url"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetKafkaConfig returns the Kafka sink configuration.
func GetKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Enabled: viper.GetBool("kafka.enabled"),
		Brokers: viper.GetStringSlice("kafka.brokers"),
		Topic:   viper.GetString("kafka.topic"),
	}
}

// GetRedisConfig returns the Redis stream sink configuration.
func GetRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  viper.GetBool("redis.enabled"),
		Address:  viper.GetString("redis.address"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		Stream:   viper.GetString("redis.stream"),
		MaxLen:   viper.GetInt64("redis.maxLen"),
	}
}

// GetMQTTConfig returns the LoRa bridge configuration.
func GetMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:  viper.GetBool("mqtt.enabled"),
		Broker:   viper.GetString("mqtt.broker"),
		ClientID: viper.GetString("mqtt.clientId"),
		Username: viper.GetString("mqtt.username"),
		Password: viper.GetString("mqtt.password"),
		Topic:    viper.GetString("mqtt.topic"),
		QoS:      byte(viper.GetUint("mqtt.qos")),
	}
}

// GetScheduleConfig returns the background job schedule.
func GetScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Stats:       viper.GetString("schedule.stats"),
		Recalculate: viper.GetString("schedule.recalculate"),
	}
}

// GetGraylogConfig returns the GELF shipping configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}
