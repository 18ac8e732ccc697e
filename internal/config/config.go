package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AssetEvent string `mapstructure:"asset_event"`
}

type BusinessConfig struct {
	MaxRetryCount          int    `mapstructure:"max_retry_count"`
	IDWorkerID             int64  `mapstructure:"id_worker_id"`
	CustomerLockEnabled    bool   `mapstructure:"customer_lock_enabled"`
	CustomerLockTTLSeconds int    `mapstructure:"customer_lock_ttl_seconds"`
	ExpirySweepSpec        string `mapstructure:"expiry_sweep_spec"`
	ExpirySweepBatchSize   int    `mapstructure:"expiry_sweep_batch_size"`
	AssetCacheTTLSeconds   int    `mapstructure:"asset_cache_ttl_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.log_level", "warn")
	v.SetDefault("kafka.topic.asset_event", "asset_event")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.id_worker_id", 1)
	v.SetDefault("business.customer_lock_enabled", true)
	v.SetDefault("business.customer_lock_ttl_seconds", 30)
	v.SetDefault("business.expiry_sweep_spec", "@every 1m")
	v.SetDefault("business.expiry_sweep_batch_size", 200)
	v.SetDefault("business.asset_cache_ttl_seconds", 300)
	v.SetDefault("log.level", "info")
}

// LoadConfig 加载配置文件，环境变量 ASSET_* 可覆盖同名配置项
// 例如 ASSET_MYSQL_HOST 覆盖 mysql.host
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ASSET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = config
	return config, nil
}
