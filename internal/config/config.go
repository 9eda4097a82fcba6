package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Directory DirectoryConfig
	Channels  ChannelsConfig
	Sync      SyncConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port    string
	Timeout time.Duration
}

type RabbitMQConfig struct {
	URL         string
	EmailQueue  string
	SmsQueue    string
	FailedQueue string
	Exchange    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DirectoryConfig struct {
	BaseURL string
	Timeout time.Duration
}

type ChannelsConfig struct {
	EmailGatewayURL string
	SmsGatewayURL   string
}

type SyncConfig struct {
	PollInterval  time.Duration
	PollTimeout   time.Duration
	StaleAfter    int
	GateLeadTime  time.Duration
	PushBufferLen int
}

type AuthConfig struct {
	JWTSecret string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.timeout", "10s")
	viper.SetDefault("rabbitmq.exchange", "notifications.direct")
	viper.SetDefault("rabbitmq.email_queue", "email.queue")
	viper.SetDefault("rabbitmq.sms_queue", "sms.queue")
	viper.SetDefault("rabbitmq.failed_queue", "failed.queue")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("directory.timeout", "5s")
	viper.SetDefault("sync.poll_interval", "30s")
	viper.SetDefault("sync.poll_timeout", "10s")
	viper.SetDefault("sync.stale_after", 3)
	viper.SetDefault("sync.gate_lead_time", "30m")
	viper.SetDefault("sync.push_buffer_len", 16)

	// Read from environment
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
