// Package config loads runtime settings from the environment, an optional
// config file and built-in defaults.
package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port            string
		ShutdownTimeout time.Duration
	}
	Database struct {
		DSN string // "memory" selects the in-process store
	}
	Redis struct {
		Addr         string // empty disables the relay and the rate limiter
		Password     string
		DB           int
		RelayChannel string
	}
	Auth struct {
		Secret   string
		TokenTTL time.Duration
	}
	Stream struct {
		QueueSize   int
		Heartbeat   time.Duration
		IdleTimeout time.Duration
	}
	RateLimit struct {
		Messages int
		Window   time.Duration
		Strategy string // "fixed" or "token"
	}
	Kafka struct {
		Brokers  []string
		Topic    string
		Username string
		Password string
	}
	Telegram struct {
		BotToken    string
		AgentChatID int64
		Lang        string
	}
}

// MemoryDSN switches the server to the in-memory store.
const MemoryDSN = "memory"

var ErrMissingSecret = errors.New("JWT_SECRET is required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_port", "8080")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("db_dsn", MemoryDSN)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_relay_channel", "support:events")
	v.SetDefault("jwt_expires", DefaultTokenTTL.String())
	v.SetDefault("stream_queue_size", DefaultStreamQueueSize)
	v.SetDefault("stream_heartbeat_interval", DefaultHeartbeatPeriod.String())
	v.SetDefault("stream_idle_timeout", DefaultStreamIdleTimeout.String())
	v.SetDefault("rate_limit_messages", DefaultRateLimitMessages)
	v.SetDefault("rate_limit_window", DefaultRateLimitWindow.String())
	v.SetDefault("rate_limit_strategy", "fixed")
	v.SetDefault("kafka_topic", "support.chat.events")
	v.SetDefault("telegram_lang", "en")
}

// Load reads configuration. Environment variables (APP_PORT, DB_DSN, ...)
// take precedence over config.yaml, which takes precedence over defaults.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Println("INFO: [Config] config.yaml not found, using environment variables and defaults.")
	}

	cfg := &Config{}
	cfg.Server.Port = v.GetString("app_port")
	cfg.Server.ShutdownTimeout = v.GetDuration("shutdown_timeout")
	cfg.Database.DSN = v.GetString("db_dsn")

	cfg.Redis.Addr = v.GetString("redis_addr")
	cfg.Redis.Password = v.GetString("redis_password")
	cfg.Redis.DB = v.GetInt("redis_db")
	cfg.Redis.RelayChannel = v.GetString("redis_relay_channel")

	cfg.Auth.Secret = v.GetString("jwt_secret")
	cfg.Auth.TokenTTL = v.GetDuration("jwt_expires")
	if cfg.Auth.Secret == "" {
		return nil, ErrMissingSecret
	}

	cfg.Stream.QueueSize = v.GetInt("stream_queue_size")
	if cfg.Stream.QueueSize <= 0 {
		cfg.Stream.QueueSize = DefaultStreamQueueSize
	}
	cfg.Stream.Heartbeat = v.GetDuration("stream_heartbeat_interval")
	cfg.Stream.IdleTimeout = v.GetDuration("stream_idle_timeout")

	cfg.RateLimit.Messages = v.GetInt("rate_limit_messages")
	cfg.RateLimit.Window = v.GetDuration("rate_limit_window")
	cfg.RateLimit.Strategy = strings.ToLower(v.GetString("rate_limit_strategy"))

	cfg.Kafka.Brokers = splitList(v.GetString("kafka_brokers"))
	cfg.Kafka.Topic = v.GetString("kafka_topic")
	cfg.Kafka.Username = v.GetString("kafka_username")
	cfg.Kafka.Password = v.GetString("kafka_password")

	cfg.Telegram.BotToken = v.GetString("telegram_bot_token")
	cfg.Telegram.AgentChatID = v.GetInt64("telegram_agent_chat_id")
	cfg.Telegram.Lang = v.GetString("telegram_lang")

	return cfg, nil
}

// splitList parses a comma separated env value such as "k1:9092,k2:9092".
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
