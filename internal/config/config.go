package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/carelinehq/realtime/internal/attachments"
	"github.com/carelinehq/realtime/internal/history"
	"github.com/carelinehq/realtime/pkg/log"
)

type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     log.Config    `mapstructure:"log"`
}

type ClientConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	Mode              string        `mapstructure:"mode"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BackoffBaseDelay  time.Duration `mapstructure:"backoff_base_delay"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	HistoryPath       string        `mapstructure:"history_path"`
}

type GatewayConfig struct {
	Host        string            `mapstructure:"host"`
	Port        int               `mapstructure:"port"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Auth        AuthConfig        `mapstructure:"auth"`
	History     HistoryConfig     `mapstructure:"history"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	// MaxMessages caps user messages per session; 0 means unlimited.
	MaxMessages int `mapstructure:"max_messages"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type AuthConfig struct {
	Secret        string        `mapstructure:"secret"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
	Issuer        string        `mapstructure:"issuer"`
}

type HistoryConfig struct {
	// Backend is "memory" or "redis".
	Backend string              `mapstructure:"backend"`
	Redis   history.RedisConfig `mapstructure:"redis"`
}

type AttachmentsConfig struct {
	// Backend is "local" or "s3".
	Backend string                  `mapstructure:"backend"`
	Local   attachments.LocalConfig `mapstructure:"local"`
	S3      attachments.S3Config    `mapstructure:"s3"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("client.endpoint", "ws://localhost:8090/v1/chat/ws")
	v.SetDefault("client.mode", "consult")
	v.SetDefault("client.heartbeat_interval", "30s")
	v.SetDefault("client.backoff_base_delay", "1s")
	v.SetDefault("client.max_attempts", 5)
	v.SetDefault("client.history_path", defaultHistoryPath())
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8090)
	v.SetDefault("gateway.websocket.ping_interval", "30s")
	v.SetDefault("gateway.websocket.pong_wait", "60s")
	v.SetDefault("gateway.websocket.write_wait", "10s")
	v.SetDefault("gateway.websocket.max_message_size", 65536)
	v.SetDefault("gateway.auth.secret", "")
	v.SetDefault("gateway.auth.token_duration", "24h")
	v.SetDefault("gateway.auth.issuer", "careline-gateway")
	v.SetDefault("gateway.history.backend", "memory")
	v.SetDefault("gateway.history.redis.address", "localhost:6379")
	v.SetDefault("gateway.history.redis.db", 0)
	v.SetDefault("gateway.attachments.backend", "local")
	v.SetDefault("gateway.attachments.local.base_path", "./data/attachments")
	v.SetDefault("gateway.max_messages", 0)
	v.SetDefault("log.level", "info")

	// Override from environment
	v.BindEnv("client.endpoint", "CARELINE_ENDPOINT")
	v.BindEnv("gateway.port", "PORT")
	v.BindEnv("gateway.auth.secret", "AUTH_SECRET")
	v.BindEnv("gateway.history.backend", "HISTORY_BACKEND")
	v.BindEnv("gateway.history.redis.address", "REDIS_ADDRESS")
	v.BindEnv("gateway.history.redis.password", "REDIS_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, rely on env vars and defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Client.HeartbeatInterval = parseDuration(v, "client.heartbeat_interval", 30*time.Second)
	cfg.Client.BackoffBaseDelay = parseDuration(v, "client.backoff_base_delay", time.Second)
	cfg.Gateway.WebSocket.PingInterval = parseDuration(v, "gateway.websocket.ping_interval", 30*time.Second)
	cfg.Gateway.WebSocket.PongWait = parseDuration(v, "gateway.websocket.pong_wait", 60*time.Second)
	cfg.Gateway.WebSocket.WriteWait = parseDuration(v, "gateway.websocket.write_wait", 10*time.Second)
	cfg.Gateway.Auth.TokenDuration = parseDuration(v, "gateway.auth.token_duration", 24*time.Hour)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "careline-history.db"
	}
	return home + "/.careline/history.db"
}
