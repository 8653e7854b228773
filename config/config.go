package config

import (
	"strings"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/gommon/log"
)

type Config struct {
	HttpPort         int           `envconfig:"HTTP_PORT" default:"3000"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	MaxWorkers       int           `envconfig:"MAX_WORKERS" default:"4"`
	ChatHistoryLimit int           `envconfig:"CHAT_HISTORY_LIMIT" default:"500"`
	EmptyRoomTTL     time.Duration `envconfig:"EMPTY_ROOM_TTL" default:"15m"`
	ReapInterval     time.Duration `envconfig:"REAP_INTERVAL" default:"1m"`
	PingInterval     time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
	SendQueueSize    int           `envconfig:"SEND_QUEUE_SIZE" default:"64"`
	MaxMessageSize   int64         `envconfig:"MAX_MESSAGE_SIZE" default:"65536"`
	CORSOrigin       string        `envconfig:"CORS_ORIGIN" default:"*"`
}

var (
	c    Config
	once sync.Once
)

// Get loads the configuration from the environment once and exits the
// process if it is invalid.
func Get() *Config {
	once.Do(func() {
		loaded, err := Load()
		if err != nil {
			log.Fatal(err)
		}
		c = *loaded
	})
	return &c
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Level maps LogLevel onto a gommon level, defaulting to INFO.
func (c *Config) Level() log.Lvl {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
