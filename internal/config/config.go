package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. ERP_RT_SERVER_PORT.
const EnvPrefix = "ERP_RT_"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RealtimeConfig tunes sessions and the transports that carry them.
type RealtimeConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	MaxSessions     int           `yaml:"max_sessions"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	PollWait        time.Duration `yaml:"poll_wait"`
	PollIdleTimeout time.Duration `yaml:"poll_idle_timeout"`
}

// OutboxConfig enables persist-then-publish when Path is set.
type OutboxConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Realtime: RealtimeConfig{
			SendBuffer:      64,
			MaxSessions:     0,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageBytes: 4096,
			PollWait:        25 * time.Second,
			PollIdleTimeout: 60 * time.Second,
		},
		Outbox: OutboxConfig{
			Interval: 250 * time.Millisecond,
			Batch:    100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv(os.LookupEnv)
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive, got %d", c.Realtime.SendBuffer)
	}
	if c.Realtime.MaxSessions < 0 {
		return fmt.Errorf("realtime.max_sessions must not be negative, got %d", c.Realtime.MaxSessions)
	}
	if c.Realtime.PingInterval <= 0 || c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout (%v) must exceed ping_interval (%v)",
			c.Realtime.PongTimeout, c.Realtime.PingInterval)
	}
	if c.Realtime.PollWait <= 0 || c.Realtime.PollIdleTimeout <= c.Realtime.PollWait {
		return fmt.Errorf("realtime.poll_idle_timeout (%v) must exceed poll_wait (%v)",
			c.Realtime.PollIdleTimeout, c.Realtime.PollWait)
	}
	if c.Outbox.Path != "" && c.Outbox.Interval <= 0 {
		return fmt.Errorf("outbox.interval must be positive when outbox.path is set")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("SERVER_HOST", &c.Server.Host)
	num("SERVER_PORT", &c.Server.Port)
	str("SERVER_AUTH_TOKEN", &c.Server.AuthToken)
	if v, ok := lookup(EnvPrefix + "SERVER_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	num("REALTIME_SEND_BUFFER", &c.Realtime.SendBuffer)
	num("REALTIME_MAX_SESSIONS", &c.Realtime.MaxSessions)
	dur("REALTIME_PING_INTERVAL", &c.Realtime.PingInterval)
	dur("REALTIME_PONG_TIMEOUT", &c.Realtime.PongTimeout)
	dur("REALTIME_WRITE_TIMEOUT", &c.Realtime.WriteTimeout)
	if v, ok := lookup(EnvPrefix + "REALTIME_MAX_MESSAGE_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Realtime.MaxMessageBytes = n
		}
	}
	dur("REALTIME_POLL_WAIT", &c.Realtime.PollWait)
	dur("REALTIME_POLL_IDLE_TIMEOUT", &c.Realtime.PollIdleTimeout)
	str("OUTBOX_PATH", &c.Outbox.Path)
	dur("OUTBOX_INTERVAL", &c.Outbox.Interval)
	num("OUTBOX_BATCH", &c.Outbox.Batch)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup(EnvPrefix + "LOG_JSON"); ok {
		c.Log.JSON, _ = strconv.ParseBool(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GenerateToken returns a random 128-bit hex token suitable for server.auth_token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
