// Package config loads rpcbridge settings from an optional file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Transport names accepted by remote.transport
const (
	TransportWebSocket = "websocket"
	TransportAMQP      = "amqp"
	TransportMemory    = "memory"
)

// Config holds application configuration.
type Config struct {
	Remote RemoteConfig
	Bridge BridgeConfig
	Log    LogConfig
	Server ServerConfig
}

// RemoteConfig names the remote endpoint.
type RemoteConfig struct {
	URL       string
	Transport string
}

// BridgeConfig holds handshake and request settings.
type BridgeConfig struct {
	QueryParam     string        `mapstructure:"query_param"`
	QueryValue     string        `mapstructure:"query_value"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// ServerConfig holds settings for `rpcbridge serve`.
type ServerConfig struct {
	Addr string
}

// Load reads configuration from file and env. Env var overrides use prefix
// RPCBRIDGE_, so remote.url is RPCBRIDGE_REMOTE_URL.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.transport", TransportWebSocket)
	v.SetDefault("bridge.query_param", "page")
	v.SetDefault("bridge.query_value", "bridge")
	v.SetDefault("bridge.ready_timeout", "10s")
	v.SetDefault("bridge.request_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("server.addr", ":8080")

	v.SetConfigType("yaml")

	cfgPath := os.Getenv("RPCBRIDGE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "rpcbridge"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("RPCBRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing default file is fine; an explicit one must exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Remote.URL = strings.TrimSpace(c.Remote.URL)
	c.Remote.Transport = strings.ToLower(strings.TrimSpace(c.Remote.Transport))

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values that have no sensible fallback
func (c Config) Validate() error {
	switch c.Remote.Transport {
	case TransportWebSocket, TransportAMQP, TransportMemory:
	default:
		return fmt.Errorf("invalid config: unknown remote.transport %q", c.Remote.Transport)
	}
	if c.Bridge.QueryParam == "" {
		return fmt.Errorf("invalid config: bridge.query_param cannot be empty")
	}
	if c.Bridge.ReadyTimeout <= 0 {
		return fmt.Errorf("invalid config: bridge.ready_timeout must be positive, got %v", c.Bridge.ReadyTimeout)
	}
	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("invalid config: bridge.request_timeout must be positive, got %v", c.Bridge.RequestTimeout)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// IsConfigured reports whether a remote address is set
func (c Config) IsConfigured() bool {
	return c.Remote.URL != ""
}

// SlogLevel parses the configured level
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid config: log.level: %w", err)
	}
	return level, nil
}
