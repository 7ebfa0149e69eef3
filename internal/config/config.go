// Package config loads client and relay settings from YAML and the environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/resume-studio/collabsync/internal/socket"
)

// Config is the top-level configuration shared by the client and the relay.
type Config struct {
	URL                    string            `mapstructure:"url" yaml:"url"`
	ReconnectIntervalMs    int               `mapstructure:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	ReconnectMaxIntervalMs int               `mapstructure:"reconnect_max_interval_ms" yaml:"reconnect_max_interval_ms"`
	ReconnectMultiplier    float64           `mapstructure:"reconnect_multiplier" yaml:"reconnect_multiplier"`
	MaxReconnectAttempts   int               `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	TypingTimeoutMs        int               `mapstructure:"typing_timeout_ms" yaml:"typing_timeout_ms"`
	DialTimeoutMs          int               `mapstructure:"dial_timeout_ms" yaml:"dial_timeout_ms"`
	Codec                  string            `mapstructure:"codec" yaml:"codec"`
	User                   UserConfig        `mapstructure:"user" yaml:"user"`
	Server                 ServerConfig      `mapstructure:"server" yaml:"server"`
	Transcripts            TranscriptsConfig `mapstructure:"transcripts" yaml:"transcripts"`
}

// UserConfig is the local identity used by the CLI.
type UserConfig struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`
}

// ServerConfig configures the relay server.
type ServerConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	ChunkDelayMs int    `mapstructure:"chunk_delay_ms" yaml:"chunk_delay_ms"`
}

// TranscriptsConfig configures the archive of finished AI responses.
type TranscriptsConfig struct {
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns a config with the stock defaults.
func Default() Config {
	return Config{
		URL:                    "ws://localhost:8080/api/ws",
		ReconnectIntervalMs:    1000,
		ReconnectMaxIntervalMs: 3000,
		ReconnectMultiplier:    1.5,
		MaxReconnectAttempts:   5,
		TypingTimeoutMs:        3000,
		DialTimeoutMs:          10000,
		Codec:                  "json",
		Server: ServerConfig{
			Addr:         ":8080",
			ChunkDelayMs: 40,
		},
		Transcripts: TranscriptsConfig{
			DBPath:  filepath.Join("data", "transcripts.db"),
			Enabled: true,
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".resumesync", "config.yaml"), nil
}

// ReconnectInterval returns the first delay between reconnect attempts.
func (c Config) ReconnectInterval() time.Duration {
	return ms(c.ReconnectIntervalMs)
}

// ReconnectMaxInterval returns the upper bound of the reconnect delay.
func (c Config) ReconnectMaxInterval() time.Duration {
	return ms(c.ReconnectMaxIntervalMs)
}

// TypingTimeout returns how long the local user counts as typing.
func (c Config) TypingTimeout() time.Duration {
	return ms(c.TypingTimeoutMs)
}

// DialTimeout returns the per-attempt handshake timeout.
func (c Config) DialTimeout() time.Duration {
	return ms(c.DialTimeoutMs)
}

// ChunkDelay returns the pacing of the relay's echo assistant.
func (c Config) ChunkDelay() time.Duration {
	return ms(c.Server.ChunkDelayMs)
}

// Socket returns the connection parameters for socket.NewManager.
func (c Config) Socket() socket.Config {
	return socket.Config{
		URL:                  c.URL,
		ReconnectInterval:    c.ReconnectInterval(),
		ReconnectMaxInterval: c.ReconnectMaxInterval(),
		ReconnectMultiplier:  c.ReconnectMultiplier,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		DialTimeout:          c.DialTimeout(),
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
