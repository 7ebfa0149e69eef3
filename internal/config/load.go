package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
)

// EnvPrefix prefixes environment overrides, e.g. RESUMESYNC_USER_ID.
const EnvPrefix = "RESUMESYNC"

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults; environment
// variables override both.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("url", cfg.URL)
	v.SetDefault("reconnect_interval_ms", cfg.ReconnectIntervalMs)
	v.SetDefault("reconnect_max_interval_ms", cfg.ReconnectMaxIntervalMs)
	v.SetDefault("reconnect_multiplier", cfg.ReconnectMultiplier)
	v.SetDefault("max_reconnect_attempts", cfg.MaxReconnectAttempts)
	v.SetDefault("typing_timeout_ms", cfg.TypingTimeoutMs)
	v.SetDefault("dial_timeout_ms", cfg.DialTimeoutMs)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("user.id", cfg.User.ID)
	v.SetDefault("user.name", cfg.User.Name)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.chunk_delay_ms", cfg.Server.ChunkDelayMs)
	v.SetDefault("transcripts.db_path", cfg.Transcripts.DBPath)
	v.SetDefault("transcripts.enabled", cfg.Transcripts.Enabled)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Transcripts.DBPath = os.ExpandEnv(cfg.Transcripts.DBPath)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the client or relay cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: url must be a ws:// or wss:// endpoint, got %q", model.ErrInvalidConfig, c.URL)
	}
	if c.ReconnectIntervalMs <= 0 {
		return fmt.Errorf("%w: reconnect_interval_ms must be positive", model.ErrInvalidConfig)
	}
	if c.ReconnectMaxIntervalMs < c.ReconnectIntervalMs {
		return fmt.Errorf("%w: reconnect_max_interval_ms must not be below reconnect_interval_ms", model.ErrInvalidConfig)
	}
	if c.ReconnectMultiplier < 1 {
		return fmt.Errorf("%w: reconnect_multiplier must be at least 1", model.ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must not be negative", model.ErrInvalidConfig)
	}
	if c.TypingTimeoutMs <= 0 {
		return fmt.Errorf("%w: typing_timeout_ms must be positive", model.ErrInvalidConfig)
	}
	if c.DialTimeoutMs <= 0 {
		return fmt.Errorf("%w: dial_timeout_ms must be positive", model.ErrInvalidConfig)
	}
	if c.Server.ChunkDelayMs < 0 {
		return fmt.Errorf("%w: server.chunk_delay_ms must not be negative", model.ErrInvalidConfig)
	}
	if _, err := protocol.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidConfig, err)
	}
	return nil
}

// Render returns the configuration as YAML.
func (c Config) Render() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := Default().Render()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
