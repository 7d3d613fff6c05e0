// Package config enables config file parsing for the game binaries.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file, and PIRATES_* environment variables (double underscore
// separates nesting, e.g. PIRATES_SERVER__PORT=9000).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	yamlv3 "gopkg.in/yaml.v3"
)

const envPrefix = "PIRATES_"

// Config contains the full configuration surface.
type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	Game   GameConfig   `koanf:"game" yaml:"game"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
}

// ServerConfig is the network surface.
type ServerConfig struct {
	Host string `koanf:"host" yaml:"host"`
	Port int    `koanf:"port" yaml:"port"`

	// AdminAddr serves /health, /status and /metrics. Empty disables it.
	AdminAddr string `koanf:"admin_addr" yaml:"admin_addr"`
}

// Addr returns the host:port the game listener binds.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GameConfig holds the game tunables.
type GameConfig struct {
	MinPlayers     int `koanf:"min_players" yaml:"min_players"`
	MaxPlayers     int `koanf:"max_players" yaml:"max_players"`
	MaxRounds      int `koanf:"max_rounds" yaml:"max_rounds"`
	TreasureAmount int `koanf:"treasure_amount" yaml:"treasure_amount"`

	// RoundTimeoutSeconds bounds how long a round may wait for bids.
	// 0 disables the deadline.
	RoundTimeoutSeconds int `koanf:"round_timeout" yaml:"round_timeout"`
}

// RoundTimeout returns the per-round bid deadline.
func (c GameConfig) RoundTimeout() time.Duration {
	return time.Duration(c.RoundTimeoutSeconds) * time.Second
}

// LogConfig holds the logging surface.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`   // debug, info, warn, error
	Format string `koanf:"format" yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8888,
			AdminAddr: "localhost:8088",
		},
		Game: GameConfig{
			MinPlayers:          3,
			MaxPlayers:          8,
			MaxRounds:           10,
			TreasureAmount:      100,
			RoundTimeoutSeconds: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply; a path that is set but missing is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"server.host":          defaults.Server.Host,
		"server.port":          defaults.Server.Port,
		"server.admin_addr":    defaults.Server.AdminAddr,
		"game.min_players":     defaults.Game.MinPlayers,
		"game.max_players":     defaults.Game.MaxPlayers,
		"game.max_rounds":      defaults.Game.MaxRounds,
		"game.treasure_amount": defaults.Game.TreasureAmount,
		"game.round_timeout":   defaults.Game.RoundTimeoutSeconds,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Game.MinPlayers < 2 {
		return fmt.Errorf("game.min_players must be at least 2, got %d", cfg.Game.MinPlayers)
	}
	if cfg.Game.MaxPlayers < cfg.Game.MinPlayers {
		return fmt.Errorf("game.max_players %d below game.min_players %d",
			cfg.Game.MaxPlayers, cfg.Game.MinPlayers)
	}
	if cfg.Game.MaxRounds < 1 {
		return fmt.Errorf("game.max_rounds must be positive, got %d", cfg.Game.MaxRounds)
	}
	if cfg.Game.TreasureAmount < 1 {
		return fmt.Errorf("game.treasure_amount must be positive, got %d", cfg.Game.TreasureAmount)
	}
	if cfg.Game.RoundTimeoutSeconds < 0 {
		return fmt.Errorf("game.round_timeout must not be negative, got %d", cfg.Game.RoundTimeoutSeconds)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

// WriteDefault writes a starter config file with the built-in defaults.
// Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	defaults := Default()
	data, err := yamlv3.Marshal(&defaults)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}

	header := []byte("# Greedy Pirates configuration. Environment variables with the\n# PIRATES_ prefix override these values (PIRATES_SERVER__PORT etc).\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
