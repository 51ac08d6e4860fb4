// Package config provides TOML configuration loading for eumbeacon.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// placeholderSecret is written by the default template and must be replaced.
const placeholderSecret = "CHANGE_ME"

// Config is the top-level configuration structure.
type Config struct {
	SharedSecret string         `toml:"shared_secret"`
	Log          LogConfig      `toml:"log"`
	Agent        AgentConfig    `toml:"agent"`
	Server       ServerConfig   `toml:"server"`
	Redis        RedisConfig    `toml:"redis"`
	Sessions     SessionsConfig `toml:"sessions"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AgentConfig holds settings for the host beacon sender.
type AgentConfig struct {
	ID             string `toml:"id"`
	NetworkRange   string `toml:"network_range"`
	Port           int    `toml:"port"`
	MulticastGroup string `toml:"multicast_group"`
	Interface      string `toml:"interface"`
	Collector      string `toml:"collector"`
	Interval       string `toml:"interval"`
}

// ServerConfig holds settings for the collector.
type ServerConfig struct {
	UDPPort        int    `toml:"udp_port"`
	MulticastGroup string `toml:"multicast_group"`
	HTTPAddr       string `toml:"http_addr"`
	DBPath         string `toml:"db_path"`
	RPCSocket      string `toml:"rpc_socket"`
	SessionTimeout string `toml:"session_timeout"`
	MaxClockSkew   string `toml:"max_clock_skew"`
	RateLimit      int    `toml:"rate_limit"`
}

// RedisConfig enables queue publishing when URL is set.
type RedisConfig struct {
	URL   string `toml:"url"`
	Queue string `toml:"queue"`
}

// SessionsConfig holds settings for the sessions inspection CLI.
type SessionsConfig struct {
	RPCSocket string `toml:"rpc_socket"`
}

// ParseInterval parses the agent beacon interval.
func (a *AgentConfig) ParseInterval() (time.Duration, error) {
	return parseDuration(a.Interval, 30*time.Second)
}

// ParseSessionTimeout parses the idle time after which a session is inactive.
func (s *ServerConfig) ParseSessionTimeout() (time.Duration, error) {
	return parseDuration(s.SessionTimeout, 30*time.Minute)
}

// ParseMaxClockSkew parses the tolerated distance between packet and server clocks.
func (s *ServerConfig) ParseMaxClockSkew() (time.Duration, error) {
	return parseDuration(s.MaxClockSkew, 60*time.Second)
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", v)
	}
	return d, nil
}

// CheckSecret returns an error unless a real shared secret is configured.
func (cfg *Config) CheckSecret() error {
	if cfg.SharedSecret == "" || cfg.SharedSecret == placeholderSecret {
		return errors.New("shared_secret must be set in config (not 'CHANGE_ME')")
	}
	return nil
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

func (cfg *Config) expandPaths() {
	cfg.Server.DBPath = ExpandPath(cfg.Server.DBPath)
	cfg.Server.RPCSocket = ExpandPath(cfg.Server.RPCSocket)
	cfg.Sessions.RPCSocket = ExpandPath(cfg.Sessions.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	// Agent defaults
	if cfg.Agent.Port == 0 {
		cfg.Agent.Port = 5678
	}
	if cfg.Agent.Interval == "" {
		cfg.Agent.Interval = "30s"
	}

	// Server defaults
	if cfg.Server.UDPPort == 0 {
		cfg.Server.UDPPort = 5678
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = "/var/lib/eumbeacon/beacons.db"
	}
	if cfg.Server.RPCSocket == "" {
		cfg.Server.RPCSocket = "/run/eumbeacon/server.sock"
	}
	if cfg.Server.SessionTimeout == "" {
		cfg.Server.SessionTimeout = "30m"
	}
	if cfg.Server.MaxClockSkew == "" {
		cfg.Server.MaxClockSkew = "60s"
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 60
	}

	if cfg.Redis.Queue == "" {
		cfg.Redis.Queue = "eumbeacon_beacons"
	}

	if cfg.Sessions.RPCSocket == "" {
		cfg.Sessions.RPCSocket = cfg.Server.RPCSocket
	}
}
