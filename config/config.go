package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Supported storage backends.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Config is the statechand daemon configuration.
type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	Backend              string `toml:"Backend"`
	NetworkName          string `toml:"NetworkName"`
	LogFile              string `toml:"LogFile"`
	DisputePeriodSeconds int64  `toml:"DisputePeriodSeconds"`
	RateLimitPerMinute   int    `toml:"RateLimitPerMinute"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		RPCAddress:           "127.0.0.1:8681",
		DataDir:              "./statechan-data",
		Backend:              BackendLevelDB,
		NetworkName:          "statechan-local",
		DisputePeriodSeconds: 24 * 60 * 60,
		RateLimitPerMinute:   600,
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = def.RPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = def.DataDir
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = def.Backend
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = def.NetworkName
	}
	if cfg.DisputePeriodSeconds <= 0 {
		cfg.DisputePeriodSeconds = def.DisputePeriodSeconds
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = def.RateLimitPerMinute
	}
}

// Validate ensures the configuration values fall within acceptable bounds.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case BackendLevelDB, BackendBolt:
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Backend)
	}
	if c.DisputePeriodSeconds <= 0 {
		return fmt.Errorf("dispute period must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
