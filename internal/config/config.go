package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. HOPHOP_LISTEN.
const EnvPrefix = "HOPHOP_"

type Config struct {
	Listen    string `yaml:"listen"`
	DataDir   string `yaml:"data_dir"`
	ConfigDir string `yaml:"config_dir"`

	World  WorldConfig  `yaml:"world"`
	Saves  SavesConfig  `yaml:"saves"`
	Builds BuildsConfig `yaml:"builds"`
	Index  IndexConfig  `yaml:"index"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
}

type WorldConfig struct {
	ID                 string `yaml:"id"`
	TickRateHz         int    `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int    `yaml:"snapshot_every_ticks"`
	JobQueue           int    `yaml:"job_queue"`
	// RestoreSnapshot loads the newest world snapshot on start.
	RestoreSnapshot bool `yaml:"restore_snapshot"`
}

type SavesConfig struct {
	// Dir defaults to <data_dir>/build_saves.
	Dir         string `yaml:"dir"`
	HistoryKeep int    `yaml:"history_keep"`
}

type BuildsConfig struct {
	ProgressEvery          int `yaml:"progress_every"`
	InventoryAttemptFactor int `yaml:"inventory_attempt_factor"`
}

type IndexConfig struct {
	// Backend is "sqlite" or "none".
	Backend string `yaml:"backend"`
	// Path defaults to <data_dir>/index/builds.sqlite.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	WSToken    string `yaml:"ws_token"`
	AdminToken string `yaml:"admin_token"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Dev        bool   `yaml:"dev"`
}

// Load reads an optional .env file, then the yaml file at path (if any), then
// HOPHOP_* environment overrides, and returns the normalized and validated
// result.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%s: %w", envFile, err)
		}
	}

	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Listen:    "127.0.0.1:8080",
		DataDir:   "./data",
		ConfigDir: "./configs",
		World: WorldConfig{
			ID:                 "world_1",
			TickRateHz:         10,
			SnapshotEveryTicks: 3000,
			JobQueue:           256,
		},
		Saves:  SavesConfig{HistoryKeep: 5},
		Builds: BuildsConfig{ProgressEvery: 5000, InventoryAttemptFactor: 2},
		Index:  IndexConfig{Backend: "sqlite"},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
	}
}

func (c *Config) Normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	c.ConfigDir = strings.TrimSpace(c.ConfigDir)
	if c.ConfigDir == "" {
		c.ConfigDir = "./configs"
	}
	c.World.ID = strings.TrimSpace(c.World.ID)
	if c.World.ID == "" {
		c.World.ID = "world_1"
	}
	if strings.TrimSpace(c.Saves.Dir) == "" {
		c.Saves.Dir = filepath.Join(c.DataDir, "build_saves")
	}
	if c.Builds.InventoryAttemptFactor <= 0 {
		c.Builds.InventoryAttemptFactor = 2
	}
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	switch c.Index.Backend {
	case "", "sqlite":
		c.Index.Backend = "sqlite"
	case "off", "disabled":
		c.Index.Backend = "none"
	}
	if strings.TrimSpace(c.Index.Path) == "" {
		c.Index.Path = filepath.Join(c.DataDir, "index", "builds.sqlite")
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", c.Listen, err)
	}
	if c.World.TickRateHz <= 0 || c.World.TickRateHz > 1000 {
		return fmt.Errorf("world.tick_rate_hz must be in 1..1000, got %d", c.World.TickRateHz)
	}
	if c.World.SnapshotEveryTicks < 0 {
		return fmt.Errorf("world.snapshot_every_ticks must be >= 0")
	}
	if c.World.JobQueue <= 0 {
		return fmt.Errorf("world.job_queue must be > 0")
	}
	if c.Saves.HistoryKeep < 0 {
		return fmt.Errorf("saves.history_keep must be >= 0")
	}
	if c.Builds.ProgressEvery < 0 {
		return fmt.Errorf("builds.progress_every must be >= 0")
	}
	switch c.Index.Backend {
	case "sqlite", "none":
	default:
		return fmt.Errorf("unsupported index.backend: %s", c.Index.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}

// applyEnv overrides fields from HOPHOP_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("LISTEN", &c.Listen)
	str("DATA_DIR", &c.DataDir)
	str("CONFIG_DIR", &c.ConfigDir)
	str("WORLD_ID", &c.World.ID)
	str("SAVES_DIR", &c.Saves.Dir)
	str("INDEX_BACKEND", &c.Index.Backend)
	str("INDEX_PATH", &c.Index.Path)
	str("WS_TOKEN", &c.Auth.WSToken)
	str("ADMIN_TOKEN", &c.Auth.AdminToken)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"TICK_RATE_HZ", &c.World.TickRateHz},
		{"SNAPSHOT_EVERY_TICKS", &c.World.SnapshotEveryTicks},
		{"SAVES_HISTORY_KEEP", &c.Saves.HistoryKeep},
	} {
		if err := num(f.name, f.dst); err != nil {
			return err
		}
	}
	if err := flag("RESTORE_SNAPSHOT", &c.World.RestoreSnapshot); err != nil {
		return err
	}
	return flag("LOG_DEV", &c.Log.Dev)
}
