// Package config provides configuration management for hotspotd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridwatch/hotspotd/internal/engine"
	"github.com/gridwatch/hotspotd/internal/heat"
)

const (
	// DefaultListenPort is the default HTTP port for the worker service.
	DefaultListenPort = 8600

	// DefaultRankingSize is the default number of ranking entries returned
	// when the caller does not ask for a specific count.
	DefaultRankingSize = 10
)

// HeatConfig mirrors heat.Config with file-friendly units.
type HeatConfig struct {
	ReportWeight       float64 `yaml:"report_weight"`
	BurstWindowMinutes int     `yaml:"burst_window_minutes"`
	BurstFloor         int     `yaml:"burst_floor"`
	BurstWeight        float64 `yaml:"burst_weight"`
	DecayPerHour       float64 `yaml:"decay_per_hour"`
}

// Config holds the application configuration.
type Config struct {
	// Worker settings
	ListenPort int `yaml:"listen_port"`

	// Database settings
	DBPath   string `yaml:"db_path"`
	MaxConns int    `yaml:"max_conns"`

	// Engine settings
	SimilarityThreshold float64    `yaml:"similarity_threshold"`
	MaxVocabulary       int        `yaml:"max_vocabulary"`
	RankingSize         int        `yaml:"ranking_size"`
	Heat                HeatConfig `yaml:"heat"`

	// WatchStore enables reloading the engine when an external writer
	// touches the database file.
	WatchStore bool `yaml:"watch_store"`
}

// DataDir returns the data directory path (~/.hotspotd).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hotspotd")
}

// DBPath returns the default database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "hotspotd.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// Default returns a Config with default values.
func Default() *Config {
	h := heat.DefaultConfig()
	return &Config{
		ListenPort:          DefaultListenPort,
		DBPath:              DBPath(),
		MaxConns:            4,
		SimilarityThreshold: 0.6,
		MaxVocabulary:       5000,
		RankingSize:         DefaultRankingSize,
		Heat: HeatConfig{
			ReportWeight:       h.ReportWeight,
			BurstWindowMinutes: int(h.BurstWindow / time.Minute),
			BurstFloor:         h.BurstFloor,
			BurstWeight:        h.BurstWeight,
			DecayPerHour:       h.DecayPerHour,
		},
		WatchStore: true,
	}
}

// Load reads configuration from a YAML file merged over the defaults.
// An empty path or a missing file yields the defaults. Environment
// variables HOTSPOTD_PORT and HOTSPOTD_DB_PATH override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if port := os.Getenv("HOTSPOTD_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("invalid HOTSPOTD_PORT %q", port)
		}
		cfg.ListenPort = p
	}
	if dbPath := os.Getenv("HOTSPOTD_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	return cfg, nil
}

// EngineConfig maps the file configuration onto the engine parameters.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		SimilarityThreshold: c.SimilarityThreshold,
		MaxVocabulary:       c.MaxVocabulary,
		Heat: heat.Config{
			ReportWeight: c.Heat.ReportWeight,
			BurstWindow:  time.Duration(c.Heat.BurstWindowMinutes) * time.Minute,
			BurstFloor:   c.Heat.BurstFloor,
			BurstWeight:  c.Heat.BurstWeight,
			DecayPerHour: c.Heat.DecayPerHour,
		},
	}
}
