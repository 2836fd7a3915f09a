// Package config loads the substrate's environment: a database path, an
// optional inference host and key, the mailbox inbox ceiling, and the
// snapshot export directory to watch for changes. Backed by viper so the
// same struct can be populated from environment variables or a config
// file without the core growing its own flag parser.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the full set of environment the core touches.
type Config struct {
	DBPath          string `mapstructure:"db_path"`
	InferenceHost   string `mapstructure:"inference_host"`
	InferenceAPIKey string `mapstructure:"inference_api_key"`
	MaxInboxLimit   int    `mapstructure:"max_inbox_limit"`
	LogLevel        string `mapstructure:"log_level"`
	SnapshotDir     string `mapstructure:"snapshot_dir"`
}

const (
	defaultMaxInboxLimit = 5
	envPrefix            = "SWARMHIVE"
)

// Load reads configuration from the environment, applying sane defaults.
// Callers may override fields after Load returns.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("inference_host", "")
	v.SetDefault("inference_api_key", "")
	v.SetDefault("max_inbox_limit", defaultMaxInboxLimit)
	v.SetDefault("log_level", "info")
	v.SetDefault("snapshot_dir", "")

	bindEnv(v, "db_path", "DB_PATH")
	bindEnv(v, "inference_host", "INFERENCE_HOST")
	bindEnv(v, "inference_api_key", "INFERENCE_KEY")
	bindEnv(v, "max_inbox_limit", "MAX_INBOX_LIMIT")
	bindEnv(v, "log_level", "LOG_LEVEL")
	bindEnv(v, "snapshot_dir", "SNAPSHOT_DIR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxInboxLimit <= 0 {
		cfg.MaxInboxLimit = defaultMaxInboxLimit
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper, key, suffix string) {
	_ = v.BindEnv(key, envPrefix+"_"+suffix)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "swarmhive", "core.db")
	}
	return filepath.Join(home, ".config", "swarmhive", "core.db")
}
