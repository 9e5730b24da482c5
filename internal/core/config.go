package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the bot's process configuration.
type Config struct {
	DataPath   string           `yaml:"data_path" env:"DATA_PATH" validate:"required"`
	Discord    DiscordConfig    `yaml:"discord"`
	Storage    StorageConfig    `yaml:"storage"`
	Modules    ModulesConfig    `yaml:"modules"`
	Resync     ResyncConfig     `yaml:"resync"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type DiscordConfig struct {
	Token         string `yaml:"token" env:"DISCORD_TOKEN"`
	ApplicationID string `yaml:"application_id" env:"DISCORD_APPLICATION_ID"`
}

type StorageConfig struct {
	// Driver selects the document backend: file, sqlite or badger.
	Driver string `yaml:"driver" env:"DRAGON_STORAGE_DRIVER" validate:"oneof=file sqlite badger"`
	// Path overrides the backend location under the data path.
	Path string `yaml:"path" env:"DRAGON_STORAGE_PATH"`
}

type ModulesConfig struct {
	LockTimeout  time.Duration `yaml:"lock_timeout" env:"DRAGON_LOCK_TIMEOUT" validate:"gte=0"`
	ErrorLogSize int           `yaml:"error_log_size" validate:"gte=0"`
}

type ResyncConfig struct {
	Concurrency       int     `yaml:"concurrency" validate:"gte=1,lte=64"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Retries           int     `yaml:"retries" validate:"gte=0,lte=10"`
}

type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled" env:"DRAGON_MONITORING"`
	Addr    string `yaml:"addr" env:"DRAGON_MONITORING_ADDR" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		DataPath: defaultDataPath(),
		Storage:  StorageConfig{Driver: "file"},
		Modules:  ModulesConfig{LockTimeout: 5 * time.Second, ErrorLogSize: 50},
		Resync:   ResyncConfig{Concurrency: 4, RequestsPerSecond: 5, Retries: 3},
		Monitoring: MonitoringConfig{
			Addr: "127.0.0.1:9090",
		},
	}
}

// ConfigDir resolves $XDG_CONFIG_HOME/dragon or ~/.config/dragon.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "dragon")
}

func defaultDataPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "dragon")
}

// LoadConfig reads YAML configuration from a path. If path is empty, it
// resolves ConfigDir()/config.yaml and falls back to defaults when that file
// does not exist. secrets.env and the environment override the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("open config: %w", err)
	}

	// Tokens live in secrets.env so they stay out of the YAML file.
	secrets, err := LoadSecretsEnv("")
	if err != nil {
		return cfg, err
	}
	if t := secrets["DISCORD_TOKEN"]; t != "" {
		cfg.Discord.Token = t
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	cfg.DataPath = expandHome(cfg.DataPath)

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// StoragePath returns where the configured backend keeps its data.
func (c Config) StoragePath() string {
	if c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	switch c.Storage.Driver {
	case "sqlite":
		return filepath.Join(c.DataPath, "dragon.db")
	case "badger":
		return filepath.Join(c.DataPath, "badger")
	default:
		return filepath.Join(c.DataPath, "config")
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
