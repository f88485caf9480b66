package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Napageneral/msgbridge/imessage"
	"github.com/Napageneral/msgbridge/internal/contacts"
)

// Config holds the msgbridge application configuration
type Config struct {
	ChatDBPath     string `yaml:"chat_db"`
	AddressBookDir string `yaml:"addressbook_dir"`
	LogPath        string `yaml:"log_path"`

	CacheTTL     Duration `yaml:"cache_ttl"`
	ProbeTimeout Duration `yaml:"probe_timeout"`

	MaxWindowHours int `yaml:"max_window_hours"`
	ResultLimit    int `yaml:"result_limit"`
	SendRPM        int `yaml:"send_rpm"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "5m" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// GetAppDir returns the msgbridge application directory for the current OS
func GetAppDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "msgbridge")
	case "linux":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "msgbridge")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".msgbridge")
	}
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(GetAppDir(), "config.yaml")
}

// Default returns the built-in configuration. Store paths come from
// the owning packages so the default-path and env logic lives in one
// place.
func Default() *Config {
	return &Config{
		ChatDBPath:     imessage.GetChatDBPath(),
		AddressBookDir: contacts.DefaultAddressBookDir(),
		LogPath:        filepath.Join(GetAppDir(), "msgbridge.log"),
		CacheTTL:       Duration(5 * time.Minute),
		ProbeTimeout:   Duration(5 * time.Second),
		MaxWindowHours: 24 * 365 * 10,
		ResultLimit:    500,
		SendRPM:        10,
	}
}

// Load returns the configuration: defaults, overlaid by the config
// file when present, overlaid by env overrides.
func Load() (*Config, error) {
	return load(ConfigPath())
}

func load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config at %s: %w", path, err)
		}
	}

	if v := os.Getenv("MSGBRIDGE_CHAT_DB"); v != "" {
		cfg.ChatDBPath = os.ExpandEnv(v)
	}
	if v := os.Getenv("MSGBRIDGE_ADDRESSBOOK_DIR"); v != "" {
		cfg.AddressBookDir = os.ExpandEnv(v)
	}
	if v := os.Getenv("MSGBRIDGE_LOG_PATH"); v != "" {
		cfg.LogPath = os.ExpandEnv(v)
	}

	return cfg, nil
}
