package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageBolt   = "bolt"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Storage StorageConfig  `yaml:"storage"`
	Clients []ClientConfig `yaml:"clients"`
	Users   []UserConfig   `yaml:"users"`
}

// ServerConfig controls listener and HTTP concerns.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DevMode    bool   `yaml:"dev_mode"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ClientConfig seeds a registered API client.
type ClientConfig struct {
	UUID                 string `yaml:"uuid"`
	Secret               string `yaml:"secret"`
	Name                 string `yaml:"name"`
	RedirectURI          string `yaml:"redirect_uri"`
	AccessTokenExpiresIn int    `yaml:"access_token_expires_in"`
}

// UserConfig seeds a resource owner.
type UserConfig struct {
	ID              string `yaml:"id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PersistentToken string `yaml:"persistent_token"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
// An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8080",
			DevMode:    true,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			Path:    ".data/authd.db",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"AUTHD_LISTEN_ADDR":     func(v string) { cfg.Server.ListenAddr = v },
		"AUTHD_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"AUTHD_STORAGE_BACKEND": func(v string) { cfg.Storage.Backend = v },
		"AUTHD_STORAGE_PATH":    func(v string) { cfg.Storage.Path = v },
	}
	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	switch c.Storage.Backend {
	case "", StorageMemory:
	case StorageBolt:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageMemory, StorageBolt, c.Storage.Backend)
	}

	for i, cc := range c.Clients {
		if cc.UUID == "" {
			return fmt.Errorf("clients[%d].uuid is required", i)
		}
		if cc.Secret == "" {
			return fmt.Errorf("clients[%d].secret is required", i)
		}
		if cc.AccessTokenExpiresIn < 0 {
			return fmt.Errorf("clients[%d].access_token_expires_in must not be negative", i)
		}
	}
	for i, uc := range c.Users {
		if uc.Username == "" {
			return fmt.Errorf("users[%d].username is required", i)
		}
	}
	return nil
}
