package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openhaul/haulbox/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".haulbox", "config.json")
	DefaultDataDir    = filepath.Join(home, ".haulbox", "data")
	DefaultServerURL  = "http://localhost:8080"
	DefaultClientURL  = "http://localhost:7938"
)

// Config is the client daemon configuration, persisted as JSON.
type Config struct {
	DataDir   string `json:"data_dir"`
	ServerURL string `json:"server_url"`
	ClientURL string `json:"client_url"`
	AuthToken string `json:"auth_token,omitempty"`
	Path      string `json:"-"`
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	if c.ClientURL == "" {
		c.ClientURL = DefaultClientURL
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func LoadClientConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.ClientURL == "" {
		cfg.ClientURL = DefaultClientURL
	}

	return &cfg, nil
}
