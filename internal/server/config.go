package server

import "path/filepath"

const (
	DefaultAddr    = "0.0.0.0:8080"
	DefaultDataDir = "./data"
)

type Config struct {
	HTTP    HTTPConfig
	DataDir string
}

type HTTPConfig struct {
	Addr     string
	CertFile string
	KeyFile  string
}

func DefaultConfig() *Config {
	return &Config{
		HTTP:    HTTPConfig{Addr: DefaultAddr},
		DataDir: DefaultDataDir,
	}
}

// DBPath returns the depot index location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "depot.db")
}
