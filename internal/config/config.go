package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Server holds the remote chat service endpoints.
type Server struct {
	// BaseURL is the REST API root, e.g. https://chat.example.com/api.
	BaseURL string `toml:"base_url"`
	// SocketURL is the realtime websocket endpoint. Empty derives ws(s)://
	// from BaseURL.
	SocketURL string `toml:"socket_url"`
}

// ResolveSocketURL returns the websocket endpoint, deriving it from
// BaseURL when not set explicitly: the scheme flips to ws(s) and any
// trailing /api segment drops.
func (s Server) ResolveSocketURL() string {
	if s.SocketURL != "" {
		return s.SocketURL
	}
	u := strings.TrimSuffix(s.BaseURL, "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Config represents the global ~/.chatup/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Server         Server `toml:"server"`
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
