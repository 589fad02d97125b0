// Package config reads and writes ~/.berry/config.toml.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.berry/config.toml.
type Config struct {
	Server        Server        `toml:"server"`
	Account       Account       `toml:"account"`
	Storage       Storage       `toml:"storage"`
	Gateway       Gateway       `toml:"gateway"`
	Upload        Upload        `toml:"upload"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
}

// Server locates the XMPP server.
type Server struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Domain       string `toml:"domain"`
	WebSocketURL string `toml:"websocket_url,omitempty"`
	Resource     string `toml:"resource,omitempty"`
}

// Account holds the credentials used to log in and reconnect.
type Account struct {
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Storage selects where the message database lives.
type Storage struct {
	Location      string `toml:"location"`
	CustomPath    string `toml:"custom_path,omitempty"`
	AlternateRoot string `toml:"alternate_root,omitempty"`
}

// Gateway addresses the legacy-network bridge.
type Gateway struct {
	JID string `toml:"jid"`
}

// Upload configures the HTTP upload endpoint.
type Upload struct {
	URL      string `toml:"url"`
	MaxBytes int64  `toml:"max_bytes,omitempty"`
}

type Notifications struct {
	Enabled bool `toml:"enabled"`
}

// Metrics enables the Prometheus endpoint when Listen is set.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		Server:        Server{Host: "localhost", Port: 5280, Domain: "localhost"},
		Storage:       Storage{Location: "app-private"},
		Gateway:       Gateway{JID: "whatsapp.localhost"},
		Upload:        Upload{MaxBytes: 100 << 20},
		Notifications: Notifications{Enabled: true},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
// Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
// The file is replaced atomically so watchers never see a partial write.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		_ = os.Remove(tmp)
		return encErr
	}
	return os.Rename(tmp, path)
}
