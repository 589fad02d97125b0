package config

import (
	"fmt"
	"sync"

	"github.com/matheus3301/berry/internal/store"
)

// File is a config file with serialized read-modify-write access. It
// persists the storage location descriptor for the store.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a handle for the config file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Load reads the current contents, falling back to defaults.
func (f *File) Load() (*Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return LoadOrDefault(f.path)
}

// Update applies fn to the current contents and saves the result.
func (f *File) Update(fn func(*Config) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, err := LoadOrDefault(f.path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return Save(f.path, cfg)
}

// LoadStorage implements store.LocationConfig.
func (f *File) LoadStorage() (store.Descriptor, error) {
	cfg, err := f.Load()
	if err != nil {
		return store.Descriptor{}, err
	}
	return Descriptor(cfg.Storage)
}

// SaveStorage implements store.LocationConfig.
func (f *File) SaveStorage(d store.Descriptor) error {
	return f.Update(func(cfg *Config) error {
		cfg.Storage.Location = string(d.Location)
		cfg.Storage.CustomPath = d.CustomPath
		return nil
	})
}

// Descriptor converts the [storage] table. An empty location means
// app-private.
func Descriptor(s Storage) (store.Descriptor, error) {
	if s.Location == "" {
		return store.Descriptor{Location: store.AppPrivate}, nil
	}
	loc, err := store.ParseLocation(s.Location)
	if err != nil {
		return store.Descriptor{}, fmt.Errorf("config: storage location: %w", err)
	}
	return store.Descriptor{Location: loc, CustomPath: s.CustomPath}, nil
}
