package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/store"
	"go.uber.org/zap"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.Account = Account{User: "alice@example.org", Password: "secret"}
	cfg.Server.Port = 5443
	cfg.Storage = Storage{Location: "custom", CustomPath: "/mnt/sd"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Account.User != "alice@example.org" || loaded.Server.Port != 5443 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Storage.CustomPath != "/mnt/sd" || !loaded.Notifications.Enabled {
		t.Errorf("loaded storage/notifications = %+v / %+v", loaded.Storage, loaded.Notifications)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Gateway.JID != "whatsapp.localhost" {
		t.Errorf("default gateway = %q", cfg.Gateway.JID)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[account]\nuser = \"bob@example.org\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Account.User != "bob@example.org" || cfg.Server.Port != 5280 || !cfg.Notifications.Enabled {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
	dir, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if perm := dir.Mode().Perm(); perm != 0700 {
		t.Errorf("dir permission = %o, want 0700", perm)
	}
}

func TestFileLocationConfig(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "config.toml"))
	var _ store.LocationConfig = f

	d, err := f.LoadStorage()
	if err != nil {
		t.Fatal(err)
	}
	if d.Location != store.AppPrivate {
		t.Errorf("default location = %q", d.Location)
	}

	if err := f.Update(func(c *Config) error { c.Account.User = "alice"; return nil }); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveStorage(store.Descriptor{Location: store.Custom, CustomPath: "/mnt/sd"}); err != nil {
		t.Fatal(err)
	}
	d, err = f.LoadStorage()
	if err != nil {
		t.Fatal(err)
	}
	if d.Location != store.Custom || d.CustomPath != "/mnt/sd" {
		t.Errorf("descriptor = %+v", d)
	}
	cfg, _ := f.Load()
	if cfg.Account.User != "alice" {
		t.Error("SaveStorage must not clobber other tables")
	}
}

func TestDescriptorRejectsUnknown(t *testing.T) {
	if _, err := Descriptor(Storage{Location: "floppy"}); err == nil {
		t.Error("expected error for unknown location")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindConfigChanged, 4)
	defer unsub()

	w, err := Watch(context.Background(), NewFile(path), b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	cfg := Default()
	cfg.Notifications.Enabled = false
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		got := evt.Payload.(*Config)
		if got.Notifications.Enabled {
			t.Error("reloaded config should have notifications disabled")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for config.changed")
	}
}
