package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type memLocationConfig struct {
	current Descriptor
	saves   []Descriptor
	failOn  int // fail the nth save (1-based); 0 never
}

func (c *memLocationConfig) LoadStorage() (Descriptor, error) {
	return c.current, nil
}

func (c *memLocationConfig) SaveStorage(d Descriptor) error {
	c.saves = append(c.saves, d)
	if c.failOn == len(c.saves) {
		return errors.New("disk full")
	}
	c.current = d
	return nil
}

func testResolver(t *testing.T) Resolver {
	t.Helper()
	root := t.TempDir()
	return Resolver{
		AppDir:        filepath.Join(root, "app"),
		SharedRoot:    filepath.Join(root, "shared"),
		AlternateRoot: filepath.Join(root, "alt"),
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{"", AppPrivate, false},
		{"app-private", AppPrivate, false},
		{" Shared-External ", SharedExternal, false},
		{"alternate-external", AlternateExternal, false},
		{"custom", Custom, false},
		{"cloud", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLocation(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLocation(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLocation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolverPath(t *testing.T) {
	r := Resolver{AppDir: "/data/app", SharedRoot: "/home/u/Documents", AlternateRoot: "/mnt/sd"}
	tests := []struct {
		d    Descriptor
		want string
	}{
		{Descriptor{Location: AppPrivate}, "/data/app/berry.db"},
		{Descriptor{Location: SharedExternal}, "/home/u/Documents/Berry/berry.db"},
		{Descriptor{Location: AlternateExternal}, "/mnt/sd/Berry/berry.db"},
		{Descriptor{Location: Custom, CustomPath: "/srv/chat"}, "/srv/chat/Berry/berry.db"},
		{Descriptor{Location: Custom}, "/home/u/Documents/Berry/berry.db"},
	}
	for _, tt := range tests {
		if got := r.Path(tt.d); got != tt.want {
			t.Errorf("Path(%+v) = %q, want %q", tt.d, got, tt.want)
		}
	}

	noAlt := Resolver{AppDir: "/data/app", SharedRoot: "/home/u/Documents"}
	if got := noAlt.Path(Descriptor{Location: AlternateExternal}); got != "/home/u/Documents/Berry/berry.db" {
		t.Errorf("alternate without root = %q", got)
	}
}

func TestMigrateLocationCopiesAndKeepsOld(t *testing.T) {
	r := testResolver(t)
	cfg := &memLocationConfig{current: Descriptor{Location: AppPrivate}}

	oldPath := r.Path(cfg.current)
	content := []byte("SQLite format 3\x00 pretend pages")
	if err := os.MkdirAll(filepath.Dir(oldPath), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(oldPath, content, 0600); err != nil {
		t.Fatal(err)
	}

	to := Descriptor{Location: SharedExternal}
	res, err := MigrateLocation(cfg, r, to)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Copied || res.OldPath != oldPath || res.NewPath != r.Path(to) {
		t.Errorf("result = %+v", res)
	}

	got, err := os.ReadFile(res.NewPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("copied file differs from source")
	}
	if _, err := os.Stat(oldPath); err != nil {
		t.Errorf("old file should remain: %v", err)
	}
	if cfg.current != to {
		t.Errorf("config = %+v, want %+v", cfg.current, to)
	}
}

func TestMigrateLocationNoOpWhenOldMissing(t *testing.T) {
	r := testResolver(t)
	cfg := &memLocationConfig{current: Descriptor{Location: AppPrivate}}
	to := Descriptor{Location: Custom, CustomPath: filepath.Join(t.TempDir(), "elsewhere")}

	res, err := MigrateLocation(cfg, r, to)
	if err != nil {
		t.Fatal(err)
	}
	if res.Copied {
		t.Error("nothing should be copied")
	}
	if _, err := os.Stat(res.NewPath); !os.IsNotExist(err) {
		t.Errorf("new path should not exist, stat err = %v", err)
	}
	if cfg.current != to {
		t.Errorf("config should still switch, got %+v", cfg.current)
	}
}

func TestMigrateLocationSamePath(t *testing.T) {
	r := testResolver(t)
	cfg := &memLocationConfig{current: Descriptor{Location: SharedExternal}}

	res, err := MigrateLocation(cfg, r, Descriptor{Location: Custom})
	if err != nil {
		t.Fatal(err)
	}
	if res.Copied || res.OldPath != res.NewPath {
		t.Errorf("result = %+v, want identical paths without copy", res)
	}
}

func TestMigrateLocationRollsBackOnCopyFailure(t *testing.T) {
	r := testResolver(t)
	prev := Descriptor{Location: AppPrivate}
	cfg := &memLocationConfig{current: prev}

	oldPath := r.Path(prev)
	if err := os.MkdirAll(filepath.Dir(oldPath), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(oldPath, []byte("data"), 0600); err != nil {
		t.Fatal(err)
	}

	// A regular file where the target directory should go makes the copy fail.
	blocker := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	to := Descriptor{Location: Custom, CustomPath: blocker}

	_, err := MigrateLocation(cfg, r, to)
	if err == nil {
		t.Fatal("expected copy failure")
	}
	var se *Error
	if !errors.As(err, &se) {
		t.Errorf("err should be *store.Error, got %T", err)
	}
	if cfg.current != prev {
		t.Errorf("config = %+v, want rollback to %+v", cfg.current, prev)
	}
	if len(cfg.saves) != 2 || cfg.saves[0] != to || cfg.saves[1] != prev {
		t.Errorf("saves = %+v, want eager save then rollback", cfg.saves)
	}
}

func TestRelocateLiveStore(t *testing.T) {
	r := testResolver(t)
	cfg := &memLocationConfig{current: Descriptor{Location: AppPrivate}}
	ctx := context.Background()

	db, err := Open(r.Path(cfg.current))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "before move", Direction: Received, CreatedAt: 1000})

	to := Descriptor{Location: AlternateExternal}
	res, err := db.Relocate(ctx, cfg, r, to)
	if err != nil {
		t.Fatal(err)
	}
	if db.Path() != r.Path(to) || !res.Copied {
		t.Fatalf("path = %q, result = %+v", db.Path(), res)
	}

	msgs, err := db.ListByContact(ctx, "a@x", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "before move" {
		t.Errorf("messages after relocate = %v", bodies(msgs))
	}

	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "after move", Direction: Received, CreatedAt: 2000})
	if _, err := os.Stat(res.OldPath); err != nil {
		t.Errorf("old store should be retained: %v", err)
	}
}
