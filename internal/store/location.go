package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the name of the physical store file.
const FileName = "berry.db"

// Location names a storage root for the store file.
type Location string

const (
	AppPrivate        Location = "app-private"
	SharedExternal    Location = "shared-external"
	AlternateExternal Location = "alternate-external"
	Custom            Location = "custom"
)

// Locations lists every known storage location in display order.
var Locations = []Location{AppPrivate, SharedExternal, AlternateExternal, Custom}

// ParseLocation maps a config value to a Location. Empty means AppPrivate.
func ParseLocation(s string) (Location, error) {
	switch l := Location(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return AppPrivate, nil
	case AppPrivate, SharedExternal, AlternateExternal, Custom:
		return l, nil
	default:
		return "", fmt.Errorf("unknown storage location %q", s)
	}
}

// Descriptor is the persisted storage choice.
type Descriptor struct {
	Location   Location
	CustomPath string
}

// LocationConfig persists the storage descriptor outside the store.
type LocationConfig interface {
	LoadStorage() (Descriptor, error)
	SaveStorage(Descriptor) error
}

// Resolver maps descriptors to physical file paths.
type Resolver struct {
	AppDir        string // private data directory
	SharedRoot    string // user-visible root, e.g. ~/Documents
	AlternateRoot string // secondary volume; falls back to SharedRoot when unset
}

// Path resolves d to the absolute store file path.
func (r Resolver) Path(d Descriptor) string {
	switch d.Location {
	case SharedExternal:
		return filepath.Join(r.SharedRoot, "Berry", FileName)
	case AlternateExternal:
		root := r.AlternateRoot
		if root == "" {
			root = r.SharedRoot
		}
		return filepath.Join(root, "Berry", FileName)
	case Custom:
		if strings.TrimSpace(d.CustomPath) == "" {
			return filepath.Join(r.SharedRoot, "Berry", FileName)
		}
		return filepath.Join(d.CustomPath, "Berry", FileName)
	default:
		return filepath.Join(r.AppDir, FileName)
	}
}

// RelocateResult reports the outcome of a location migration.
type RelocateResult struct {
	OldPath string
	NewPath string
	Copied  bool
}

// MigrateLocation switches the configured storage location to `to`.
// The new descriptor is saved before copying; if the copy fails the previous
// descriptor is restored. The old file is never removed.
func MigrateLocation(cfg LocationConfig, r Resolver, to Descriptor) (*RelocateResult, error) {
	prev, err := cfg.LoadStorage()
	if err != nil {
		return nil, &Error{Op: "relocate", Err: fmt.Errorf("load storage config: %w", err)}
	}
	oldPath := r.Path(prev)

	if err := cfg.SaveStorage(to); err != nil {
		return nil, &Error{Op: "relocate", Err: fmt.Errorf("save storage config: %w", err)}
	}
	newPath := r.Path(to)

	res := &RelocateResult{OldPath: oldPath, NewPath: newPath}
	if samePath(oldPath, newPath) {
		return res, nil
	}
	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		return res, nil
	}

	if err := copyFile(oldPath, newPath); err != nil {
		if rerr := cfg.SaveStorage(prev); rerr != nil {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return nil, &Error{Op: "relocate", Err: err}
	}
	res.Copied = true
	return res, nil
}

func samePath(a, b string) bool {
	ca, erra := filepath.Abs(a)
	cb, errb := filepath.Abs(b)
	if erra != nil || errb != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}

// copyFile writes src to dst through a temporary file in dst's directory,
// so dst is either absent or complete.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".berry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
