// Package paths locates berry's files under the base directory.
package paths

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the base directory.
const EnvHome = "BERRY_HOME"

// BaseDir returns $BERRY_HOME, or ~/.berry.
func BaseDir() string {
	if d := os.Getenv(EnvHome); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".berry")
}

// DataDir returns the app-private data directory holding the default store.
func DataDir() string {
	return filepath.Join(BaseDir(), "data")
}

// SharedRoot returns the user-visible documents root for shared storage.
func SharedRoot() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Documents")
}

// SocketPath returns the control socket path.
func SocketPath() string {
	return filepath.Join(BaseDir(), "berryd.sock")
}

// LockPath returns the single-instance lock file path.
func LockPath() string {
	return filepath.Join(BaseDir(), "LOCK")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "berryd.log")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the directory tree with owner-only permissions.
func EnsureDirs() error {
	for _, d := range []string{BaseDir(), DataDir(), LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
