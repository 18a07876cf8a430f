package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatup.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatup")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the local cache database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "chatup.db")
}

// TokenPath returns the auth credential file path for a profile. The file
// holds an opaque bearer token written by whatever performed the login; the
// daemon only reads it.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// UserPath returns the local user identity file path for a profile. The
// file holds the logged-in user record as JSON, written alongside the
// token at login time.
func UserPath(name string) string {
	return filepath.Join(Dir(name), "user.json")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatupd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
