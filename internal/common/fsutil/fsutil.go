package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppName names the per-user application data directory.
const AppName = "modelhost"

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// RegularFileSize returns the size of path if it is a regular file.
// ok is false when the path is missing or not a regular file.
func RegularFileSize(path string) (size int64, ok bool) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return 0, false
	}
	return fi.Size(), true
}

// AppDataDir returns the per-user data directory for the application
// (XDG data home on Linux, Application Support on macOS, AppData on Windows).
func AppDataDir() (string, error) {
	if x := os.Getenv("XDG_DATA_HOME"); x != "" {
		return filepath.Join(x, AppName), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(base, ".config") {
		// Linux: prefer ~/.local/share over ~/.config for bulk data.
		return filepath.Join(filepath.Dir(base), ".local", "share", AppName), nil
	}
	return filepath.Join(base, AppName), nil
}

// ResolveDir expands ~ in dir, falling back to AppDataDir()/sub when dir is empty.
func ResolveDir(dir, sub string) (string, error) {
	if dir == "" {
		base, err := AppDataDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, sub), nil
	}
	return ExpandHome(dir)
}
