package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// GetProjectRoot returns the closest ancestor of the working directory
// holding a go.mod, or "." when there is none.
func GetProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "."
}

// GetDataDir returns the directory holding device state: $RTDEVICE_HOME,
// then ~/.rtdevice, then <project root>/device_data.
func GetDataDir() string {
	if d := strings.TrimSpace(os.Getenv("RTDEVICE_HOME")); d != "" {
		return d
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".rtdevice")
	}
	return filepath.Join(GetProjectRoot(), "device_data")
}

// EnvOrDefault returns the trimmed value of key, or def when unset or blank.
func EnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
