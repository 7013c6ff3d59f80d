package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetConfigDir returns $XDG_CONFIG_HOME/agora, ~/.config/agora on most systems,
// creating it on first use. AGORA_HOME overrides the location.
func GetConfigDir() (string, error) {
	dir := os.Getenv("AGORA_HOME")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("no config directory: %w", err)
		}
		dir = filepath.Join(base, Name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// ResolveFilePath finds a data or config file. Absolute paths and files in the
// working directory are used as they are; anything else lives in the config
// directory, whether it exists yet or not.
func ResolveFilePath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if _, err := os.Stat(filename); err == nil {
		return filename
	}
	dir, err := GetConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(dir, filename)
}
