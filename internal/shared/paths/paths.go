package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirEnv overrides DataDir.
const DataDirEnv = "AGENTOS_DATA_DIR"

const (
	vendor      = "AgentOS"
	application = "fetchbridge"

	// CookieJarFile is the jar's file name inside DataDir.
	CookieJarFile = "cookies.json"
)

// DataDir returns the directory holding the bridge's persistent state.
func DataDir() (string, error) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return filepath.Clean(dir), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, vendor, application), nil
}

// CookieJar returns the default cookie jar path.
func CookieJar() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CookieJarFile), nil
}
