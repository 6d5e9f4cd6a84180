package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/duplexaudio/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml, in
// order. The first one receives the default config on first run.
func GetDefaultConfigPaths() ([]string, error) {
	// Fetch the user's home directory.
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	// Define default paths based on the operating system.
	switch runtime.GOOS {
	case osWindows:
		// For Windows, use the executable directory and the AppData Roaming directory.
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategorySystem).
				Context("operation", "get-executable-path").
				Build()
		}
		return []string{
			filepath.Join(homeDir, "AppData", "Roaming", "duplexaudio"),
			filepath.Dir(exePath),
		}, nil
	default:
		// For Linux and macOS, use a hidden directory in the home directory and a system-wide configuration directory.
		return []string{
			filepath.Join(homeDir, ".config", "duplexaudio"),
			"/etc/duplexaudio",
		}, nil
	}
}
