// Package joblog holds application-wide defaults shared by the config, storage and CLI packages.
package joblog

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName     = "joblog"
	DefaultTarget      = "local"
	DefaultDatabase    = "job"
	DefaultCollection  = "default"
	DefaultLocalDriver = "sqlite"
	DefaultEnvPrefix   = "JOBLOG"
)

var (
	// DefaultDataDir is where local database files live when no explicit file target is given.
	DefaultDataDir = userDir(os.UserHomeDir, ".local", "share", DefaultAppName)
	// DefaultConfigPath is searched for config.yaml after the working directory.
	DefaultConfigPath = userDir(os.UserConfigDir, DefaultAppName)
)

func userDir(base func() (string, error), elem ...string) string {
	dir, err := base()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(append([]string{dir}, elem...)...)
}
