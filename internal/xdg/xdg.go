// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

// Package xdg locates Threadly's files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName    = "threadly"
	configName = "config.yaml"
)

// ConfigDir returns $XDG_CONFIG_HOME/threadly, falling back to
// ~/.config/threadly.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_HOME_UNKNOWN").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the path of config.yaml in ConfigDir if that file
// exists, or "" if it does not.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, configName)

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.Code("XDG_STAT_FAILED").With("path", path).Wrap(err)
	case info.IsDir():
		return "", oops.Code("XDG_NOT_A_FILE").With("path", path).Errorf("%s is a directory", path)
	}
	return path, nil
}
