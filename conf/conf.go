// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package conf locates blockdevd's configuration files, following the
// teacher installer's "source tree vs. installed" lookup strategy so
// the daemon can run both from a checkout and from a packaged install.
package conf

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// ConfigFile is the daemon's main configuration file name
	ConfigFile = "blockdevd.yaml"

	// PolicyFile is the mount-options policy table file name
	PolicyFile = "mount-policy.yaml"

	// LogFile is the default daemon log file name
	LogFile = "blockdevd.log"

	// DefaultConfigDir is the system wide default configuration directory
	DefaultConfigDir = "/etc/blockdevd"

	// DefaultRunDir holds the daemon's single-instance lock file
	DefaultRunDir = "/run/blockdevd"

	// SourcePath is the source path (within the module checkout)
	SourcePath = "src/github.com/blockdevd/blockdevd"
)

func isRunningFromSourceTree() (bool, string, error) {
	src, err := os.Executable()
	if err != nil {
		return false, src, err
	}
	src, err = filepath.Abs(filepath.Dir(src))
	if err != nil {
		return false, src, err
	}

	return !strings.HasPrefix(src, "/usr/bin") && !strings.HasPrefix(src, "/usr/sbin"), src, nil
}

func lookupDefaultFile(file string) (string, error) {
	isSourceTree, sourcePath, err := isRunningFromSourceTree()
	if err != nil {
		return "", err
	}

	if isSourceTree {
		sourceRoot := strings.Replace(sourcePath, "bin", filepath.Join(SourcePath, "etc"), 1)
		return filepath.Join(sourceRoot, file), nil
	}

	return filepath.Join(DefaultConfigDir, file), nil
}

// LookupConfigFile looks up the daemon's main configuration file,
// preferring the source-tree etc/ directory over the installed one
// when running from a checkout.
func LookupConfigFile() (string, error) {
	return lookupDefaultFile(ConfigFile)
}

// LookupPolicyFile looks up the mount-options policy table file.
func LookupPolicyFile() (string, error) {
	return lookupDefaultFile(PolicyFile)
}

// FileExists returns true if the path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
