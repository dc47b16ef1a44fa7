// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package args parses blockdevd's command-line flags.
package args

// Arguments which influence how this program executes
// Order of Precedence
// 1. Command Line Arguments -- Highest Priority
// 2. Program defaults -- Lowest Priority

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/blockdevd/blockdevd/boolset"
	"github.com/blockdevd/blockdevd/conf"
	"github.com/blockdevd/blockdevd/log"
)

const logFileEnvironVar = "BLOCKDEVD_LOG_FILE"

// Args represents the daemon's command-line arguments.
type Args struct {
	Version bool

	ConfigFile string
	PolicyFile string
	LogFile    string
	LogLevel   int

	// BusName overrides dbusapi.BusName, for tests and for running a
	// second instance against a private bus.
	BusName string

	// SessionBus connects to the session bus instead of the system bus.
	SessionBus bool

	// RunDir holds the single-instance lock file.
	RunDir string

	foreground *boolset.BoolSet
}

// NewArgs returns an Args ready for ParseArgs.
func NewArgs() *Args {
	return &Args{foreground: boolset.New()}
}

// Foreground reports whether --foreground was given. cmd/blockdevd
// then leaves the journald mirror off; log entries still go to the
// log file, and the daemon never forks into the background either way.
func (args *Args) Foreground() bool {
	return args.foreground.Value()
}

// ForegroundSet reports whether --foreground was passed explicitly,
// as opposed to left at its default. cmd/blockdevd does not consult it;
// an absent flag behaves the same as --foreground=false.
func (args *Args) ForegroundSet() bool {
	return args.foreground.IsSet()
}

// ParseArgs parses os.Args into args.
func (args *Args) ParseArgs() error {
	args.LogLevel = log.LogLevelInfo

	flag.BoolVarP(&args.Version, "version", "v", false, "Print the blockdevd version and exit")

	flag.StringVarP(&args.ConfigFile, "config", "c", "", "Daemon configuration file")
	flag.StringVar(&args.PolicyFile, "policy-file", "", "Mount-options policy table file")

	flag.IntVarP(
		&args.LogLevel, "log-level", "l", args.LogLevel,
		fmt.Sprintf("%d (debug), %d (info), %d (warning), %d (error)",
			log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarning, log.LogLevelError),
	)

	usr, err := user.Current()
	if err != nil {
		return err
	}
	defaultLogFile := os.Getenv(logFileEnvironVar)
	if defaultLogFile == "" {
		defaultLogFile = filepath.Join(usr.HomeDir, conf.LogFile)
	}
	flag.StringVar(&args.LogFile, "log-file", defaultLogFile, "The log file path")

	flag.StringVar(&args.RunDir, "run-dir", conf.DefaultRunDir, "Directory holding the single-instance lock file")
	flag.StringVar(&args.BusName, "bus-name", "", "Override the D-Bus well-known name the daemon requests")
	flag.BoolVar(&args.SessionBus, "session-bus", false, "Connect to the session bus instead of the system bus")

	var foreground bool
	flag.BoolVar(&foreground, "foreground", false, "Do not mirror log entries to the systemd journal")

	flag.Parse()

	if fflag := flag.Lookup("foreground"); fflag != nil && fflag.Changed {
		args.foreground.SetValue(foreground)
	}

	return nil
}
