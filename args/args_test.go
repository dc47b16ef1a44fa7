// Copyright © 2019 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package args

import (
	"os"
	"testing"

	flag "github.com/spf13/pflag"

	"github.com/blockdevd/blockdevd/log"
)

// resetFlags gives each test a fresh pflag.CommandLine, since ParseArgs
// registers flags on the package-level set and a second registration
// of the same name panics.
func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
}

func withArgs(t *testing.T, extra []string, fn func(*Args)) {
	t.Helper()
	resetFlags()

	saved := os.Args
	os.Args = append([]string{saved[0]}, extra...)
	defer func() { os.Args = saved }()

	testArgs := NewArgs()
	if err := testArgs.ParseArgs(); err != nil {
		t.Fatalf("ParseArgs() = %v", err)
	}
	fn(testArgs)
}

func TestParseArgsDefaults(t *testing.T) {
	withArgs(t, nil, func(a *Args) {
		if a.Version {
			t.Error("Version should default to false")
		}
		if a.LogLevel != log.LogLevelInfo {
			t.Errorf("LogLevel = %d, want %d", a.LogLevel, log.LogLevelInfo)
		}
		if a.Foreground() {
			t.Error("Foreground should default to false")
		}
		if a.ForegroundSet() {
			t.Error("ForegroundSet should be false when --foreground was not passed")
		}
		if a.SessionBus {
			t.Error("SessionBus should default to false")
		}
	})
}

func TestParseArgsConfigAndLogLevel(t *testing.T) {
	withArgs(t, []string{"--config=/etc/blockdevd/custom.yaml", "--log-level=4"}, func(a *Args) {
		if a.ConfigFile != "/etc/blockdevd/custom.yaml" {
			t.Errorf("ConfigFile = %q, want /etc/blockdevd/custom.yaml", a.ConfigFile)
		}
		if a.LogLevel != log.LogLevelDebug {
			t.Errorf("LogLevel = %d, want %d", a.LogLevel, log.LogLevelDebug)
		}
	})
}

func TestParseArgsForegroundExplicit(t *testing.T) {
	withArgs(t, []string{"--foreground"}, func(a *Args) {
		if !a.Foreground() {
			t.Error("Foreground should be true")
		}
		if !a.ForegroundSet() {
			t.Error("ForegroundSet should be true when --foreground was passed")
		}
	})
}

func TestParseArgsSessionBus(t *testing.T) {
	withArgs(t, []string{"--session-bus", "--bus-name=org.blockdevd.Test1"}, func(a *Args) {
		if !a.SessionBus {
			t.Error("SessionBus should be true")
		}
		if a.BusName != "org.blockdevd.Test1" {
			t.Errorf("BusName = %q, want org.blockdevd.Test1", a.BusName)
		}
	})
}
