// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/nightlyone/lockfile"

	"github.com/blockdevd/blockdevd/args"
	"github.com/blockdevd/blockdevd/auth"
	"github.com/blockdevd/blockdevd/conf"
	"github.com/blockdevd/blockdevd/dbusapi"
	"github.com/blockdevd/blockdevd/ledger"
	"github.com/blockdevd/blockdevd/log"
	"github.com/blockdevd/blockdevd/loop"
	"github.com/blockdevd/blockdevd/mount"
	"github.com/blockdevd/blockdevd/ops"
	"github.com/blockdevd/blockdevd/probe"
	"github.com/blockdevd/blockdevd/registry"
	"github.com/blockdevd/blockdevd/utils"
)

// version is set at build time via -ldflags.
var version = "devel"

var lock lockfile.Lockfile

func fatal(err error) {
	if lock != "" {
		if lErr := lock.Unlock(); lErr != nil {
			fmt.Printf("cannot unlock %q: %v\n", lock, lErr)
		}
	}
	log.ErrorError(err)
	os.Exit(1)
}

func applyHelperOverrides(base ops.HelperPaths, overrides conf.HelperPaths) ops.HelperPaths {
	if overrides.Mount != "" {
		base.Mount = overrides.Mount
	}
	if overrides.Umount != "" {
		base.Umount = overrides.Umount
	}
	if overrides.Erase != "" {
		base.Erase = overrides.Erase
	}
	if overrides.Mkfs != "" {
		base.Mkfs = overrides.Mkfs
	}
	if overrides.CreatePartition != "" {
		base.CreatePartition = overrides.CreatePartition
	}
	if overrides.DeletePartition != "" {
		base.DeletePartition = overrides.DeletePartition
	}
	if overrides.ModifyPartition != "" {
		base.ModifyPartition = overrides.ModifyPartition
	}
	if overrides.CreatePartitionTable != "" {
		base.CreatePartitionTable = overrides.CreatePartitionTable
	}
	return base
}

func main() {
	a := args.NewArgs()
	if err := a.ParseArgs(); err != nil {
		fatal(err)
	}

	if a.Version {
		fmt.Println(path.Base(os.Args[0]) + ": " + version)
		return
	}

	f, err := log.SetOutputFilename(a.LogFile)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = f.Close() }()

	log.SetLogLevel(a.LogLevel)
	log.SetJournal(!a.Foreground())

	log.Info("%s: %s starting", path.Base(os.Args[0]), version)

	if errString := utils.VerifyRootUser(); errString != "" {
		fmt.Println(errString)
		log.Error("not running as root: %s", errString)
		os.Exit(1)
	}

	if err := utils.MkdirAll(a.RunDir, 0o755); err != nil {
		fatal(err)
	}

	lockPath := filepath.Join(a.RunDir, "blockdevd.lock")
	lock, err = lockfile.New(lockPath)
	if err != nil {
		fatal(err)
	}
	if err := lock.TryLock(); err != nil {
		fmt.Printf("cannot lock %q, another blockdevd instance is likely running: %v\n", lockPath, err)
		os.Exit(1)
	}
	defer func() { _ = lock.Unlock() }()

	cf := a.ConfigFile
	if cf == "" {
		if cf, err = conf.LookupConfigFile(); err != nil {
			fatal(err)
		}
	}
	cfg, err := conf.LoadConfig(cf)
	if err != nil {
		fatal(err)
	}

	pf := a.PolicyFile
	if pf == "" {
		if pf, err = conf.LookupPolicyFile(); err != nil {
			fatal(err)
		}
	}

	var policyTable mount.Table
	if conf.FileExists(pf) {
		data, rErr := os.ReadFile(pf)
		if rErr != nil {
			fatal(rErr)
		}
		if policyTable, err = mount.ParseTable(data); err != nil {
			fatal(err)
		}
		log.Debug("loaded mount policy table from %s", pf)
	} else {
		if policyTable, err = mount.DefaultTable(); err != nil {
			fatal(err)
		}
		log.Debug("no mount policy file at %s, using built-in defaults", pf)
	}

	ledgerDir := cfg.LedgerDir
	if ledgerDir == "" {
		ledgerDir = filepath.Join(conf.DefaultConfigDir, "ledger")
	}
	store, err := ledger.Open(ledgerDir)
	if err != nil {
		fatal(err)
	}
	defer func() {
		if cErr := store.Close(); cErr != nil {
			log.Warning("closing ledger: %v", cErr)
		}
	}()

	reg := registry.New()
	helpers := applyHelperOverrides(ops.DefaultHelperPaths(), cfg.Helpers)

	o := &ops.Ops{
		Registry:      reg,
		Auth:          auth.RootOnly{},
		Ledger:        store,
		PolicyTable:   policyTable,
		GroupResolver: mount.OSGroupResolver{},
		Helpers:       helpers,
		FstabReader: func() (io.ReadCloser, error) {
			return os.Open("/etc/fstab")
		},
	}

	var conn *dbus.Conn
	if a.SessionBus {
		conn, err = dbus.SessionBus()
	} else {
		conn, err = dbus.SystemBus()
	}
	if err != nil {
		fatal(err)
	}
	defer func() { _ = conn.Close() }()

	server := dbusapi.NewServer(conn, reg, o)
	if a.BusName != "" {
		server.SetBusName(a.BusName)
	}
	if err := server.RequestName(); err != nil {
		fatal(err)
	}

	prober := probe.New()
	l := loop.New(reg, prober, server, server, server)
	if cfg.RescanInterval > 0 {
		l.Interval = time.Duration(cfg.RescanInterval)
	}

	go l.Run()
	defer l.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	if sent, nErr := daemon.SdNotify(false, daemon.SdNotifyReady); nErr != nil {
		log.Warning("sd_notify READY: %v", nErr)
	} else if sent {
		log.Debug("sd_notify READY delivered")
	}

	busName := a.BusName
	if busName == "" {
		busName = dbusapi.BusName
	}
	log.Info("blockdevd listening on %s", busName)

	<-sigs
	log.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
