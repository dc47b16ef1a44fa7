// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Command blockdevctl is a terminal client for blockdevd: it resolves
// a device file to its D-Bus object, issues one Device1 method call,
// and renders the job's progress on stderr while the call blocks.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	flag "github.com/spf13/pflag"

	"github.com/blockdevd/blockdevd/dbusapi"
	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/notify"
	"github.com/blockdevd/blockdevd/progress"
)

var (
	sessionBus bool
	busName    string
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [flags] <command> <device> [args...]

commands:
  status <device>
  mount <device> [fstype] [options,comma,separated]
  unmount <device> [options,comma,separated]
  erase <device> [options,comma,separated]
  mkfs <device> <fstype> [options,comma,separated]
  create-partition-table <device> <scheme> [options,comma,separated]
  delete-partition <device>
  modify-partition <device> <type> <label> [flags,comma,separated]
  cancel-job <device>

flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.BoolVar(&sessionBus, "session-bus", false, "connect to the session bus instead of the system bus")
	flag.StringVar(&busName, "bus-name", dbusapi.BusName, "well-known name to address blockdevd at")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	command, deviceFile, rest := args[0], args[1], args[2:]

	conn, err := connectBus()
	if err != nil {
		fatal(err)
	}
	defer func() { _ = conn.Close() }()

	objectPath := device.ObjectPathFromNativePath(deviceFile)
	busObj := conn.Object(busName, dbusapi.BusPath(objectPath))

	progress.Set(terminalClient{})

	if command == "status" {
		if err := printStatus(busObj); err != nil {
			fatal(err)
		}
		return
	}

	if err := run(conn, busObj, objectPath, command, rest); err != nil {
		fatal(err)
	}
}

func connectBus() (*dbus.Conn, error) {
	if sessionBus {
		return dbus.SessionBus()
	}
	return dbus.SystemBus()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func splitOptions(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// watchJob subscribes to objectPath's JobChanged signal and forwards
// every value to job until stop is closed, so the progress indicator
// keeps moving while the method call below blocks on the bus.
func watchJob(conn *dbus.Conn, objectPath string, job *progress.Job) func() {
	busPath := dbusapi.BusPath(objectPath)
	matchRule := []dbus.MatchOption{
		dbus.WithMatchObjectPath(busPath),
		dbus.WithMatchInterface("org.blockdevd.Device1"),
		dbus.WithMatchMember("JobChanged"),
	}
	_ = conn.AddMatchSignal(matchRule...)

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Path != busPath || len(sig.Body) != 7 {
					continue
				}
				job.Update(notify.JobState{
					InProgress:        sig.Body[0].(bool),
					ID:                sig.Body[1].(string),
					IsCancellable:     sig.Body[2].(bool),
					NumTasks:          int(sig.Body[3].(int32)),
					CurTask:           int(sig.Body[4].(int32)),
					CurTaskID:         sig.Body[5].(string),
					CurTaskPercentage: sig.Body[6].(float64),
				})
			}
		}
	}()

	return func() {
		close(stop)
		conn.RemoveSignal(signals)
		_ = conn.RemoveMatchSignal(matchRule...)
	}
}

func run(conn *dbus.Conn, busObj dbus.BusObject, objectPath, command string, rest []string) error {
	switch command {
	case "mount":
		fstype, options := "", []string(nil)
		if len(rest) > 0 {
			fstype = rest[0]
		}
		if len(rest) > 1 {
			options = splitOptions(rest[1])
		}
		job := progress.NewJob("", "mounting %s", objectPath)
		stop := watchJob(conn, objectPath, job)
		defer stop()

		var mountPath string
		err := busObj.Call("org.blockdevd.Device1.Mount", 0, fstype, options).Store(&mountPath)
		if err != nil {
			job.Failure()
			return err
		}
		job.Success()
		fmt.Println(mountPath)

	case "unmount":
		var options []string
		if len(rest) > 0 {
			options = splitOptions(rest[0])
		}
		job := progress.NewJob("", "unmounting %s", objectPath)
		stop := watchJob(conn, objectPath, job)
		defer stop()

		err := busObj.Call("org.blockdevd.Device1.Unmount", 0, options).Store()
		if err != nil {
			job.Failure()
			return err
		}
		job.Success()

	case "erase":
		var options []string
		if len(rest) > 0 {
			options = splitOptions(rest[0])
		}
		job := progress.NewJob("", "erasing %s", objectPath)
		stop := watchJob(conn, objectPath, job)
		defer stop()

		err := busObj.Call("org.blockdevd.Device1.Erase", 0, options).Store()
		if err != nil {
			job.Failure()
			return err
		}
		job.Success()

	case "mkfs":
		if len(rest) < 1 {
			return fmt.Errorf("mkfs requires a filesystem type")
		}
		fstype := rest[0]
		var options []string
		if len(rest) > 1 {
			options = splitOptions(rest[1])
		}
		job := progress.NewJob("", "creating %s filesystem on %s", fstype, objectPath)
		stop := watchJob(conn, objectPath, job)
		defer stop()

		err := busObj.Call("org.blockdevd.Device1.CreateFilesystem", 0, fstype, options).Store()
		if err != nil {
			job.Failure()
			return err
		}
		job.Success()

	case "create-partition-table":
		if len(rest) < 1 {
			return fmt.Errorf("create-partition-table requires a scheme")
		}
		scheme := rest[0]
		var options []string
		if len(rest) > 1 {
			options = splitOptions(rest[1])
		}
		job := progress.NewJob("", "creating %s partition table on %s", scheme, objectPath)
		stop := watchJob(conn, objectPath, job)
		defer stop()

		err := busObj.Call("org.blockdevd.Device1.CreatePartitionTable", 0, scheme, options).Store()
		if err != nil {
			job.Failure()
			return err
		}
		job.Success()

	case "delete-partition":
		job := progress.NewJob("", "deleting partition %s", objectPath)
		stop := watchJob(conn, objectPath, job)
		defer stop()

		err := busObj.Call("org.blockdevd.Device1.DeletePartition", 0, []string(nil)).Store()
		if err != nil {
			job.Failure()
			return err
		}
		job.Success()

	case "modify-partition":
		if len(rest) < 2 {
			return fmt.Errorf("modify-partition requires type and label")
		}
		partType, label := rest[0], rest[1]
		var flags []string
		if len(rest) > 2 {
			flags = splitOptions(rest[2])
		}
		job := progress.NewJob("", "modifying partition %s", objectPath)
		stop := watchJob(conn, objectPath, job)
		defer stop()

		err := busObj.Call("org.blockdevd.Device1.ModifyPartition", 0, partType, label, flags).Store()
		if err != nil {
			job.Failure()
			return err
		}
		job.Success()

	case "cancel-job":
		return busObj.Call("org.blockdevd.Device1.CancelJob", 0).Store()

	default:
		usage()
		os.Exit(2)
	}
	return nil
}

func printStatus(busObj dbus.BusObject) error {
	var props map[string]dbus.Variant
	if err := busObj.Call("org.freedesktop.DBus.Properties.GetAll", 0, "org.blockdevd.Device1").Store(&props); err != nil {
		return err
	}

	for _, key := range []string{
		"device_file", "is_drive", "is_partition", "is_mounted", "mount_path",
		"size", "id_type", "id_label", "id_uuid", "in_progress", "cur_task_percentage",
	} {
		if v, ok := props[key]; ok {
			fmt.Printf("%-20s %s\n", key+":", variantString(v))
		}
	}
	return nil
}

func variantString(v dbus.Variant) string {
	if s, ok := v.Value().(string); ok {
		return s
	}
	return strconv.Quote(fmt.Sprintf("%v", v.Value()))
}

// terminalClient renders progress.Client to stderr.
type terminalClient struct{}

func (terminalClient) Desc(prefix, desc string) {
	fmt.Fprintf(os.Stderr, "%s%s... ", prefix, desc)
}

func (terminalClient) Update(job notify.JobState) {
	if job.NumTasks > 0 {
		fmt.Fprintf(os.Stderr, "\r%3.0f%% (%d/%d %s)  ", job.CurTaskPercentage, job.CurTask, job.NumTasks, job.CurTaskID)
	} else {
		fmt.Fprintf(os.Stderr, "\r%3.0f%%  ", job.CurTaskPercentage)
	}
}

func (terminalClient) Success() {
	fmt.Fprintln(os.Stderr, "done.")
}

func (terminalClient) Failure() {
	fmt.Fprintln(os.Stderr, "failed.")
}
