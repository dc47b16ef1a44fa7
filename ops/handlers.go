// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package ops

import (
	"fmt"
	"os"

	"github.com/blockdevd/blockdevd/auth"
	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/errors"
	"github.com/blockdevd/blockdevd/job"
	"github.com/blockdevd/blockdevd/ledger"
	"github.com/blockdevd/blockdevd/mount"
	"github.com/blockdevd/blockdevd/utils"
	"github.com/blockdevd/blockdevd/waiter"
)

// Mount implements the Mount operation.
func (o *Ops) Mount(caller auth.Caller, d *device.Device, fstype string, options []string, reply ReplyFunc) error {
	attrs := d.Attrs()
	if attrs.IDUsage != "filesystem" {
		return errors.New(errors.NotMountable, "device is not a mountable filesystem")
	}

	if o.FstabReader != nil {
		fstab, err := o.FstabReader()
		if err == nil {
			defer func() { _ = fstab.Close() }()
			if mount.HasFstabEntry(fstab, attrs.DeviceFile) {
				return errors.New(errors.FstabEntry, "device has an /etc/fstab entry")
			}
		}
	}

	remount := utils.StringSliceContains(options, "remount")
	switch {
	case remount && !d.IsMounted():
		return errors.New(errors.CannotRemount, "cannot remount a device that is not mounted")
	case remount && fstype != "":
		return errors.New(errors.CannotRemount, "remount must not specify a filesystem type")
	case !remount && d.IsMounted():
		return errors.New(errors.Mounted, "device is already mounted")
	}

	decision, err := mount.Validate(o.PolicyTable, fstype, caller.UID, options, o.GroupResolver)
	if err != nil {
		return errors.New(errors.MountOptionNotAllowed, "%v", err)
	}

	if err := o.checkAuth(caller, d, decision.AuthActions); err != nil {
		return err
	}

	mountPath := d.MountPath()
	createdDir := false
	if !remount {
		mountPath, err = mount.SelectMountPoint(attrs.IDLabel, attrs.IDUUID)
		if err != nil {
			return errors.New(errors.General, "%v", err)
		}
		if err := mount.EnsureMountDir(mountPath); err != nil {
			return errors.New(errors.General, "could not create mount point: %v", err)
		}
		createdDir = true
	}

	argv := []string{o.Helpers.Mount}
	if fstype != "" {
		argv = append(argv, "-t", fstype)
	}
	argv = append(argv, "-o", decision.OptionString, attrs.DeviceFile, mountPath)

	return o.start(caller, d, "mount", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			if createdDir {
				_ = os.Remove(mountPath)
			}
			reply(Reply{Err: err})
			return
		}

		d.SetMounted(mountPath)
		if o.Ledger != nil {
			_ = o.Ledger.Add(attrs.DeviceFile, ledger.Entry{UID: caller.UID, RemoveDirOnUnmount: createdDir})
		}
		reply(Reply{MountPath: mountPath})
	})
}

// Unmount implements the Unmount operation.
func (o *Ops) Unmount(caller auth.Caller, d *device.Device, options []string, reply ReplyFunc) error {
	if !d.IsMounted() {
		return errors.New(errors.NotMounted, "device is not mounted")
	}

	entry, found, err := o.Ledger.HasDevice(d.Attrs().DeviceFile)
	if err != nil {
		return errors.New(errors.General, "%v", err)
	}
	if !found {
		return errors.New(errors.NotMountedByDeviceKit, "device was not mounted by this service")
	}

	if entry.UID != caller.UID {
		if err := o.checkAuth(caller, d, []string{"unmount-others"}); err != nil {
			return err
		}
	}

	for _, opt := range options {
		if opt != "force" {
			return errors.New(errors.UnmountOptionNotAllowed, "unmount option %q is not allowed", opt)
		}
	}

	argv := []string{o.Helpers.Umount}
	if utils.StringSliceContains(options, "force") {
		argv = append(argv, "-l")
	}
	argv = append(argv, d.Attrs().DeviceFile)

	mountPath := d.MountPath()

	return o.start(caller, d, "unmount", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			reply(Reply{Err: err})
			return
		}

		d.ClearMounted()
		_ = o.Ledger.Remove(d.Attrs().DeviceFile)
		if entry.RemoveDirOnUnmount {
			_ = os.Remove(mountPath)
		}
		reply(Reply{})
	})
}

// Erase implements the Erase operation.
func (o *Ops) Erase(caller auth.Caller, d *device.Device, options []string, reply ReplyFunc) error {
	if d.IsMounted() {
		return errors.New(errors.Mounted, "device is mounted")
	}

	argv := append([]string{o.Helpers.Erase}, options...)
	argv = append(argv, d.Attrs().DeviceFile)

	return o.start(caller, d, "erase", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			reply(Reply{Err: err})
			return
		}
		announceChange(d.NativePath())
		reply(Reply{})
	})
}

// DeletePartition implements the DeletePartition operation.
func (o *Ops) DeletePartition(caller auth.Caller, d *device.Device, reply ReplyFunc) error {
	attrs := d.Attrs()
	if !attrs.IsPartition {
		return errors.New(errors.NotPartition, "device is not a partition")
	}
	if d.IsMounted() {
		return errors.New(errors.Mounted, "partition is mounted")
	}
	slave, ok := o.Registry.Lookup(attrs.PartitionSlave)
	if !ok {
		return errors.New(errors.General, "enclosing device %q is not known", attrs.PartitionSlave)
	}

	argv := []string{o.Helpers.DeletePartition, attrs.DeviceFile, "rm", fmt.Sprintf("%d", attrs.PartitionNumber)}

	return o.start(caller, d, "delete-partition", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			reply(Reply{Err: err})
			return
		}
		announceChange(slave.NativePath())
		reply(Reply{})
	})
}

// ModifyPartition implements the ModifyPartition operation.
func (o *Ops) ModifyPartition(caller auth.Caller, d *device.Device, partType, label string, flags []string, reply ReplyFunc) error {
	attrs := d.Attrs()
	if !attrs.IsPartition {
		return errors.New(errors.NotPartition, "device is not a partition")
	}
	slave, ok := o.Registry.Lookup(attrs.PartitionSlave)
	if !ok {
		return errors.New(errors.General, "enclosing device %q is not known", attrs.PartitionSlave)
	}

	argv := []string{o.Helpers.ModifyPartition, attrs.DeviceFile, "modify", fmt.Sprintf("%d", attrs.PartitionNumber), partType, label}
	argv = append(argv, flags...)

	return o.start(caller, d, "modify-partition", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			reply(Reply{Err: err})
			return
		}
		announceChange(slave.NativePath())
		reply(Reply{})
	})
}

// CreatePartitionTable implements the CreatePartitionTable operation.
func (o *Ops) CreatePartitionTable(caller auth.Caller, d *device.Device, scheme string, options []string, reply ReplyFunc) error {
	if scheme == "" {
		return errors.New(errors.General, "partition table scheme is required")
	}

	if o.Registry != nil {
		busy, err := o.Registry.IsBusy(d.Attrs().DeviceFile)
		if err != nil {
			return errors.New(errors.General, "%v", err)
		}
		for _, p := range o.Registry.All() {
			if busy || p.Attrs().PartitionSlave != d.ObjectPath() {
				continue
			}
			if busy = p.IsMounted(); !busy {
				if busy, err = o.Registry.IsBusy(p.Attrs().DeviceFile); err != nil {
					return errors.New(errors.General, "%v", err)
				}
			}
		}
		if busy {
			return errors.New(errors.FilesystemBusy, "device has a busy partition")
		}
	}

	argv := []string{o.Helpers.CreatePartitionTable, d.Attrs().DeviceFile, "mklabel", scheme}
	argv = append(argv, options...)

	return o.start(caller, d, "create-partition-table", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			reply(Reply{Err: err})
			return
		}
		announceChange(d.NativePath())
		reply(Reply{})
	})
}

// CreateFilesystem implements the CreateFilesystem operation.
func (o *Ops) CreateFilesystem(caller auth.Caller, d *device.Device, fstype string, options []string, reply ReplyFunc) error {
	if d.IsMounted() {
		return errors.New(errors.Mounted, "device is mounted")
	}

	argv := []string{o.Helpers.Mkfs, "-t", fstype}
	argv = append(argv, options...)
	argv = append(argv, d.Attrs().DeviceFile)

	return o.start(caller, d, "create-filesystem", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			reply(Reply{Err: err})
			return
		}
		announceChange(d.NativePath())
		reply(Reply{})
	})
}

// CreatePartitionOptions bundles CreatePartition's many arguments.
type CreatePartitionOptions struct {
	Offset, Size uint64
	Type, Label  string
	Flags        []string
	Options      []string
	Fstype       string
	FsOptions    []string
}

// CreatePartition implements the CreatePartition operation
// together with the §4.6 waiter: on helper success it waits for the
// new partition to be reported added, then optionally formats it,
// before replying with the new object path.
func (o *Ops) CreatePartition(caller auth.Caller, d *device.Device, opts CreatePartitionOptions, reply ReplyFunc) error {
	if !d.Attrs().IsPartitionTable {
		return errors.New(errors.NotPartitioned, "device is not a partition table")
	}

	argv := []string{
		o.Helpers.CreatePartition, d.Attrs().DeviceFile, "mkpart",
		opts.Label, opts.Type,
		fmt.Sprintf("%d", opts.Offset), fmt.Sprintf("%d", opts.Offset+opts.Size),
	}
	argv = append(argv, opts.Options...)
	argv = append(argv, opts.Flags...)

	parentObjectPath := d.ObjectPath()

	return o.start(caller, d, "create-partition", argv, func(outcome job.Outcome, err error) {
		if err != nil {
			reply(Reply{Err: err})
			return
		}

		offset, size, err := waiter.ParseCreatePartitionTrailer(outcome.Stderr)
		if err != nil {
			reply(Reply{Err: err})
			return
		}

		go func() {
			newObjectPath, err := waiter.Wait(o.Registry, parentObjectPath, offset, size, waiter.Timeout)
			if err != nil {
				reply(Reply{Err: err})
				return
			}

			if opts.Fstype == "" {
				reply(Reply{NewObjectPath: newObjectPath})
				return
			}

			newDevice, ok := o.Registry.Lookup(newObjectPath)
			if !ok {
				reply(Reply{Err: errors.New(errors.General, "new partition %q vanished before formatting", newObjectPath)})
				return
			}

			_ = o.CreateFilesystem(caller, newDevice, opts.Fstype, opts.FsOptions, func(fsReply Reply) {
				if fsReply.Err != nil {
					reply(Reply{Err: fsReply.Err})
					return
				}
				reply(Reply{NewObjectPath: newObjectPath})
			})
		}()
	})
}

// announceChange writes "add" to nativePath's uevent file, forcing the
// kernel to re-emit a device event after a partitioning-table mutation.
func announceChange(nativePath string) {
	path := nativePath + "/uevent"
	_ = os.WriteFile(path, []byte("add"), 0o200)
}
