// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package dbusapi

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/blockdevd/blockdevd/auth"
	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/ops"
)

// device1 is the exported org.blockdevd.Device1 object for one device.
// Every method is synchronous from the bus client's point of view: it
// blocks on the handler's asynchronous Reply and turns it into the
// method's D-Bus return values.
type device1 struct {
	conn   *dbus.Conn
	ops    *ops.Ops
	device *device.Device
}

func (o *device1) caller(sender dbus.Sender) (auth.Caller, *dbus.Error) {
	caller, err := callerFromSender(o.conn, sender)
	if err != nil {
		return auth.Caller{}, busError(fmt.Errorf("resolve caller: %w", err))
	}
	return caller, nil
}

// Mount implements Device1.Mount(fstype string, options []string) -> mount_path string.
func (o *device1) Mount(fstype string, options []string, sender dbus.Sender) (string, *dbus.Error) {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return "", cerr
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.Mount(caller, o.device, fstype, options, func(r ops.Reply) { result <- r }); err != nil {
		return "", busError(err)
	}
	r := <-result
	return r.MountPath, busError(r.Err)
}

// Unmount implements Device1.Unmount(options []string).
func (o *device1) Unmount(options []string, sender dbus.Sender) *dbus.Error {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return cerr
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.Unmount(caller, o.device, options, func(r ops.Reply) { result <- r }); err != nil {
		return busError(err)
	}
	r := <-result
	return busError(r.Err)
}

// Erase implements Device1.Erase(options []string).
func (o *device1) Erase(options []string, sender dbus.Sender) *dbus.Error {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return cerr
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.Erase(caller, o.device, options, func(r ops.Reply) { result <- r }); err != nil {
		return busError(err)
	}
	r := <-result
	return busError(r.Err)
}

// CreateFilesystem implements Device1.CreateFilesystem(fstype string, options []string).
func (o *device1) CreateFilesystem(fstype string, options []string, sender dbus.Sender) *dbus.Error {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return cerr
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.CreateFilesystem(caller, o.device, fstype, options, func(r ops.Reply) { result <- r }); err != nil {
		return busError(err)
	}
	r := <-result
	return busError(r.Err)
}

// DeletePartition implements Device1.DeletePartition(options []string).
// The helper contract names an "options" argument for symmetry with
// the other handlers; DeletePartition itself does not consume it.
func (o *device1) DeletePartition(options []string, sender dbus.Sender) *dbus.Error {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return cerr
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.DeletePartition(caller, o.device, func(r ops.Reply) { result <- r }); err != nil {
		return busError(err)
	}
	r := <-result
	return busError(r.Err)
}

// ModifyPartition implements Device1.ModifyPartition(type, label string, flags []string).
func (o *device1) ModifyPartition(partType, label string, flags []string, sender dbus.Sender) *dbus.Error {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return cerr
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.ModifyPartition(caller, o.device, partType, label, flags, func(r ops.Reply) { result <- r }); err != nil {
		return busError(err)
	}
	r := <-result
	return busError(r.Err)
}

// CreatePartitionTable implements Device1.CreatePartitionTable(scheme string, options []string).
func (o *device1) CreatePartitionTable(scheme string, options []string, sender dbus.Sender) *dbus.Error {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return cerr
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.CreatePartitionTable(caller, o.device, scheme, options, func(r ops.Reply) { result <- r }); err != nil {
		return busError(err)
	}
	r := <-result
	return busError(r.Err)
}

// CreatePartition implements Device1.CreatePartition:
// (offset, size uint64, type, label string, flags, options []string,
// fstype string, fsoptions []string) -> new_object_path string.
func (o *device1) CreatePartition(offset, size uint64, partType, label string, flags, options []string, fstype string, fsoptions []string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return "", cerr
	}

	opts := ops.CreatePartitionOptions{
		Offset: offset, Size: size,
		Type: partType, Label: label,
		Flags: flags, Options: options,
		Fstype: fstype, FsOptions: fsoptions,
	}

	result := make(chan ops.Reply, 1)
	if err := o.ops.CreatePartition(caller, o.device, opts, func(r ops.Reply) { result <- r }); err != nil {
		return "", busError(err)
	}
	r := <-result
	if r.Err != nil {
		return "", busError(r.Err)
	}
	return busPath(r.NewObjectPath), nil
}

// CancelJob implements Device1.CancelJob().
func (o *device1) CancelJob(sender dbus.Sender) *dbus.Error {
	caller, cerr := o.caller(sender)
	if cerr != nil {
		return cerr
	}
	return busError(o.ops.CancelJob(caller, o.device))
}
