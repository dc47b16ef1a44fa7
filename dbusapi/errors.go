// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package dbusapi

import (
	"github.com/godbus/dbus/v5"

	"github.com/blockdevd/blockdevd/errors"
)

// busErrorNames maps a DKError Code to the D-Bus error name clients
// match on, mirroring UDisks2's per-operation error enum as dotted
// org.blockdevd.Error names.
var busErrorNames = map[errors.Code]string{
	errors.General:                 "org.blockdevd.Error.Failed",
	errors.NotSupported:            "org.blockdevd.Error.NotSupported",
	errors.NotMountable:            "org.blockdevd.Error.NotMountable",
	errors.NotMounted:              "org.blockdevd.Error.NotMounted",
	errors.Mounted:                 "org.blockdevd.Error.Mounted",
	errors.NotMountedByDeviceKit:   "org.blockdevd.Error.NotMountedByDeviceKit",
	errors.NotPartition:            "org.blockdevd.Error.NotPartition",
	errors.NotPartitioned:          "org.blockdevd.Error.NotPartitioned",
	errors.FstabEntry:              "org.blockdevd.Error.FstabEntry",
	errors.CannotRemount:           "org.blockdevd.Error.CannotRemount",
	errors.MountOptionNotAllowed:   "org.blockdevd.Error.MountOptionNotAllowed",
	errors.UnmountOptionNotAllowed: "org.blockdevd.Error.UnmountOptionNotAllowed",
	errors.FilesystemBusy:          "org.blockdevd.Error.FilesystemBusy",
	errors.JobAlreadyInProgress:    "org.blockdevd.Error.JobAlreadyInProgress",
	errors.NoJobInProgress:         "org.blockdevd.Error.NoJobInProgress",
	errors.JobCannotBeCancelled:    "org.blockdevd.Error.JobCannotBeCancelled",
	errors.JobWasCancelled:         "org.blockdevd.Error.JobWasCancelled",
}

// busError converts err, as returned by an ops handler, into the
// *dbus.Error a D-Bus method reply carries. nil passes through as nil
// so call sites can use it directly as a method's trailing return.
func busError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name, ok := busErrorNames[errors.CodeOf(err)]
	if !ok {
		name = "org.blockdevd.Error.Failed"
	}
	return dbus.NewError(name, []interface{}{err.Error()})
}
