// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package dbusapi

import "github.com/godbus/dbus/v5/introspect"

// deviceInterfaceData describes org.blockdevd.Device1's methods and
// signals for introspection clients
// (dbus.Sender parameters are a godbus-internal convention and are not
// part of the wire signature, so they are omitted here).
var deviceInterfaceData = introspect.Interface{
	Name: deviceInterface,
	Methods: []introspect.Method{
		{
			Name: "Mount",
			Args: []introspect.Arg{
				{Name: "fstype", Type: "s", Direction: "in"},
				{Name: "options", Type: "as", Direction: "in"},
				{Name: "mount_path", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "Unmount",
			Args: []introspect.Arg{
				{Name: "options", Type: "as", Direction: "in"},
			},
		},
		{
			Name: "Erase",
			Args: []introspect.Arg{
				{Name: "options", Type: "as", Direction: "in"},
			},
		},
		{
			Name: "CreateFilesystem",
			Args: []introspect.Arg{
				{Name: "fstype", Type: "s", Direction: "in"},
				{Name: "options", Type: "as", Direction: "in"},
			},
		},
		{
			Name: "DeletePartition",
			Args: []introspect.Arg{
				{Name: "options", Type: "as", Direction: "in"},
			},
		},
		{
			Name: "CreatePartition",
			Args: []introspect.Arg{
				{Name: "offset", Type: "t", Direction: "in"},
				{Name: "size", Type: "t", Direction: "in"},
				{Name: "type", Type: "s", Direction: "in"},
				{Name: "label", Type: "s", Direction: "in"},
				{Name: "flags", Type: "as", Direction: "in"},
				{Name: "options", Type: "as", Direction: "in"},
				{Name: "fstype", Type: "s", Direction: "in"},
				{Name: "fsoptions", Type: "as", Direction: "in"},
				{Name: "new_object_path", Type: "o", Direction: "out"},
			},
		},
		{
			Name: "ModifyPartition",
			Args: []introspect.Arg{
				{Name: "type", Type: "s", Direction: "in"},
				{Name: "label", Type: "s", Direction: "in"},
				{Name: "flags", Type: "as", Direction: "in"},
			},
		},
		{
			Name: "CreatePartitionTable",
			Args: []introspect.Arg{
				{Name: "scheme", Type: "s", Direction: "in"},
				{Name: "options", Type: "as", Direction: "in"},
			},
		},
		{
			Name: "CancelJob",
		},
	},
	Signals: []introspect.Signal{
		{Name: "Changed"},
		{
			Name: "JobChanged",
			Args: []introspect.Arg{
				{Name: "in_progress", Type: "b"},
				{Name: "id", Type: "s"},
				{Name: "is_cancellable", Type: "b"},
				{Name: "num_tasks", Type: "i"},
				{Name: "cur_task", Type: "i"},
				{Name: "cur_task_id", Type: "s"},
				{Name: "cur_task_percentage", Type: "d"},
			},
		},
	},
}

// propertiesInterfaceData describes the standard
// org.freedesktop.DBus.Properties interface this package hand-rolls
// for each device (Get/GetAll); all device record fields are readable.
var propertiesInterfaceData = introspect.Interface{
	Name: "org.freedesktop.DBus.Properties",
	Methods: []introspect.Method{
		{
			Name: "Get",
			Args: []introspect.Arg{
				{Name: "interface", Type: "s", Direction: "in"},
				{Name: "property", Type: "s", Direction: "in"},
				{Name: "value", Type: "v", Direction: "out"},
			},
		},
		{
			Name: "GetAll",
			Args: []introspect.Arg{
				{Name: "interface", Type: "s", Direction: "in"},
				{Name: "properties", Type: "a{sv}", Direction: "out"},
			},
		},
	},
}
