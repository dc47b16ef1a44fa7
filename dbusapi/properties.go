// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package dbusapi

import (
	"github.com/godbus/dbus/v5"
)

// allProperties builds the full property map for d, keyed by the
// device record's field names.
func (o *device1) allProperties() map[string]dbus.Variant {
	attrs := o.device.Attrs()
	job := o.device.Job()

	return map[string]dbus.Variant{
		"native_path":         dbus.MakeVariant(o.device.NativePath()),
		"device_file":         dbus.MakeVariant(attrs.DeviceFile),
		"device_file_by_id":   dbus.MakeVariant(attrs.DeviceFileByID),
		"device_file_by_path": dbus.MakeVariant(attrs.DeviceFileByPath),
		"object_path":         dbus.MakeVariant(o.device.ObjectPath()),

		"is_drive":           dbus.MakeVariant(attrs.IsDrive),
		"is_removable":       dbus.MakeVariant(attrs.IsRemovable),
		"is_media_available": dbus.MakeVariant(attrs.IsMediaAvailable),
		"size":               dbus.MakeVariant(attrs.Size),
		"block_size":         dbus.MakeVariant(attrs.BlockSize),

		"id_usage":   dbus.MakeVariant(attrs.IDUsage),
		"id_type":    dbus.MakeVariant(attrs.IDType),
		"id_version": dbus.MakeVariant(attrs.IDVersion),
		"id_uuid":    dbus.MakeVariant(attrs.IDUUID),
		"id_label":   dbus.MakeVariant(attrs.IDLabel),

		"drive_vendor":         dbus.MakeVariant(attrs.DriveVendor),
		"drive_model":          dbus.MakeVariant(attrs.DriveModel),
		"drive_revision":       dbus.MakeVariant(attrs.DriveRevision),
		"drive_serial":         dbus.MakeVariant(attrs.DriveSerial),
		"drive_connection_bus": dbus.MakeVariant(attrs.DriveConnectionBus),

		"is_partition":     dbus.MakeVariant(attrs.IsPartition),
		"partition_slave":  dbus.MakeVariant(attrs.PartitionSlave),
		"partition_scheme": dbus.MakeVariant(attrs.PartitionScheme),
		"partition_number": dbus.MakeVariant(attrs.PartitionNumber),
		"partition_offset": dbus.MakeVariant(attrs.PartitionOffset),
		"partition_size":   dbus.MakeVariant(attrs.PartitionSize),
		"partition_type":   dbus.MakeVariant(attrs.PartitionType),
		"partition_uuid":   dbus.MakeVariant(attrs.PartitionUUID),
		"partition_label":  dbus.MakeVariant(attrs.PartitionLabel),
		"partition_flags":  dbus.MakeVariant(attrs.PartitionFlags),

		"is_partition_table":         dbus.MakeVariant(attrs.IsPartitionTable),
		"partition_table_scheme":     dbus.MakeVariant(attrs.PartitionTableScheme),
		"partition_table_count":      dbus.MakeVariant(attrs.PartitionTableCount),
		"partition_table_max_number": dbus.MakeVariant(attrs.PartitionTableMaxNumber),
		"partition_table_offsets":    dbus.MakeVariant(attrs.PartitionTableOffsets),
		"partition_table_sizes":      dbus.MakeVariant(attrs.PartitionTableSizes),

		"is_mounted": dbus.MakeVariant(o.device.IsMounted()),
		"mount_path": dbus.MakeVariant(o.device.MountPath()),

		"in_progress":         dbus.MakeVariant(job.InProgress),
		"id":                  dbus.MakeVariant(job.ID),
		"is_cancellable":      dbus.MakeVariant(job.IsCancellable),
		"num_tasks":           dbus.MakeVariant(job.NumTasks),
		"cur_task":            dbus.MakeVariant(job.CurTask),
		"cur_task_id":         dbus.MakeVariant(job.CurTaskID),
		"cur_task_percentage": dbus.MakeVariant(job.CurTaskPercentage),
	}
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (o *device1) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	v, ok := o.allProperties()[property]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (o *device1) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return o.allProperties(), nil
}
