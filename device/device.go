// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package device holds the canonical in-memory snapshot of one Linux
// block device: sysfs/probe derived identity and geometry, a
// partition-or-partition-table split, and the mutable mount/job
// fields owned exclusively by operation handlers and the job engine.
package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blockdevd/blockdevd/notify"
)

// Notifier and JobState are re-exported from package notify so callers
// that only deal in devices don't need a second import; dbusapi and the
// event loop use notify directly.
type (
	Notifier = notify.Notifier
	JobState = notify.JobState
)

// idleJobState is the job state group's value when no job is running
// (spec §3 invariant: cur_task_percentage == -1.0, num_tasks == cur_task == 0,
// id == cur_task_id == nil).
var idleJobState = JobState{CurTaskPercentage: -1.0}

// Attrs is the set of fields a Prober produces from sysfs plus the
// external probe. It excludes the mutable mount/job groups, which are
// owned by this package.
type Attrs struct {
	// Identity
	DeviceFile       string
	DeviceFileByID   []string
	DeviceFileByPath []string

	// Geometry
	IsDrive          bool
	IsRemovable      bool
	IsMediaAvailable bool
	Size             uint64
	BlockSize        uint64

	// Filesystem identity
	IDUsage   string
	IDType    string
	IDVersion string
	IDUUID    string
	IDLabel   string

	// Drive-only fields
	DriveVendor        string
	DriveModel         string
	DriveRevision      string
	DriveSerial        string
	DriveConnectionBus string

	// Partition (valid iff IsPartition)
	IsPartition     bool
	PartitionSlave  string // object path of the enclosing device
	PartitionScheme string
	PartitionNumber int
	PartitionOffset uint64
	PartitionSize   uint64
	PartitionType   string
	PartitionUUID   string
	PartitionLabel  string
	PartitionFlags  []string

	// Partition table (valid iff IsPartitionTable)
	IsPartitionTable        bool
	PartitionTableScheme    string
	PartitionTableCount     int
	PartitionTableMaxNumber int
	PartitionTableOffsets   []uint64
	PartitionTableSizes     []uint64
}

// Prober produces Attrs for a given sysfs native path. Implemented by
// package probe; kept as an interface here so device stays testable
// without touching the filesystem.
type Prober interface {
	Probe(nativePath string) (Attrs, error)
}

// Device is the canonical in-memory snapshot of one block device.
type Device struct {
	mu sync.RWMutex

	nativePath string
	objectPath string

	attrs Attrs

	isMounted bool
	mountPath string

	job JobState

	notifier Notifier
}

// ObjectPathFromNativePath derives the stable D-Bus-style object path
// from a sysfs native path: the basename with '-' mapped to '_',
// under /devices/. Idempotent: a basename with no '-' left is a fixed
// point of the transform.
func ObjectPathFromNativePath(nativePath string) string {
	base := nativePath
	if idx := strings.LastIndexByte(nativePath, '/'); idx >= 0 {
		base = nativePath[idx+1:]
	}
	return "/devices/" + strings.ReplaceAll(base, "-", "_")
}

// New constructs a Device for nativePath, running prober.Probe to
// populate it. Construction is aborted (device will not appear, per
// spec §3 Lifecycle) if the probe fails.
func New(nativePath string, prober Prober, notifier Notifier) (*Device, error) {
	attrs, err := prober.Probe(nativePath)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", nativePath, err)
	}

	d := &Device{
		nativePath: nativePath,
		objectPath: ObjectPathFromNativePath(nativePath),
		attrs:      attrs,
		job:        idleJobState,
		notifier:   notifier,
	}

	if d.attrs.IsPartition && d.attrs.IsPartitionTable {
		return nil, fmt.Errorf("%s: probe reported both partition and partition table", nativePath)
	}

	return d, nil
}

// Reload re-runs the probe against the device's native path, applied
// in response to an explicit "changed" trigger from the enclosing
// daemon (spec §3 Lifecycle item a).
func (d *Device) Reload(prober Prober) error {
	attrs, err := prober.Probe(d.nativePath)
	if err != nil {
		return fmt.Errorf("reprobe %s: %w", d.nativePath, err)
	}

	d.mu.Lock()
	d.attrs = attrs
	d.mu.Unlock()

	d.publishChanged()
	return nil
}

func (d *Device) publishChanged() {
	if d.notifier != nil {
		d.notifier.Changed(d.objectPath)
	}
}

func (d *Device) publishJobChanged() {
	if d.notifier != nil {
		d.mu.RLock()
		job := d.job
		d.mu.RUnlock()
		d.notifier.JobChanged(d.objectPath, job)
	}
}

// NativePath returns the device's sysfs path, its primary key.
func (d *Device) NativePath() string { return d.nativePath }

// ObjectPath returns the device's stable RPC object path.
func (d *Device) ObjectPath() string { return d.objectPath }

// Attrs returns a copy of the device's probed attributes.
func (d *Device) Attrs() Attrs {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs
}

// IsPartition reports whether the device is a partition.
func (d *Device) IsPartition() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.IsPartition
}

// IsPartitionTable reports whether the device is a partition table.
func (d *Device) IsPartitionTable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.IsPartitionTable
}

// PartitionSlave returns the object path of the enclosing device, or
// "" if this device is not a partition. It is a weak back-reference:
// resolve it through the registry's lookup, never store it as an owning pointer.
func (d *Device) PartitionSlave() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.PartitionSlave
}

// DeviceFile returns the device node path, e.g. /dev/sda1.
func (d *Device) DeviceFile() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.DeviceFile
}

// IDUsage returns the probed ID_FS_USAGE value ("filesystem", "", ...).
func (d *Device) IDUsage() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.IDUsage
}

// IDType returns the probed filesystem type (vfat, ext4, ...).
func (d *Device) IDType() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.IDType
}

// IDLabel returns the probed filesystem label.
func (d *Device) IDLabel() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.IDLabel
}

// IDUUID returns the probed filesystem UUID.
func (d *Device) IDUUID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attrs.IDUUID
}

// IsMounted reports whether mount state was set by a mount/unmount handler.
func (d *Device) IsMounted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isMounted
}

// MountPath returns the current mount path, or "" if not mounted.
// IsMounted() always agrees with MountPath() != "".
func (d *Device) MountPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mountPath
}

// SetMounted records that the device was mounted at path. Called only
// by the Mount operation handler on success.
func (d *Device) SetMounted(path string) {
	d.mu.Lock()
	d.isMounted = true
	d.mountPath = path
	d.mu.Unlock()
	d.publishChanged()
}

// ClearMounted records that the device is no longer mounted. Called
// only by the Unmount operation handler on success.
func (d *Device) ClearMounted() {
	d.mu.Lock()
	d.isMounted = false
	d.mountPath = ""
	d.mu.Unlock()
	d.publishChanged()
}

// Job returns a copy of the current job-state fields.
func (d *Device) Job() JobState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.job
}

// StartJob records that a job has begun. Called only by the job
// engine's Idle->Running transition.
func (d *Device) StartJob(id string, cancellable bool) {
	d.mu.Lock()
	d.job = JobState{
		InProgress:        true,
		ID:                id,
		IsCancellable:     cancellable,
		CurTaskPercentage: -1.0,
	}
	d.mu.Unlock()
	d.publishJobChanged()
}

// UpdateJobProgress records a parsed "progress: cur num pct id" line.
func (d *Device) UpdateJobProgress(curTask, numTasks int, percentage float64, taskID string) {
	d.mu.Lock()
	d.job.CurTask = curTask
	d.job.NumTasks = numTasks
	d.job.CurTaskPercentage = percentage
	d.job.CurTaskID = taskID
	d.mu.Unlock()
	d.publishJobChanged()
}

// ClearJob returns the job-state fields to idle. Called only by the
// job engine's Running|Cancelling->Idle transition.
func (d *Device) ClearJob() {
	d.mu.Lock()
	d.job = idleJobState
	d.mu.Unlock()
	d.publishJobChanged()
}
