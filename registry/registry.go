// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package registry holds the set of DeviceRecords known to the daemon,
// keyed by object path and native path, and answers "is this device
// busy" beyond the simple is-mounted check by also looking for
// device-mapper/loop devices layered on top of it.
package registry

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/mountinfo"

	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/waiter"
)

// Registry is the daemon's in-memory device table.
type Registry struct {
	mu           sync.RWMutex
	byObjectPath map[string]*device.Device
	byNativePath map[string]*device.Device
	addedSubs    map[int]func(waiter.Candidate)
	nextSubID    int

	// SysClassBlock overrides "/sys/class/block" for tests.
	SysClassBlock string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byObjectPath:  map[string]*device.Device{},
		byNativePath:  map[string]*device.Device{},
		addedSubs:     map[int]func(waiter.Candidate){},
		SysClassBlock: "/sys/class/block",
	}
}

// Add registers d and notifies device-added subscribers (the waiter).
func (r *Registry) Add(d *device.Device) {
	r.mu.Lock()
	r.byObjectPath[d.ObjectPath()] = d
	r.byNativePath[d.NativePath()] = d
	subs := make([]func(waiter.Candidate), 0, len(r.addedSubs))
	for _, sub := range r.addedSubs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	attrs := d.Attrs()
	candidate := waiter.Candidate{
		ObjectPath:      d.ObjectPath(),
		IsPartition:     attrs.IsPartition,
		PartitionSlave:  attrs.PartitionSlave,
		PartitionOffset: attrs.PartitionOffset,
		PartitionSize:   attrs.PartitionSize,
	}
	for _, sub := range subs {
		sub(candidate)
	}
}

// Remove drops d from the registry.
func (r *Registry) Remove(objectPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byObjectPath[objectPath]; ok {
		delete(r.byNativePath, d.NativePath())
	}
	delete(r.byObjectPath, objectPath)
}

// Lookup finds a device by its object path.
func (r *Registry) Lookup(objectPath string) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byObjectPath[objectPath]
	return d, ok
}

// LookupByNativePath finds a device by its sysfs native path.
func (r *Registry) LookupByNativePath(nativePath string) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byNativePath[nativePath]
	return d, ok
}

// All returns every known device.
func (r *Registry) All() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]*device.Device, 0, len(r.byObjectPath))
	for _, d := range r.byObjectPath {
		devices = append(devices, d)
	}
	return devices
}

// SubscribeDeviceAdded implements waiter.Subscriber.
func (r *Registry) SubscribeDeviceAdded(handler func(waiter.Candidate)) func() {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.addedSubs[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.addedSubs, id)
		r.mu.Unlock()
	}
}

// IsBusy reports whether deviceFile is mounted directly, or is the
// backing device of a device-mapper/loop device that is itself
// mounted (a create-partition-table precondition: none of a device's
// partitions may be "busy" in this broader sense).
func (r *Registry) IsBusy(deviceFile string) (bool, error) {
	mounted, err := mountedFunc(deviceFile)
	if err != nil {
		return false, err
	}
	if mounted {
		return true, nil
	}

	holders, err := r.holderNames(deviceFile)
	if err != nil {
		return false, err
	}

	for _, holder := range holders {
		mounted, err := mountedFunc("/dev/" + holder)
		if err != nil {
			return false, err
		}
		if mounted {
			return true, nil
		}
	}

	return false, nil
}

// mountedFunc checks whether deviceFile is currently mounted. A var so
// tests can substitute a fake without a real mountinfo table.
var mountedFunc = isMounted

func isMounted(deviceFile string) (bool, error) {
	mounts, err := mountinfo.GetMounts(func(info *mountinfo.Info) (bool, bool) {
		return info.Source != deviceFile, false
	})
	if err != nil {
		return false, err
	}
	return len(mounts) > 0, nil
}

// holderNames lists the device-mapper/loop devices layered directly on
// top of deviceFile, read from /sys/class/block/<name>/holders.
func (r *Registry) holderNames(deviceFile string) ([]string, error) {
	name := filepath.Base(deviceFile)
	holdersDir := filepath.Join(r.SysClassBlock, name, "holders")

	entries, err := os.ReadDir(holdersDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
