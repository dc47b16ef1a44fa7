// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package loop is blockdevd's single-threaded cooperative event loop:
// one goroutine owns the registry and selects over a periodic sysfs
// rescan timer, a manual rescan request channel, and a shutdown
// done-channel. A device's "changed" publication during handler
// completion always happens on the device itself (see device.Device),
// synchronously before the RPC reply is written; this loop only owns
// device discovery — deciding when devices are added to or removed
// from the registry.
package loop

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/log"
	"github.com/blockdevd/blockdevd/registry"
)

// Prober is the subset of probe.Prober the loop needs: Discover lists
// every currently-present device/partition native path, Probe reads
// one of them into a device.Attrs.
type Prober interface {
	device.Prober
	Discover() ([]string, error)
}

// Unexporter removes a device from whatever transport exported it.
// dbusapi.Server implements this; kept as a narrow interface here so
// loop does not need to import dbusapi.
type Unexporter interface {
	Unexport(objectPath string)
}

// Exporter exports a newly discovered device onto the transport.
type Exporter interface {
	ExportDevice(d *device.Device) error
}

// DefaultInterval is how often the loop rescans sysfs for added or
// removed block devices absent any manual trigger.
const DefaultInterval = 2 * time.Second

// Loop owns sysfs device discovery for one Registry.
type Loop struct {
	Registry *registry.Registry
	Prober   Prober
	Notifier device.Notifier
	Exporter Exporter
	Unexport Unexporter

	// Interval overrides DefaultInterval for tests.
	Interval time.Duration

	rescan chan struct{}
	done   chan struct{}
}

// New returns a Loop ready to Run.
func New(reg *registry.Registry, prober Prober, notifier device.Notifier, exporter Exporter, unexporter Unexporter) *Loop {
	return &Loop{
		Registry: reg,
		Prober:   prober,
		Notifier: notifier,
		Exporter: exporter,
		Unexport: unexporter,
		Interval: DefaultInterval,
		rescan:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// TriggerRescan requests an immediate scan instead of waiting for the
// next tick. The operation handlers do not call it: after their
// announceChange, the new layout is picked up on the next tick.
func (l *Loop) TriggerRescan() {
	select {
	case l.rescan <- struct{}{}:
	default:
	}
}

// Stop ends Run's loop.
func (l *Loop) Stop() {
	close(l.done)
}

// Run blocks, driving the event loop until Stop is called. Intended to
// be launched as the single dedicated goroutine per spec §5; every
// registry mutation it performs happens on this one goroutine.
func (l *Loop) Run() {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.scan()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.scan()
		case <-l.rescan:
			l.scan()
		}
	}
}

// scan lists the current set of block devices, adds ones the registry
// does not yet know about, and removes ones that vanished.
func (l *Loop) scan() {
	nativePaths, err := l.Prober.Discover()
	if err != nil {
		log.Warning("loop: discover: %v", err)
		return
	}

	seen := map[string]bool{}
	for _, nativePath := range nativePaths {
		objectPath := device.ObjectPathFromNativePath(nativePath)
		seen[objectPath] = true

		if _, ok := l.Registry.Lookup(objectPath); ok {
			continue
		}

		d, err := l.addDevice(nativePath)
		if err != nil {
			log.Warning("loop: probe %s: %v", nativePath, err)
			continue
		}

		l.Registry.Add(d)
		if l.Exporter != nil {
			if err := l.Exporter.ExportDevice(d); err != nil {
				log.Warning("loop: export %s: %v", d.ObjectPath(), err)
			}
		}
		log.Info("loop: device added: %s", d.NativePath())
	}

	for _, d := range l.Registry.All() {
		if seen[d.ObjectPath()] {
			continue
		}
		l.Registry.Remove(d.ObjectPath())
		if l.Unexport != nil {
			l.Unexport.Unexport(d.ObjectPath())
		}
		log.Info("loop: device removed: %s", d.NativePath())
	}
}

// addDevice probes nativePath with a short retry/backoff, since a
// device node can appear in sysfs slightly before its attribute files
// (size, uevent) are fully populated by the kernel.
func (l *Loop) addDevice(nativePath string) (*device.Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	return backoff.Retry(ctx, func() (*device.Device, error) {
		return device.New(nativePath, l.Prober, l.Notifier)
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewConstantBackOff(50*time.Millisecond)))
}
