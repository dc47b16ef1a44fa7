// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package loop

import (
	"sync"
	"testing"
	"time"

	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/notify"
	"github.com/blockdevd/blockdevd/registry"
)

type fakeProber struct {
	mu    sync.Mutex
	paths []string
	attrs device.Attrs
}

func (f *fakeProber) setPaths(paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = paths
}

func (f *fakeProber) Discover() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, len(f.paths))
	copy(paths, f.paths)
	return paths, nil
}

func (f *fakeProber) Probe(string) (device.Attrs, error) { return f.attrs, nil }

type recordingExporter struct {
	mu       sync.Mutex
	exported []string
}

func (e *recordingExporter) ExportDevice(d *device.Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exported = append(e.exported, d.ObjectPath())
	return nil
}

func (e *recordingExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.exported)
}

type recordingUnexporter struct{ unexported []string }

func (u *recordingUnexporter) Unexport(objectPath string) {
	u.unexported = append(u.unexported, objectPath)
}

func TestScanAddsAndRemovesDevices(t *testing.T) {
	prober := &fakeProber{attrs: device.Attrs{DeviceFile: "/dev/sda"}}
	prober.setPaths([]string{"/sys/block/sda"})

	reg := registry.New()
	exp := &recordingExporter{}
	unexp := &recordingUnexporter{}

	l := New(reg, prober, &notify.InMemory{}, exp, unexp)
	l.scan()

	if len(reg.All()) != 1 {
		t.Fatalf("registry has %d devices, want 1", len(reg.All()))
	}
	if exp.count() != 1 {
		t.Fatalf("exported %d devices, want 1", exp.count())
	}

	prober.setPaths(nil)
	l.scan()

	if len(reg.All()) != 0 {
		t.Fatalf("registry has %d devices after removal, want 0", len(reg.All()))
	}
	if len(unexp.unexported) != 1 {
		t.Fatalf("unexported %d devices, want 1", len(unexp.unexported))
	}
}

func TestScanIsIdempotentForKnownDevices(t *testing.T) {
	prober := &fakeProber{attrs: device.Attrs{DeviceFile: "/dev/sda"}}
	prober.setPaths([]string{"/sys/block/sda"})

	reg := registry.New()
	exp := &recordingExporter{}

	l := New(reg, prober, &notify.InMemory{}, exp, &recordingUnexporter{})
	l.scan()
	l.scan()

	if exp.count() != 1 {
		t.Fatalf("ExportDevice called %d times, want 1 (no re-export of a known device)", exp.count())
	}
}

func TestTriggerRescanWakesRun(t *testing.T) {
	prober := &fakeProber{attrs: device.Attrs{DeviceFile: "/dev/sdb"}}

	reg := registry.New()
	l := New(reg, prober, &notify.InMemory{}, nil, nil)
	l.Interval = time.Hour

	go l.Run()
	defer l.Stop()

	prober.setPaths([]string{"/sys/block/sdb"})
	l.TriggerRescan()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(reg.All()) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("TriggerRescan did not cause the new device to be registered")
}
