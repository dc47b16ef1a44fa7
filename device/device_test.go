// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package device

import (
	"fmt"
	"testing"
)

type fakeProber struct {
	attrs Attrs
	err   error
}

func (f fakeProber) Probe(nativePath string) (Attrs, error) {
	return f.attrs, f.err
}

type fakeNotifier struct {
	changed    []string
	jobChanged []JobState
}

func (f *fakeNotifier) Changed(objectPath string) {
	f.changed = append(f.changed, objectPath)
}

func (f *fakeNotifier) JobChanged(objectPath string, job JobState) {
	f.jobChanged = append(f.jobChanged, job)
}

func TestObjectPathFromNativePath(t *testing.T) {
	tests := []struct {
		native string
		want   string
	}{
		{"/sys/devices/pci0000:00/0000:00:1f.2/ata1/host0/target0:0:0/0:0:0:0/block/sda", "/devices/sda"},
		{"/sys/devices/.../block/sda/sda-1", "/devices/sda_1"},
		{"noslash", "/devices/noslash"},
	}

	for _, curr := range tests {
		if got := ObjectPathFromNativePath(curr.native); got != curr.want {
			t.Errorf("ObjectPathFromNativePath(%q) = %q, want %q", curr.native, got, curr.want)
		}
	}
}

func TestObjectPathFromNativePathIdempotent(t *testing.T) {
	native := "/sys/block/dm-0"
	once := ObjectPathFromNativePath(native)
	twice := ObjectPathFromNativePath(once)
	if once != twice {
		t.Fatalf("transform is not idempotent: %q != %q", once, twice)
	}
}

func TestNewPopulatesFromProbe(t *testing.T) {
	notifier := &fakeNotifier{}
	prober := fakeProber{attrs: Attrs{
		DeviceFile: "/dev/sda1",
		IsDrive:    false,
		IDType:     "ext4",
		IDLabel:    "root",
	}}

	d, err := New("/sys/block/sda/sda1", prober, notifier)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	if d.DeviceFile() != "/dev/sda1" {
		t.Errorf("DeviceFile() = %q, want /dev/sda1", d.DeviceFile())
	}
	if d.IDType() != "ext4" {
		t.Errorf("IDType() = %q, want ext4", d.IDType())
	}
	if d.ObjectPath() != "/devices/sda1" {
		t.Errorf("ObjectPath() = %q, want /devices/sda1", d.ObjectPath())
	}

	job := d.Job()
	if job.InProgress || job.CurTaskPercentage != -1.0 {
		t.Errorf("new device should start with an idle job state, got %+v", job)
	}
}

func TestNewRejectsProbeError(t *testing.T) {
	prober := fakeProber{err: fmt.Errorf("boom")}
	if _, err := New("/sys/block/sda", prober, nil); err == nil {
		t.Fatal("New() with a failing probe should return an error")
	}
}

func TestNewRejectsPartitionAndTable(t *testing.T) {
	prober := fakeProber{attrs: Attrs{IsPartition: true, IsPartitionTable: true}}
	if _, err := New("/sys/block/sda/sda1", prober, nil); err == nil {
		t.Fatal("New() should reject a device that probes as both partition and partition table")
	}
}

func TestReloadPublishesChanged(t *testing.T) {
	notifier := &fakeNotifier{}
	prober := fakeProber{attrs: Attrs{IDLabel: "before"}}

	d, err := New("/sys/block/sda", prober, notifier)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	prober.attrs.IDLabel = "after"
	if err := d.Reload(prober); err != nil {
		t.Fatalf("Reload() = %v", err)
	}

	if d.IDLabel() != "after" {
		t.Fatalf("IDLabel() = %q, want after", d.IDLabel())
	}
	if len(notifier.changed) != 1 {
		t.Fatalf("expected exactly one Changed publication, got %d", len(notifier.changed))
	}
}

func TestMountLifecycle(t *testing.T) {
	notifier := &fakeNotifier{}
	d, err := New("/sys/block/sda/sda1", fakeProber{}, notifier)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	if d.IsMounted() {
		t.Fatal("newly constructed device should not be mounted")
	}

	d.SetMounted("/media/usb")
	if !d.IsMounted() || d.MountPath() != "/media/usb" {
		t.Fatalf("SetMounted did not take effect: mounted=%v path=%q", d.IsMounted(), d.MountPath())
	}

	d.ClearMounted()
	if d.IsMounted() || d.MountPath() != "" {
		t.Fatalf("ClearMounted did not take effect: mounted=%v path=%q", d.IsMounted(), d.MountPath())
	}

	if len(notifier.changed) != 2 {
		t.Fatalf("expected 2 Changed publications from mount lifecycle, got %d", len(notifier.changed))
	}
}

func TestJobLifecycle(t *testing.T) {
	notifier := &fakeNotifier{}
	d, err := New("/sys/block/sda", fakeProber{}, notifier)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	d.StartJob("job-1", true)
	job := d.Job()
	if !job.InProgress || job.ID != "job-1" || !job.IsCancellable {
		t.Fatalf("StartJob did not take effect: %+v", job)
	}

	d.UpdateJobProgress(2, 4, 0.5, "formatting")
	job = d.Job()
	if job.CurTask != 2 || job.NumTasks != 4 || job.CurTaskPercentage != 0.5 || job.CurTaskID != "formatting" {
		t.Fatalf("UpdateJobProgress did not take effect: %+v", job)
	}

	d.ClearJob()
	job = d.Job()
	if job.InProgress || job.CurTaskPercentage != -1.0 || job.NumTasks != 0 || job.CurTask != 0 {
		t.Fatalf("ClearJob did not return to idle: %+v", job)
	}

	if len(notifier.jobChanged) != 3 {
		t.Fatalf("expected 3 JobChanged publications, got %d", len(notifier.jobChanged))
	}
}
