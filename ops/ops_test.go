// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package ops

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blockdevd/blockdevd/auth"
	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/errors"
	"github.com/blockdevd/blockdevd/ledger"
	"github.com/blockdevd/blockdevd/mount"
	"github.com/blockdevd/blockdevd/registry"
)

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// writeScript writes an executable shell script to dir/name that runs
// body and exits 0, returning its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

type fakeProber struct {
	attrs device.Attrs
}

func (f fakeProber) Probe(string) (device.Attrs, error) { return f.attrs, nil }

type fakeGroupResolver struct{}

func (fakeGroupResolver) PrimaryGID(uid int) (int, bool) { return uid, true }
func (fakeGroupResolver) IsMember(uid, gid int) bool     { return uid == gid }

func newTestOps(t *testing.T) *Ops {
	t.Helper()

	l, err := ledger.Open("")
	if err != nil {
		t.Fatalf("ledger.Open() = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	oldBaseDir := mount.BaseDir
	mount.BaseDir = t.TempDir()
	t.Cleanup(func() { mount.BaseDir = oldBaseDir })

	table, err := mount.DefaultTable()
	if err != nil {
		t.Fatalf("mount.DefaultTable() = %v", err)
	}

	return &Ops{
		Registry:      registry.New(),
		Auth:          auth.RootOnly{},
		Ledger:        l,
		PolicyTable:   table,
		GroupResolver: fakeGroupResolver{},
		Helpers: HelperPaths{
			Mount:                "true",
			Umount:               "true",
			Erase:                "true",
			Mkfs:                 "true",
			CreatePartition:      "true",
			DeletePartition:      "true",
			ModifyPartition:      "true",
			CreatePartitionTable: "true",
		},
	}
}

func newTestDevice(t *testing.T, nativePath string, attrs device.Attrs) *device.Device {
	t.Helper()
	d, err := device.New(nativePath, fakeProber{attrs: attrs}, nil)
	if err != nil {
		t.Fatalf("device.New() = %v", err)
	}
	return d
}

func awaitReply(t *testing.T) (func(Reply), func() Reply) {
	t.Helper()
	done := make(chan Reply, 1)
	return func(r Reply) { done <- r }, func() Reply {
		select {
		case r := <-done:
			return r
		case <-time.After(2 * time.Second):
			t.Fatal("reply was not delivered in time")
			return Reply{}
		}
	}
}

func TestMountSuccess(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{
		DeviceFile: "/dev/sdb1",
		IDUsage:    "filesystem",
		IDType:     "vfat",
		IDLabel:    "USB",
	})

	reply, await := awaitReply(t)
	if err := o.Mount(auth.Caller{UID: 1000}, d, "vfat", nil, reply); err != nil {
		t.Fatalf("Mount() = %v", err)
	}

	r := await()
	if r.Err != nil {
		t.Fatalf("Mount() reply error = %v", r.Err)
	}
	if !d.IsMounted() || d.MountPath() != r.MountPath {
		t.Fatalf("device mount state not updated: mounted=%v path=%q reply=%q", d.IsMounted(), d.MountPath(), r.MountPath)
	}

	entry, found, err := o.Ledger.HasDevice("/dev/sdb1")
	if err != nil {
		t.Fatalf("HasDevice() = %v", err)
	}
	if !found || entry.UID != 1000 {
		t.Fatalf("ledger entry = %+v, found=%v", entry, found)
	}
}

func TestMountRejectsNonFilesystem(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{DeviceFile: "/dev/sdb1"})

	reply, _ := awaitReply(t)
	err := o.Mount(auth.Caller{UID: 1000}, d, "vfat", nil, reply)
	if errors.CodeOf(err) != errors.NotMountable {
		t.Fatalf("Mount() on non-filesystem = %v, want NotMountable", err)
	}
}

func TestMountRejectsAlreadyMounted(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{
		DeviceFile: "/dev/sdb1",
		IDUsage:    "filesystem",
	})
	d.SetMounted("/media/USB")

	reply, _ := awaitReply(t)
	err := o.Mount(auth.Caller{UID: 1000}, d, "vfat", nil, reply)
	if errors.CodeOf(err) != errors.Mounted {
		t.Fatalf("Mount() on mounted device = %v, want Mounted", err)
	}
}

func TestUnmountSuccess(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{
		DeviceFile: "/dev/sdb1",
		IDUsage:    "filesystem",
	})
	d.SetMounted("/media/USB")
	if err := o.Ledger.Add("/dev/sdb1", ledger.Entry{UID: 1000, RemoveDirOnUnmount: false}); err != nil {
		t.Fatalf("Ledger.Add() = %v", err)
	}

	reply, await := awaitReply(t)
	if err := o.Unmount(auth.Caller{UID: 1000}, d, nil, reply); err != nil {
		t.Fatalf("Unmount() = %v", err)
	}

	r := await()
	if r.Err != nil {
		t.Fatalf("Unmount() reply error = %v", r.Err)
	}
	if d.IsMounted() {
		t.Fatal("device should no longer be mounted")
	}
	if _, found, _ := o.Ledger.HasDevice("/dev/sdb1"); found {
		t.Fatal("ledger entry should have been removed")
	}
}

func TestUnmountRequiresAuthForOthersEntry(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{
		DeviceFile: "/dev/sdb1",
		IDUsage:    "filesystem",
	})
	d.SetMounted("/media/USB")
	if err := o.Ledger.Add("/dev/sdb1", ledger.Entry{UID: 1000}); err != nil {
		t.Fatalf("Ledger.Add() = %v", err)
	}

	reply, _ := awaitReply(t)
	err := o.Unmount(auth.Caller{UID: 2000}, d, nil, reply)
	if err == nil {
		t.Fatal("Unmount() by a different uid without grant should fail")
	}
}

func TestUnmountRejectsNotMounted(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{DeviceFile: "/dev/sdb1"})

	reply, _ := awaitReply(t)
	err := o.Unmount(auth.Caller{UID: 1000}, d, nil, reply)
	if errors.CodeOf(err) != errors.NotMounted {
		t.Fatalf("Unmount() on unmounted device = %v, want NotMounted", err)
	}
}

func TestUnmountRejectsUnknownOption(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{
		DeviceFile: "/dev/sdb1",
		IDUsage:    "filesystem",
	})
	d.SetMounted("/media/USB")
	if err := o.Ledger.Add("/dev/sdb1", ledger.Entry{UID: 1000}); err != nil {
		t.Fatalf("Ledger.Add() = %v", err)
	}

	reply, _ := awaitReply(t)
	err := o.Unmount(auth.Caller{UID: 1000}, d, []string{"ro"}, reply)
	if errors.CodeOf(err) != errors.UnmountOptionNotAllowed {
		t.Fatalf("Unmount() with unknown option = %v, want UnmountOptionNotAllowed", err)
	}
}

func TestEraseRejectsMounted(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb", device.Attrs{DeviceFile: "/dev/sdb"})
	d.SetMounted("/media/x")

	reply, _ := awaitReply(t)
	err := o.Erase(auth.Caller{UID: 1000}, d, nil, reply)
	if errors.CodeOf(err) != errors.Mounted {
		t.Fatalf("Erase() on mounted device = %v, want Mounted", err)
	}
}

func TestEraseSuccess(t *testing.T) {
	o := newTestOps(t)
	sysDir := t.TempDir()
	nativePath := sysDir + "/sdb"
	if err := writeFile(nativePath+"/uevent", ""); err != nil {
		t.Fatal(err)
	}
	d := newTestDevice(t, nativePath, device.Attrs{DeviceFile: "/dev/sdb"})

	reply, await := awaitReply(t)
	if err := o.Erase(auth.Caller{UID: 1000}, d, nil, reply); err != nil {
		t.Fatalf("Erase() = %v", err)
	}
	if r := await(); r.Err != nil {
		t.Fatalf("Erase() reply error = %v", r.Err)
	}
}

func TestDeletePartitionRequiresKnownEnclosingDevice(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{
		DeviceFile:     "/dev/sdb1",
		IsPartition:    true,
		PartitionSlave: "/devices/sdb",
	})

	reply, _ := awaitReply(t)
	err := o.DeletePartition(auth.Caller{UID: 1000}, d, reply)
	if errors.CodeOf(err) != errors.General {
		t.Fatalf("DeletePartition() with unknown enclosing device = %v, want General", err)
	}
}

func TestDeletePartitionSuccess(t *testing.T) {
	o := newTestOps(t)
	sysDir := t.TempDir()
	enclosingPath := sysDir + "/sdb"
	if err := writeFile(enclosingPath+"/uevent", ""); err != nil {
		t.Fatal(err)
	}
	enclosing := newTestDevice(t, enclosingPath, device.Attrs{DeviceFile: "/dev/sdb", IsPartitionTable: true})
	o.Registry.Add(enclosing)

	d := newTestDevice(t, sysDir+"/sdb/sdb1", device.Attrs{
		DeviceFile:      "/dev/sdb1",
		IsPartition:     true,
		PartitionSlave:  enclosing.ObjectPath(),
		PartitionNumber: 1,
	})

	reply, await := awaitReply(t)
	if err := o.DeletePartition(auth.Caller{UID: 1000}, d, reply); err != nil {
		t.Fatalf("DeletePartition() = %v", err)
	}
	if r := await(); r.Err != nil {
		t.Fatalf("DeletePartition() reply error = %v", r.Err)
	}
}

func TestCreatePartitionTableSucceedsWhenNotBusy(t *testing.T) {
	o := newTestOps(t)
	o.Registry.SysClassBlock = t.TempDir()
	d := newTestDevice(t, "/sys/block/sdb", device.Attrs{DeviceFile: "/dev/sdb-nonexistent-test-device"})

	reply, await := awaitReply(t)
	if err := o.CreatePartitionTable(auth.Caller{UID: 1000}, d, "gpt", nil, reply); err != nil {
		t.Fatalf("CreatePartitionTable() = %v", err)
	}
	if r := await(); r.Err != nil {
		t.Fatalf("CreatePartitionTable() reply error = %v", r.Err)
	}
}

func TestCreatePartitionTableRequiresScheme(t *testing.T) {
	o := newTestOps(t)
	d := newTestDevice(t, "/sys/block/sdb", device.Attrs{DeviceFile: "/dev/sdb"})

	reply, _ := awaitReply(t)
	err := o.CreatePartitionTable(auth.Caller{UID: 1000}, d, "", nil, reply)
	if errors.CodeOf(err) != errors.General {
		t.Fatalf("CreatePartitionTable() without scheme = %v, want General", err)
	}
}

func TestCreateFilesystemSuccess(t *testing.T) {
	o := newTestOps(t)
	sysDir := t.TempDir()
	nativePath := sysDir + "/sdb1"
	if err := writeFile(nativePath+"/uevent", ""); err != nil {
		t.Fatal(err)
	}
	d := newTestDevice(t, nativePath, device.Attrs{DeviceFile: "/dev/sdb1"})

	reply, await := awaitReply(t)
	if err := o.CreateFilesystem(auth.Caller{UID: 1000}, d, "vfat", nil, reply); err != nil {
		t.Fatalf("CreateFilesystem() = %v", err)
	}
	if r := await(); r.Err != nil {
		t.Fatalf("CreateFilesystem() reply error = %v", r.Err)
	}
}

func TestCancelJobRequiresOwnerOrGrant(t *testing.T) {
	o := newTestOps(t)
	o.Helpers.Erase = "sleep"
	// Erase's argv is [helper, options..., device_file]; using the
	// device file slot to carry sleep's numeric argument keeps this a
	// real long-running job without a throwaway fixture script.
	d := newTestDevice(t, "/sys/block/sdb", device.Attrs{DeviceFile: "2"})

	reply, done := awaitReply(t)
	if err := o.Erase(auth.Caller{UID: 1000}, d, nil, reply); err != nil {
		t.Fatalf("Erase() = %v", err)
	}
	defer done()

	if err := o.CancelJob(auth.Caller{UID: 2000}, d); err == nil {
		t.Fatal("CancelJob() by a different uid without grant should fail")
	}

	if err := o.CancelJob(auth.Caller{UID: 1000}, d); err != nil {
		t.Fatalf("CancelJob() by the owning uid = %v", err)
	}
}

func TestCreatePartitionWaitsForNewDevice(t *testing.T) {
	o := newTestOps(t)
	o.Helpers.CreatePartition = writeScript(t, t.TempDir(), "parted-fixture",
		`printf 'job-create-partition-offset: 2048\njob-create-partition-size: 1024\n' >&2`)

	parent := newTestDevice(t, "/sys/block/sdb", device.Attrs{DeviceFile: "/dev/sdb", IsPartitionTable: true})
	o.Registry.Add(parent)

	var mu sync.Mutex
	done := make(chan Reply, 1)
	reply := func(r Reply) {
		mu.Lock()
		defer mu.Unlock()
		done <- r
	}

	opts := CreatePartitionOptions{
		Offset: 2048,
		Size:   1024,
		Type:   "primary",
		Label:  "data",
	}

	if err := o.CreatePartition(auth.Caller{UID: 1000}, parent, opts, reply); err != nil {
		t.Fatalf("CreatePartition() = %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		child := newTestDevice(t, "/sys/block/sdb/sdb1", device.Attrs{
			DeviceFile:      "/dev/sdb1",
			IsPartition:     true,
			PartitionSlave:  parent.ObjectPath(),
			PartitionOffset: 2048,
			PartitionSize:   1024,
		})
		o.Registry.Add(child)
	}()

	select {
	case r := <-done:
		if r.Err != nil {
			t.Fatalf("CreatePartition() reply error = %v", r.Err)
		}
		if r.NewObjectPath == "" {
			t.Fatal("CreatePartition() reply missing NewObjectPath")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("CreatePartition() did not reply in time")
	}
}
