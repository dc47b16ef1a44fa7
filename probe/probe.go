// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package probe populates a device.Attrs from a block device's sysfs
// native path: its own sysfs attribute files for geometry and
// partition/table detection, the external blkid helper for filesystem
// identity, and ghw for drive vendor/model/serial enrichment.
package probe

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"github.com/jaypipes/ghw"

	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/executil"
	"github.com/blockdevd/blockdevd/log"
)

// blkidPath is the external probe helper invoked to read filesystem
// identity. A var so tests can point it at a stub.
var blkidPath = "blkid"

// Prober implements device.Prober against the real filesystem, /sys
// and the external blkid helper.
type Prober struct {
	// SysfsRoot overrides "/sys" for tests.
	SysfsRoot string
}

// New returns a Prober rooted at the real /sys.
func New() *Prober {
	return &Prober{SysfsRoot: "/sys"}
}

// Discover enumerates the native paths of every block device and
// partition under SysfsRoot/block, the set the daemon's loop probes on
// every rescan.
func (p *Prober) Discover() ([]string, error) {
	blockDir := filepath.Join(p.SysfsRoot, "block")

	entries, err := os.ReadDir(blockDir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		drivePath := filepath.Join(blockDir, entry.Name())
		paths = append(paths, drivePath)

		children, err := os.ReadDir(drivePath)
		if err != nil {
			log.Debug("reading %s: %v", drivePath, err)
			continue
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			childPath := filepath.Join(drivePath, child.Name())
			if _, ok := sysfsRead(childPath, "start"); ok {
				paths = append(paths, childPath)
			}
		}
	}

	return paths, nil
}

// Probe reads nativePath's sysfs attributes, runs blkid against its
// device node, and (for drives) enriches with ghw's block info.
func (p *Prober) Probe(nativePath string) (device.Attrs, error) {
	var a device.Attrs

	deviceFile, err := deviceFileForNativePath(nativePath)
	if err != nil {
		return a, err
	}
	a.DeviceFile = deviceFile

	name := filepath.Base(nativePath)

	a.IsRemovable = sysfsBool(nativePath, "removable")
	a.Size = sysfsUint64(nativePath, "size") * 512 // sysfs "size" is in 512-byte sectors
	a.IsMediaAvailable = a.Size > 0

	if blockSize, err := blockSizeFor(deviceFile); err == nil {
		a.BlockSize = blockSize
	}

	if partitionAttrs, ok := probePartition(nativePath); ok {
		a.IsPartition = true
		a.PartitionSlave = device.ObjectPathFromNativePath(filepath.Dir(nativePath))
		a.PartitionNumber = partitionAttrs.number
		a.PartitionOffset = partitionAttrs.offset * 512
		a.PartitionSize = partitionAttrs.size * 512
	} else {
		a.IsDrive = true
	}

	if fsAttrs, err := probeBlkid(deviceFile); err == nil {
		a.IDUsage = fsAttrs["USAGE"]
		a.IDType = fsAttrs["TYPE"]
		a.IDVersion = fsAttrs["VERSION"]
		a.IDUUID = fsAttrs["UUID"]
		a.IDLabel = fsAttrs["LABEL"]
		a.PartitionScheme = fsAttrs["PART_ENTRY_SCHEME"]
		a.PartitionType = fsAttrs["PART_ENTRY_TYPE"]
		a.PartitionUUID = fsAttrs["PART_ENTRY_UUID"]
		a.PartitionLabel = fsAttrs["PART_ENTRY_NAME"]
		if scheme := fsAttrs["PTTYPE"]; scheme != "" {
			a.IsPartitionTable = true
			a.PartitionTableScheme = scheme
		}
	} else {
		log.Debug("blkid probe of %s: %v", deviceFile, err)
	}

	if a.IsDrive {
		enrichFromGHW(name, &a)
	}

	return a, nil
}

// deviceFileForNativePath derives /dev/<name> from a sysfs native
// path. Real udisks-family daemons resolve this through the udev
// database; here the block device's own directory name is authoritative.
func deviceFileForNativePath(nativePath string) (string, error) {
	name := filepath.Base(nativePath)
	return "/dev/" + name, nil
}

func sysfsRead(nativePath, attr string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(nativePath, attr))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// sysfsUint64 reads a sysfs attribute as uint64, defaulting to 0 if the
// attribute file is absent or does not parse — "0" and "absent" read
// the same here and at the Attrs boundary; only sysfsRead's bool
// return tells them apart.
func sysfsUint64(nativePath, attr string) uint64 {
	str, ok := sysfsRead(nativePath, attr)
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func sysfsBool(nativePath, attr string) bool {
	str, ok := sysfsRead(nativePath, attr)
	return ok && str == "1"
}

type partitionAttrs struct {
	number int
	offset uint64
	size   uint64
}

// probePartition reports whether nativePath is a partition: it has a
// "start" attribute, which only partition sysfs directories carry.
func probePartition(nativePath string) (partitionAttrs, bool) {
	startStr, ok := sysfsRead(nativePath, "start")
	if !ok {
		return partitionAttrs{}, false
	}

	offset, _ := strconv.ParseUint(startStr, 10, 64)
	size := sysfsUint64(nativePath, "size")

	number := partitionNumberFromName(filepath.Base(nativePath))

	return partitionAttrs{number: number, offset: offset, size: size}, true
}

// partitionNumberFromName extracts the trailing digits of a partition
// device name, e.g. "sda1" -> 1, "nvme0n1p3" -> 3.
func partitionNumberFromName(name string) int {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return 0
	}
	return n
}

// blockSizeFor issues BLKSSZGET against the device node to read its
// logical sector size via a raw ioctl rather than a cgo wrapper.
func blockSizeFor(deviceFile string) (uint64, error) {
	const blkssZget = 0x1268 // BLKSSZGET

	f, err := os.Open(deviceFile)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	var size int
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), uintptr(blkssZget), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return uint64(size), nil
}

type blkidOutput struct {
	fields map[string]string
}

func (b *blkidOutput) Process(line string) {
	k, v, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	b.fields[k] = v
}

// probeBlkid runs `blkid --probe --output export` against deviceFile
// and returns its KEY=VALUE lines as a map.
func probeBlkid(deviceFile string) (map[string]string, error) {
	out := &blkidOutput{fields: map[string]string{}}
	if err := executil.RunAndProcessOutput(out, blkidPath, "--probe", "--output", "export", deviceFile); err != nil {
		return nil, err
	}
	return out.fields, nil
}

// enrichFromGHW fills in drive vendor/model/serial/connection-bus
// fields from ghw's block info, matched by device name. Best effort:
// a miss leaves the drive fields at their zero value.
func enrichFromGHW(name string, a *device.Attrs) {
	info, err := ghw.Block()
	if err != nil {
		log.Debug("ghw block enrichment unavailable: %v", err)
		return
	}

	for _, disk := range info.Disks {
		if disk.Name != name {
			continue
		}
		a.DriveVendor = disk.Vendor
		a.DriveModel = disk.Model
		a.DriveSerial = disk.SerialNumber
		a.DriveConnectionBus = disk.BusType.String()
		return
	}
}

// scanLines is a small helper shared by tests that feed canned blkid
// export output through the same Process path as executil.RunAndProcessOutput.
func scanLines(r *bytes.Buffer, out *blkidOutput) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out.Process(scanner.Text())
	}
}
