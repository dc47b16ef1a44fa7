// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package dbusapi

import "testing"

func TestBusPathStripsDevicesPrefix(t *testing.T) {
	got := busPath("/devices/sda1")
	want := "/org/blockdevd/Devices/sda1"
	if string(got) != want {
		t.Fatalf("busPath() = %q, want %q", got, want)
	}
}

func TestBusPathRoundTripsObjectPathFromNativePath(t *testing.T) {
	// device.ObjectPathFromNativePath maps '-' to '_' in the basename;
	// busPath must not re-interpret that, just relocate the tree root.
	got := busPath("/devices/dm_0")
	want := "/org/blockdevd/Devices/dm_0"
	if string(got) != want {
		t.Fatalf("busPath() = %q, want %q", got, want)
	}
}
