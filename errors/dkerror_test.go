// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package errors

import "testing"

func TestDKErrorString(t *testing.T) {
	err := New(MountOptionNotAllowed, "option %q contains a comma", "uid=1000,gid=1000")

	dk, ok := AsDKError(err)
	if !ok {
		t.Fatal("New() should return a DKError")
	}

	if dk.Code != MountOptionNotAllowed {
		t.Fatalf("expected code %s, got %s", MountOptionNotAllowed, dk.Code)
	}

	want := "MountOptionNotAllowed: option \"uid=1000,gid=1000\" contains a comma"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCodeOfDefaultsToGeneral(t *testing.T) {
	if CodeOf(Errorf("boom")) != General {
		t.Fatal("CodeOf() should default to General for non-DKError values")
	}
}

func TestUnknownCodeStringsAsGeneral(t *testing.T) {
	var c Code = 999
	if c.String() != "General" {
		t.Fatalf("unknown code should print as General, got %s", c.String())
	}
}
