// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package mount

import (
	"fmt"
	"os"
	"path/filepath"
)

// maxNameAttempts bounds the number of numbered-suffix retries
// SelectMountPoint makes before giving up on name collisions.
const maxNameAttempts = 16

// BaseDir is the directory new mount points are created under. A var
// (not const) so tests can point it at a temporary directory.
var BaseDir = "/media"

// SelectMountPoint picks a non-colliding directory under BaseDir for a
// device with the given label/uuid, per spec §4.5: idLabel if set,
// else idUUID if set, else "disk"; on a name collision append "_" and
// retry, bounded at maxNameAttempts.
func SelectMountPoint(idLabel, idUUID string) (string, error) {
	base := "disk"
	switch {
	case idLabel != "":
		base = idLabel
	case idUUID != "":
		base = idUUID
	}

	candidate := base
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(BaseDir, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
		candidate += "_"
	}

	return "", fmt.Errorf("could not find an unused mount point under %s for %q after %d attempts", BaseDir, base, maxNameAttempts)
}

// EnsureMountDir creates path with mode 0700, the mode spec §4.5 requires.
func EnsureMountDir(path string) error {
	return os.MkdirAll(path, 0o700)
}
