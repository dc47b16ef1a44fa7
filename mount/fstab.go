// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package mount

import (
	"bufio"
	"io"
	"path/filepath"
	"strings"
)

// canonicalize resolves symlinks for both sides of the comparison so a
// device reached through /dev/disk/by-uuid/... matches its /dev/sdXN
// fstab entry. Falls back to the raw path when it cannot be resolved
// (e.g. the device node does not exist, as in tests).
func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

// HasFstabEntry reports whether deviceFile (e.g. "/dev/sda1") appears
// as the first field of an fstab line, comparing canonicalized paths
// so symlinked spellings of the same device still match.
func HasFstabEntry(fstab io.Reader, deviceFile string) bool {
	target := canonicalize(deviceFile)

	scanner := bufio.NewScanner(fstab)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if canonicalize(fields[0]) == target {
			return true
		}
	}

	return false
}
