// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package utils collects small, dependency-free filesystem and slice
// helpers shared across blockdevd.
package utils

import (
	"fmt"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"unsafe"

	"github.com/blockdevd/blockdevd/errors"
)

// MkdirAll is os.MkdirAll, but a no-op if path already exists.
func MkdirAll(path string, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return errors.Errorf("mkdir %s: %v", path, err)
	}

	return nil
}

// CopyFile copies src to dest, preserving src's permission bits.
func CopyFile(src string, dest string) error {
	destDir := filepath.Dir(dest)

	srcInfo, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("no such file: %s", src)
		}
		return errors.Wrap(err)
	}

	if _, err = os.Stat(destDir); err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("no such dest directory: %s", destDir)
		}
		return errors.Wrap(err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dest, data, srcInfo.Mode()&os.ModePerm)
}

// FileExists returns true if path exists.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// VerifyRootUser returns a non-empty message if the current process
// is not running as uid 0 — blockdevd, like the helpers it shells out
// to, requires root to read sysfs device nodes and mount filesystems.
func VerifyRootUser() string {
	progName := path.Base(os.Args[0])

	u, err := user.Current()
	if err != nil {
		return fmt.Sprintf("%s must run as root (could not determine current user: %v)", progName, err)
	}
	if u.Uid != "0" {
		return fmt.Sprintf("%s must run as root (running as uid %s)", progName, u.Uid)
	}
	return ""
}

// IsRoot reports whether the current user is uid 0.
func IsRoot() bool {
	u, err := user.Current()
	return err == nil && u.Uid == "0"
}

// StringSliceContains returns true if sl contains str.
func StringSliceContains(sl []string, str string) bool {
	for _, curr := range sl {
		if curr == str {
			return true
		}
	}
	return false
}

// IntSliceContains returns true if is contains value.
func IntSliceContains(is []int, value int) bool {
	for _, curr := range is {
		if curr == value {
			return true
		}
	}
	return false
}

// IsStdoutTTY returns true if stdout is attached to a tty.
func IsStdoutTTY() bool {
	var termios syscall.Termios

	fd := os.Stdout.Fd()
	ptr := uintptr(unsafe.Pointer(&termios))
	_, _, err := syscall.Syscall6(syscall.SYS_IOCTL, fd, syscall.TCGETS, ptr, 0, 0, 0)

	return err == 0
}

// ExpandVariables replaces every occurrence of ${var} or $var in str
// with its value, for every var in vars.
func ExpandVariables(vars map[string]string, str string) string {
	for k, v := range vars {
		for _, rep := range []string{fmt.Sprintf("$%s", k), fmt.Sprintf("${%s}", k)} {
			str = strings.Replace(str, rep, v, -1)
		}
	}
	return str
}
