// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package errors

import "fmt"

// Code is the RPC-visible error taxonomy a handler or job completion
// can report to a caller.
type Code int

const (
	// General is an otherwise unclassified failure; carries a free-form
	// message, frequently including a helper's stderr snippet.
	General Code = iota
	// NotSupported indicates the operation makes no sense for the device.
	NotSupported
	// NotMountable indicates the device has no recognizable filesystem.
	NotMountable
	// Mounted indicates an operation that requires an unmounted device
	// was attempted while it is mounted.
	Mounted
	// NotMounted indicates an operation that requires a mounted device
	// was attempted while it is not mounted.
	NotMounted
	// NotMountedByDeviceKit indicates Unmount was asked to tear down a
	// mount this daemon did not itself create.
	NotMountedByDeviceKit
	// FstabEntry indicates Mount refused because /etc/fstab already
	// names the device.
	FstabEntry
	// MountOptionNotAllowed indicates an option failed validator admission.
	MountOptionNotAllowed
	// FilesystemBusy is derived from helper stderr containing "device is busy".
	FilesystemBusy
	// CannotRemount indicates a remount was requested on a device that
	// is not currently mounted, or with a non-empty filesystem type.
	CannotRemount
	// UnmountOptionNotAllowed indicates an unrecognized unmount option.
	UnmountOptionNotAllowed
	// NoJobInProgress indicates CancelJob was called with no job running.
	NoJobInProgress
	// JobAlreadyInProgress indicates Start was called while a job is active.
	JobAlreadyInProgress
	// JobCannotBeCancelled indicates Cancel was called on a non-cancellable job.
	JobCannotBeCancelled
	// JobWasCancelled marks a completion caused by a successful CancelJob.
	JobWasCancelled
	// NotPartition indicates an operation required the device be a partition.
	NotPartition
	// NotPartitioned indicates an operation required the device be a
	// partition table and it is not.
	NotPartitioned
)

var codeNames = map[Code]string{
	General:                 "General",
	NotSupported:            "NotSupported",
	NotMountable:            "NotMountable",
	Mounted:                 "Mounted",
	NotMounted:              "NotMounted",
	NotMountedByDeviceKit:   "NotMountedByDeviceKit",
	FstabEntry:              "FstabEntry",
	MountOptionNotAllowed:   "MountOptionNotAllowed",
	FilesystemBusy:          "FilesystemBusy",
	CannotRemount:           "CannotRemount",
	UnmountOptionNotAllowed: "UnmountOptionNotAllowed",
	NoJobInProgress:         "NoJobInProgress",
	JobAlreadyInProgress:    "JobAlreadyInProgress",
	JobCannotBeCancelled:    "JobCannotBeCancelled",
	JobWasCancelled:         "JobWasCancelled",
	NotPartition:            "NotPartition",
	NotPartitioned:          "NotPartitioned",
}

// String returns the RPC-visible name of the error code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "General"
}

// DKError is the error type returned to RPC callers. Unlike
// TraceableError it carries no stack trace: the condition it reports
// is caused by caller input or device state, not an internal bug.
type DKError struct {
	Code    Code
	Message string
}

func (e DKError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a DKError with the given code and formatted message.
func New(code Code, format string, a ...interface{}) error {
	return DKError{Code: code, Message: fmt.Sprintf(format, a...)}
}

// AsDKError reports whether err is a DKError and returns it.
func AsDKError(err error) (DKError, bool) {
	dk, ok := err.(DKError)
	return dk, ok
}

// CodeOf returns err's Code if it is a DKError, else General.
func CodeOf(err error) Code {
	if dk, ok := AsDKError(err); ok {
		return dk.Code
	}
	return General
}
