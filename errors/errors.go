// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package errors provides the two error shapes used across blockdevd:
// a TraceableError for unexpected internal failures (carries a call
// trace for diagnostics) and a ValidationError/DKError for conditions
// the caller caused and that are reported verbatim, without a trace.
package errors

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// TraceableError is an internal error used to carry trace details
// to be shared across the multiple layers and reporting facilities
type TraceableError struct {
	Trace string
	When  time.Time
	What  string
}

// ValidationError is a type of error used to report model or any general condition
// validation error. We don't deal this error as a regular error i.e panic`ing, showing
// the error stack trace and exiting with a non zero code, otherwise, we do show
// a nicely formatted and user friendly error message (the What attribute) and keep
// returning a non zero exit code.
// Consider this error as a user error, not an internal malfunctioning.
type ValidationError struct {
	When time.Time
	What string
}

func getTraceIdx(idx int) (string, string, int) {
	pc := make([]uintptr, 10)
	runtime.Callers(2, pc)
	f := runtime.FuncForPC(pc[idx+1])
	file, line := f.FileLine(pc[idx+1])
	return f.Name(), file, line
}

func formatTraceIdx(idx int) (string, string) {
	funcName, file, line := getTraceIdx(idx)
	fileName := filepath.Base(file)

	fn := strings.Split(funcName, "github.com/blockdevd/blockdevd/")

	if len(fn) > 1 {
		funcName = fn[1]
	} else {
		funcName = fn[0]
	}

	dir := strings.Split(filepath.Dir(file), "/blockdevd/")
	var dirName string
	if len(dir) > 1 {
		dirName = dir[1]
	} else {
		dirName = dir[0]
	}

	return funcName, fmt.Sprintf("%s/%s:%d", dirName, fileName, line)
}

func getTrace() string {
	cfName, cTrace := formatTraceIdx(3)
	caller := fmt.Sprintf("%s()\n     %s\n", cfName, cTrace)

	rfName, rTrace := formatTraceIdx(2)
	raiser := fmt.Sprintf("%s()\n     %s\n", rfName, rTrace)

	return fmt.Sprintf("\n\nError Trace:\n%s%s", raiser, caller)
}

func (e TraceableError) Error() string {
	return fmt.Sprintf("%s%s", e.What, e.Trace)
}

// Errorf Returns a new error with the stack information
func Errorf(format string, a ...interface{}) error {
	return TraceableError{
		Trace: getTrace(),
		When:  time.Now(),
		What:  fmt.Sprintf(format, a...),
	}
}

// Wrap returns an error with the caller stack information
// embedded in the original error message
func Wrap(err error) error {
	return Errorf(err.Error())
}

func (ve ValidationError) Error() string {
	return ve.What
}

// ValidationErrorf formats a new ValidationError
func ValidationErrorf(format string, a ...interface{}) error {
	return ValidationError{
		What: fmt.Sprintf(format, a...),
	}
}

// IsValidationError returns true if err is a ValidationError
// returns false otherwise
func IsValidationError(err error) bool {
	if _, ok := err.(ValidationError); ok {
		return true
	}
	return false
}

// Code identifies the caller-facing condition a DKError reports, mirroring
// the UDisks2-style per-operation error enum callers branch on.
type Code int

// The set of conditions operation handlers and the job engine report back
// to callers. Unlike TraceableError these are expected, named outcomes, not
// internal malfunctions.
const (
	// General covers a condition with no more specific code.
	General Code = iota
	NotSupported
	NotMountable
	NotMounted
	Mounted
	NotMountedByDeviceKit
	NotPartition
	NotPartitioned
	FstabEntry
	CannotRemount
	MountOptionNotAllowed
	UnmountOptionNotAllowed
	FilesystemBusy
	JobAlreadyInProgress
	NoJobInProgress
	JobCannotBeCancelled
	JobWasCancelled
)

// DKError is a ValidationError-shaped condition tagged with a Code so
// callers can branch on it without string matching.
type DKError struct {
	Code Code
	What string
}

func (e DKError) Error() string { return e.What }

// New formats a DKError carrying code.
func New(code Code, format string, a ...interface{}) error {
	return DKError{Code: code, What: fmt.Sprintf(format, a...)}
}

// CodeOf returns err's Code, or General if err is not a DKError.
func CodeOf(err error) Code {
	if dk, ok := err.(DKError); ok {
		return dk.Code
	}
	return General
}
