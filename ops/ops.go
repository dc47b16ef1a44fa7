// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package ops implements the per-device operation handlers: Mount,
// Unmount, Erase, CreatePartition, DeletePartition, ModifyPartition,
// CreatePartitionTable, CreateFilesystem, CancelJob. Each follows the
// same skeleton — resolve identity, check preconditions, check
// authorization, validate inputs, assemble argv, start a job — and
// reports completion through a caller-supplied Reply callback, since a
// handler's real effect is only known once its helper process exits.
package ops

import (
	"io"
	"strings"
	"sync"

	"github.com/blockdevd/blockdevd/auth"
	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/errors"
	"github.com/blockdevd/blockdevd/job"
	"github.com/blockdevd/blockdevd/ledger"
	"github.com/blockdevd/blockdevd/mount"
	"github.com/blockdevd/blockdevd/registry"
	"github.com/blockdevd/blockdevd/waiter"
)

// HelperPaths names the external binaries operation handlers invoke.
// DefaultHelperPaths gives bare names, resolved through PATH; the
// daemon configuration can override each one, e.g. with an absolute path.
type HelperPaths struct {
	Mount                string
	Umount               string
	Erase                string
	Mkfs                 string
	CreatePartition      string
	DeletePartition      string
	ModifyPartition      string
	CreatePartitionTable string
}

// DefaultHelperPaths are the binaries used when none are configured.
func DefaultHelperPaths() HelperPaths {
	return HelperPaths{
		Mount:                "mount",
		Umount:               "umount",
		Erase:                "wipefs",
		Mkfs:                 "mkfs",
		CreatePartition:      "parted",
		DeletePartition:      "parted",
		ModifyPartition:      "parted",
		CreatePartitionTable: "parted",
	}
}

// Reply is what a handler's asynchronous completion delivers. Exactly
// one field beyond Err is meaningful, depending on the call.
type Reply struct {
	MountPath     string
	NewObjectPath string
	Err           error
}

// ReplyFunc is invoked exactly once when a started job completes.
type ReplyFunc func(Reply)

// Ops bundles every collaborator the operation handlers need.
type Ops struct {
	Registry      *registry.Registry
	Auth          auth.Auth
	Ledger        ledger.Ledger
	PolicyTable   mount.Table
	GroupResolver mount.GroupResolver
	Helpers       HelperPaths

	// FstabReader opens /etc/fstab; a field so tests can substitute a
	// fixture without touching the real filesystem.
	FstabReader func() (io.ReadCloser, error)

	mu     sync.Mutex
	jobs   map[string]*job.Job
	owners map[string]int
}

func (o *Ops) jobFor(d *device.Device) *job.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.jobs == nil {
		o.jobs = map[string]*job.Job{}
	}
	j, ok := o.jobs[d.ObjectPath()]
	if !ok {
		j = job.New()
		o.jobs[d.ObjectPath()] = j
	}
	return j
}

func (o *Ops) setOwner(objectPath string, uid int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.owners == nil {
		o.owners = map[string]int{}
	}
	o.owners[objectPath] = uid
}

func (o *Ops) ownerOf(objectPath string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	uid, ok := o.owners[objectPath]
	return uid, ok
}

// CancelJob sends SIGTERM (escalating to SIGKILL) to the device's
// running job, per spec §9: only the uid that started the job, or a
// caller granted "cancel-others", may cancel it.
func (o *Ops) CancelJob(caller auth.Caller, d *device.Device) error {
	owner, ok := o.ownerOf(d.ObjectPath())
	if ok && owner != caller.UID {
		if err := o.checkAuth(caller, d, []string{"cancel-others"}); err != nil {
			return err
		}
	}
	return o.jobFor(d).Cancel()
}

// classify turns a job outcome into the error the RPC reply carries,
// or nil on success.
func classify(outcome job.Outcome) error {
	if outcome.WasCancelled {
		return errors.New(errors.JobWasCancelled, "job was cancelled")
	}
	if outcome.StartErr != nil {
		return errors.New(errors.General, "helper did not exit normally: %v", outcome.StartErr)
	}
	if outcome.ExitCode != 0 {
		if strings.Contains(outcome.Stderr, "device is busy") {
			return errors.New(errors.FilesystemBusy, "device is busy: %s", outcome.Stderr)
		}
		return errors.New(errors.General, "helper exited with status %d: %s", outcome.ExitCode, outcome.Stderr)
	}
	return nil
}

// start runs argv as d's job, attaching progress updates to d's job
// fields, and invokes onDone with the classified outcome exactly once.
// caller is recorded as the job's owner for CancelJob's authorization.
func (o *Ops) start(caller auth.Caller, d *device.Device, jobID string, argv []string, onDone func(outcome job.Outcome, err error)) error {
	onProgress := func(p job.Progress) {
		d.UpdateJobProgress(p.CurTask, p.NumTasks, p.CurTaskPercentage, p.CurTaskID)
	}

	err := o.jobFor(d).Start(jobID, true, argv, onProgress, func(outcome job.Outcome) {
		d.ClearJob()
		onDone(outcome, classify(outcome))
	})
	if err != nil {
		return err
	}

	o.setOwner(d.ObjectPath(), caller.UID)
	d.StartJob(jobID, true)
	return nil
}

// checkAuth requires every action in actions to be granted to caller
// for d, returning a General error naming the first denied action.
func (o *Ops) checkAuth(caller auth.Caller, d *device.Device, actions []string) error {
	for _, action := range actions {
		if !o.Auth.Check(caller, action, auth.Context{ObjectPath: d.ObjectPath()}) {
			return errors.New(errors.General, "action %q denied for uid %d", action, caller.UID)
		}
	}
	return nil
}
