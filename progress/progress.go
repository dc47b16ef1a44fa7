// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package progress renders a live indicator for the one job an
// invocation of blockdevctl is waiting on. A Device1 method call
// (Mount, Erase, CreatePartition, ...) blocks on the bus until the
// operation finishes, so progress here is signal-driven — fed
// JobChanged values received concurrently on the same connection —
// rather than a timed polling loop, since blockdevctl has no fixed
// step count to interpolate against.
package progress

import (
	"fmt"

	"github.com/blockdevd/blockdevd/notify"
)

// Client is the interface a frontend must implement in order to be
// notified about a job's progress.
type Client interface {
	// Desc is called once, when a job starts.
	Desc(printPrefix, desc string)

	// Update is called for every JobChanged value received while the
	// job is in flight.
	Update(job notify.JobState)

	// Success is called when the job's method call returns with no error.
	Success()

	// Failure is called when the job's method call returns an error.
	Failure()
}

var impl Client

// Set defines the default progress client implementation.
func Set(c Client) {
	impl = c
}

// Job tracks one in-flight operation.
type Job struct {
	done chan struct{}
}

// NewJob starts tracking an operation described by format, emitted
// through the configured Client.
func NewJob(printPrefix, format string, a ...interface{}) *Job {
	if impl == nil {
		panic("no progress implementation was configured; use progress.Set() before progress.NewJob()")
	}

	impl.Desc(printPrefix, fmt.Sprintf(format, a...))
	return &Job{done: make(chan struct{})}
}

// Update feeds job into the Client, unless Success/Failure already
// closed this Job — a JobChanged signal can race the method call's
// own return.
func (j *Job) Update(job notify.JobState) {
	select {
	case <-j.done:
		return
	default:
	}
	impl.Update(job)
}

// Success notifies the Client the job completed successfully.
func (j *Job) Success() {
	close(j.done)
	impl.Success()
}

// Failure notifies the Client the job failed.
func (j *Job) Failure() {
	close(j.done)
	impl.Failure()
}
