// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package job implements the per-device job state machine: at most one
// helper process runs per device at a time, its stdout progress lines
// feed a callback, its stderr is captured verbatim, and cancellation
// escalates from SIGTERM to SIGKILL after a grace period. Built
// directly on executil.Supervised's split Start/Wait so Cancel can
// deliver a signal in between.
package job

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/blockdevd/blockdevd/errors"
	"github.com/blockdevd/blockdevd/executil"
	"github.com/blockdevd/blockdevd/log"
)

// State is one of the three job-slot states.
type State int

const (
	Idle State = iota
	Running
	Cancelling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Cancelling:
		return "Cancelling"
	default:
		return "Unknown"
	}
}

// sigtermGrace is the wait between SIGTERM and SIGKILL escalation.
const sigtermGrace = 5 * time.Second

// Progress is a parsed "progress: cur num pct id" line.
type Progress struct {
	CurTask           int
	NumTasks          int
	CurTaskPercentage float64
	CurTaskID         string
}

// Outcome is what a completed job reports to its caller.
type Outcome struct {
	WasCancelled bool
	ExitCode     int
	Stderr       string
	// StartErr is set when waiting for the helper failed and no exit
	// status is available (for instance, it was killed by a signal);
	// ExitCode is then -1. A helper that cannot be started at all
	// makes Start return an error instead.
	StartErr error
}

// Completion is invoked exactly once when a job finishes.
type Completion func(Outcome)

// Job is one device's job slot.
type Job struct {
	mu          sync.Mutex
	state       State
	id          string
	cancellable bool
	wasCancelled bool
	supervised  *executil.Supervised
	exited      chan struct{}
}

// New returns an idle job slot.
func New() *Job {
	return &Job{}
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Start forks+execs argv as the device's job, streaming progress lines
// to onProgress and invoking completion exactly once on exit. It fails
// with JobAlreadyInProgress if a job is already running on this slot.
func (j *Job) Start(id string, cancellable bool, argv []string, onProgress func(Progress), completion Completion) error {
	j.mu.Lock()
	if j.state != Idle {
		j.mu.Unlock()
		return errors.New(errors.JobAlreadyInProgress, "a job is already running on this device")
	}

	scanner := &progressScanner{onProgress: onProgress}

	supervised, err := executil.Start(argv, scanner)
	if err != nil {
		j.mu.Unlock()
		return errors.New(errors.General, "failed to start helper: %v", err)
	}

	j.state = Running
	j.id = id
	j.cancellable = cancellable
	j.wasCancelled = false
	j.supervised = supervised
	j.exited = make(chan struct{})
	j.mu.Unlock()

	go j.wait(completion)

	return nil
}

func (j *Job) wait(completion Completion) {
	supervised := j.getSupervised()

	waitErr := supervised.Wait()

	j.mu.Lock()
	close(j.exited)
	wasCancelled := j.wasCancelled
	j.mu.Unlock()

	outcome := Outcome{
		WasCancelled: wasCancelled,
		ExitCode:     supervised.ExitCode(),
		Stderr:       supervised.Stderr(),
	}
	if waitErr != nil && outcome.ExitCode == -1 {
		outcome.StartErr = waitErr
	}

	j.mu.Lock()
	j.state = Idle
	j.id = ""
	j.cancellable = false
	j.supervised = nil
	j.mu.Unlock()

	completion(outcome)
}

func (j *Job) getSupervised() *executil.Supervised {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.supervised
}

// Cancel requests cancellation of the running job: sends SIGTERM
// immediately and, if the child has not exited after sigtermGrace,
// escalates to SIGKILL. Returns NoJobInProgress if idle,
// JobCannotBeCancelled if the job was started non-cancellable.
func (j *Job) Cancel() error {
	j.mu.Lock()
	if j.state == Idle {
		j.mu.Unlock()
		return errors.New(errors.NoJobInProgress, "no job is running on this device")
	}
	if !j.cancellable {
		j.mu.Unlock()
		return errors.New(errors.JobCannotBeCancelled, "job %s cannot be cancelled", j.id)
	}

	j.state = Cancelling
	j.wasCancelled = true
	supervised := j.supervised
	exited := j.exited
	j.mu.Unlock()

	if err := supervised.Signal(syscall.SIGTERM); err != nil {
		return errors.New(errors.General, "failed to signal job: %v", err)
	}

	go escalate(supervised, exited)

	return nil
}

// escalate sends SIGKILL if exited is not closed within sigtermGrace.
func escalate(supervised *executil.Supervised, exited chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), sigtermGrace)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		select {
		case <-exited:
			return struct{}{}, nil
		default:
			return struct{}{}, errStillRunning
		}
	}, backoff.WithBackOff(backoff.NewConstantBackOff(100*time.Millisecond)))

	if err != nil {
		log.Warning("job did not exit within %s of SIGTERM, sending SIGKILL", sigtermGrace)
		_ = supervised.Signal(syscall.SIGKILL)
	}
}

type stillRunningError struct{}

func (stillRunningError) Error() string { return "job still running" }

var errStillRunning = stillRunningError{}
