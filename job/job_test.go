// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package job

import (
	"sync"
	"testing"
	"time"

	"github.com/blockdevd/blockdevd/errors"
)

func TestStartRunsToCompletion(t *testing.T) {
	j := New()

	var mu sync.Mutex
	var outcome Outcome
	done := make(chan struct{})

	err := j.Start("job-1", true, []string{"sh", "-c", "echo progress: 1 1 100.0 DONE; exit 0"}, nil, func(o Outcome) {
		mu.Lock()
		outcome = o
		mu.Unlock()
		close(done)
	})
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion was not invoked in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if outcome.ExitCode != 0 || outcome.WasCancelled {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	if j.State() != Idle {
		t.Fatalf("State() = %v, want Idle after completion", j.State())
	}
}

func TestStartRejectsSecondJob(t *testing.T) {
	j := New()
	done := make(chan struct{})

	err := j.Start("job-1", true, []string{"sh", "-c", "sleep 1"}, nil, func(Outcome) { close(done) })
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer func() { <-done }()
	defer func() { _ = j.Cancel() }()

	err = j.Start("job-2", true, []string{"true"}, nil, func(Outcome) {})
	if errors.CodeOf(err) != errors.JobAlreadyInProgress {
		t.Fatalf("Start() while running = %v, want JobAlreadyInProgress", err)
	}
}

func TestCancelMarksWasCancelled(t *testing.T) {
	j := New()
	done := make(chan struct{})
	var outcome Outcome

	err := j.Start("job-1", true, []string{"sh", "-c", "trap 'exit 9' TERM; sleep 5 >/dev/null 2>&1 & wait"}, nil, func(o Outcome) {
		outcome = o
		close(done)
	})
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := j.Cancel(); err != nil {
		t.Fatalf("Cancel() = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion was not invoked after cancellation")
	}

	if !outcome.WasCancelled {
		t.Fatalf("outcome.WasCancelled = false, want true")
	}
}

func TestCancelNonCancellableJobFails(t *testing.T) {
	j := New()
	done := make(chan struct{})

	err := j.Start("job-1", false, []string{"sh", "-c", "sleep 1"}, nil, func(Outcome) { close(done) })
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer func() { <-done }()

	err = j.Cancel()
	if errors.CodeOf(err) != errors.JobCannotBeCancelled {
		t.Fatalf("Cancel() on a non-cancellable job = %v, want JobCannotBeCancelled", err)
	}
}

func TestCancelIdleJobFails(t *testing.T) {
	j := New()
	if err := j.Cancel(); errors.CodeOf(err) != errors.NoJobInProgress {
		t.Fatalf("Cancel() on an idle job = %v, want NoJobInProgress", err)
	}
}

func TestProgressCallbackInvoked(t *testing.T) {
	j := New()
	done := make(chan struct{})
	var progressed []Progress
	var mu sync.Mutex

	err := j.Start("job-1", true,
		[]string{"sh", "-c", "echo 'progress: 2 5 47.5 FORMAT'; exit 0"},
		func(p Progress) {
			mu.Lock()
			progressed = append(progressed, p)
			mu.Unlock()
		},
		func(Outcome) { close(done) },
	)
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion was not invoked in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progressed) != 1 || progressed[0].CurTaskID != "FORMAT" {
		t.Fatalf("unexpected progress callbacks: %+v", progressed)
	}
}
