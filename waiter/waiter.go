// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package waiter implements the partition-appearance waiter used after
// CreatePartition: it subscribes to the daemon's device-added event and
// races it against a 10-second timeout, whichever fires first
// cancelling the other — the same shared "done" channel shape as the
// teacher's progress.Loop.
package waiter

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blockdevd/blockdevd/errors"
)

// Timeout is the wait's bound before it gives up on the partition appearing.
const Timeout = 10 * time.Second

// Candidate is the subset of a newly added device's attributes the
// waiter needs to decide whether it is the partition it is waiting for.
type Candidate struct {
	ObjectPath      string
	IsPartition     bool
	PartitionSlave  string
	PartitionOffset uint64
	PartitionSize   uint64
}

// Subscriber lets the waiter register interest in newly added devices.
// The returned func unsubscribes.
type Subscriber interface {
	SubscribeDeviceAdded(handler func(Candidate)) (unsubscribe func())
}

// Wait blocks until a device matching (parentObjectPath, offset, size)
// is reported added, or timeout elapses. Exactly one of the
// subscription and the timeout "wins"; the loser's reference is
// released via unsubscribe, guarded by a single sync.Once so both
// paths can fire concurrently without a double-send.
func Wait(sub Subscriber, parentObjectPath string, offset, size uint64, timeout time.Duration) (string, error) {
	var once sync.Once
	result := make(chan string, 1)

	unsubscribe := sub.SubscribeDeviceAdded(func(c Candidate) {
		if !c.IsPartition || c.PartitionSlave != parentObjectPath {
			return
		}
		if c.PartitionOffset != offset || c.PartitionSize != size {
			return
		}
		once.Do(func() { result <- c.ObjectPath })
	})
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case objectPath := <-result:
		return objectPath, nil
	case <-timer.C:
		return "", errors.New(errors.General, "timeout waiting for partition to appear")
	}
}

// ParseCreatePartitionTrailer extracts the offset and size the
// create-partition helper reports on stderr as "job-create-partition-offset:
// <int>" / "job-create-partition-size: <int>". Both lines must be
// present or it fails with a descriptive General error.
func ParseCreatePartitionTrailer(stderr string) (offset, size uint64, err error) {
	var haveOffset, haveSize bool

	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := trailerValue(line, "job-create-partition-offset:"); ok {
			offset, err = strconv.ParseUint(v, 10, 64)
			if err != nil {
				return 0, 0, errors.New(errors.General, "malformed create-partition offset trailer: %v", err)
			}
			haveOffset = true
		}
		if v, ok := trailerValue(line, "job-create-partition-size:"); ok {
			size, err = strconv.ParseUint(v, 10, 64)
			if err != nil {
				return 0, 0, errors.New(errors.General, "malformed create-partition size trailer: %v", err)
			}
			haveSize = true
		}
	}

	if !haveOffset || !haveSize {
		return 0, 0, errors.New(errors.General, "create-partition helper did not report both offset and size trailers")
	}

	return offset, size, nil
}

func trailerValue(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
}
