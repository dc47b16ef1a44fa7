// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package notify defines the change-notification contract between a
// device and the transport that publishes it to RPC clients. device
// and job depend only on this interface; dbusapi is the shipped
// implementation, emitting D-Bus signals.
package notify

// JobState is the seven job-related fields published on job-changed
// (spec §3 "Job state" group / §6 "job-changed" signal).
type JobState struct {
	InProgress        bool
	ID                string
	IsCancellable     bool
	NumTasks          int
	CurTask           int
	CurTaskID         string
	CurTaskPercentage float64
}

// Notifier is the set of signals a Device publishes.
type Notifier interface {
	// Changed is published whenever any observable (non-job) field changes.
	Changed(objectPath string)
	// JobChanged is published whenever the job fields change.
	JobChanged(objectPath string, job JobState)
}

// InMemory is a Notifier that records every publication, for tests.
type InMemory struct {
	Changes     []string
	JobChanges  []JobState
	JobObjPaths []string
}

func (n *InMemory) Changed(objectPath string) {
	n.Changes = append(n.Changes, objectPath)
}

func (n *InMemory) JobChanged(objectPath string, job JobState) {
	n.JobObjPaths = append(n.JobObjPaths, objectPath)
	n.JobChanges = append(n.JobChanges, job)
}
