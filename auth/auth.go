// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package auth defines the external authorization contract operation
// handlers consult before a restricted action proceeds.
package auth

// Caller identifies the RPC caller an authorization check is made for.
type Caller struct {
	UID int
}

// Context carries the operation-specific detail an Auth implementation
// may need to decide (e.g. the device's object path).
type Context struct {
	ObjectPath string
}

// Auth is the synchronous "check(caller, action, context) ->
// granted|denied" contract from spec §6. From the event loop's
// perspective Check is a suspension point, even though the stub
// implementation below never actually blocks.
type Auth interface {
	Check(caller Caller, action string, ctx Context) bool
}

// RootOnly is the stub implementation: grants every action to uid 0,
// denies everyone else. Structured so a real polkit-style backend can
// satisfy the same interface without touching call sites.
type RootOnly struct{}

// Check implements Auth.
func (RootOnly) Check(caller Caller, _ string, _ Context) bool {
	return caller.UID == 0
}

// Grant is a test/fixture Auth that grants a fixed set of actions to a
// fixed set of uids, and denies everything else.
type Grant struct {
	// Actions maps uid -> set of granted action names. A uid absent
	// from the map is granted nothing.
	Actions map[int]map[string]bool
}

// Check implements Auth.
func (g Grant) Check(caller Caller, action string, _ Context) bool {
	actions, ok := g.Actions[caller.UID]
	if !ok {
		return false
	}
	return actions[action]
}
