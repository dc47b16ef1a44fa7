// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package dbusapi

import (
	"github.com/godbus/dbus/v5"

	"github.com/blockdevd/blockdevd/auth"
)

// callerFromSender resolves the RPC caller identity from a method
// call's sender bus name. A D-Bus
// message carries no uid of its own; the bus daemon is asked instead,
// the same indirection UDisks2's own PolicyKit integration relies on.
func callerFromSender(conn *dbus.Conn, sender dbus.Sender) (auth.Caller, error) {
	var uid uint32
	err := conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, sender).Store(&uid)
	if err != nil {
		return auth.Caller{}, err
	}
	return auth.Caller{UID: int(uid)}, nil
}
