// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package dbusapi is the D-Bus binding for blockdevd's RPC surface:
// every known device is exported at
// /org/blockdevd/Devices/<object_path> implementing interface
// org.blockdevd.Device1, and notify.Notifier's "changed"/"job-changed"
// signals are published as D-Bus signals on the same objects. Built
// directly on github.com/godbus/dbus/v5's Export/Emit.
package dbusapi

import (
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/blockdevd/blockdevd/device"
	"github.com/blockdevd/blockdevd/log"
	"github.com/blockdevd/blockdevd/ops"
	"github.com/blockdevd/blockdevd/registry"
)

// BusName is the well-known name the daemon requests on the system bus.
const BusName = "org.blockdevd.Daemon1"

// treePrefix is the D-Bus object tree root devices are exported under.
const treePrefix = "/org/blockdevd/Devices"

// deviceInterface is the per-device method/signal interface name.
const deviceInterface = "org.blockdevd.Device1"

// BusPath maps a device's internal object path (e.g. "/devices/sda1")
// onto the exported D-Bus path. Exported so a client
// like cmd/blockdevctl can address a device's object without importing
// any unexported daemon internals: combine
// device.ObjectPathFromNativePath(deviceFile) with BusPath.
func BusPath(objectPath string) dbus.ObjectPath {
	return busPath(objectPath)
}

// busPath is BusPath's unexported implementation, used internally for
// every object this package exports.
func busPath(objectPath string) dbus.ObjectPath {
	suffix := strings.TrimPrefix(objectPath, "/devices/")
	return dbus.ObjectPath(treePrefix + "/" + suffix)
}

// Server exports the Registry's devices on a D-Bus connection and
// implements notify.Notifier by emitting D-Bus signals.
type Server struct {
	conn     *dbus.Conn
	registry *registry.Registry
	ops      *ops.Ops
	busName  string

	mu       sync.Mutex
	exported map[string]bool
}

// NewServer wires conn to registry and ops. It does not request the
// bus name or export anything by itself; call RequestName and
// ExportDevice (or ExportAll) once the registry is populated.
func NewServer(conn *dbus.Conn, reg *registry.Registry, o *ops.Ops) *Server {
	return &Server{
		conn:     conn,
		registry: reg,
		ops:      o,
		busName:  BusName,
		exported: map[string]bool{},
	}
}

// SetBusName overrides the well-known name RequestName requests,
// instead of BusName — used to run a second instance against a
// private bus in tests.
func (s *Server) SetBusName(name string) {
	s.busName = name
}

// RequestName requests the daemon's well-known bus name.
func (s *Server) RequestName() error {
	reply, err := s.conn.RequestName(s.busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return &dbus.Error{Name: "org.blockdevd.Error.Failed", Body: []interface{}{"bus name already owned"}}
	}
	return nil
}

// ExportAll exports every device currently in the registry.
func (s *Server) ExportAll() error {
	for _, d := range s.registry.All() {
		if err := s.ExportDevice(d); err != nil {
			return err
		}
	}
	return nil
}

// ExportDevice exports d's methods, properties and introspection data
// at its bus path. Safe to call more than once for the same device
// (e.g. after a reload); later calls are no-ops.
func (s *Server) ExportDevice(d *device.Device) error {
	s.mu.Lock()
	if s.exported[d.ObjectPath()] {
		s.mu.Unlock()
		return nil
	}
	s.exported[d.ObjectPath()] = true
	s.mu.Unlock()

	path := busPath(d.ObjectPath())
	obj := &device1{conn: s.conn, ops: s.ops, device: d}

	if err := s.conn.Export(obj, path, deviceInterface); err != nil {
		return err
	}
	if err := s.conn.Export(obj, path, "org.freedesktop.DBus.Properties"); err != nil {
		return err
	}
	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			propertiesInterfaceData,
			deviceInterfaceData,
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}

	log.Debug("dbusapi: exported %s at %s", d.NativePath(), path)
	return nil
}

// Unexport removes objectPath's device from the bus, called when the
// registry drops a device that has disappeared from sysfs.
func (s *Server) Unexport(objectPath string) {
	s.mu.Lock()
	delete(s.exported, objectPath)
	s.mu.Unlock()

	path := busPath(objectPath)
	_ = s.conn.Export(nil, path, deviceInterface)
	_ = s.conn.Export(nil, path, "org.freedesktop.DBus.Properties")
	_ = s.conn.Export(nil, path, "org.freedesktop.DBus.Introspectable")
}

// Changed implements notify.Notifier by emitting the Device1.Changed signal.
func (s *Server) Changed(objectPath string) {
	if err := s.conn.Emit(busPath(objectPath), deviceInterface+".Changed"); err != nil {
		log.Warning("dbusapi: emit Changed for %s: %v", objectPath, err)
	}
}

// JobChanged implements notify.Notifier by emitting the
// Device1.JobChanged signal with all seven job-state fields.
func (s *Server) JobChanged(objectPath string, job device.JobState) {
	err := s.conn.Emit(busPath(objectPath), deviceInterface+".JobChanged",
		job.InProgress, job.ID, job.IsCancellable, job.NumTasks,
		job.CurTask, job.CurTaskID, job.CurTaskPercentage)
	if err != nil {
		log.Warning("dbusapi: emit JobChanged for %s: %v", objectPath, err)
	}
}
