/*
presto-ups-monitor - Monitors an INA219 based UPS HAT on a Raspberry Pi.
Copyright (C) 2026, piklz

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"encoding/json"
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.presto.UPS"
	dbusPath = "/org/presto/UPS"
)

type service struct {
	monitor *monitor
}

func startService(m *monitor) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		monitor: m,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Status returns the latest reading and battery state as JSON.
func (s service) Status() (string, *dbus.Error) {
	snap, err := s.monitor.status()
	if err != nil {
		return "", makeDbusError(".Status", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", makeDbusError(".Status", err)
	}
	return string(data), nil
}

// OnBattery returns whether the system is running from its battery.
func (s service) OnBattery() (bool, *dbus.Error) {
	return s.monitor.notifier.onBattery(), nil
}

// RuntimeHours returns the estimated battery runtime in hours, or -1 when no
// estimate is available.
func (s service) RuntimeHours() (float64, *dbus.Error) {
	hours, ok := s.monitor.notifier.runtimeEstimate()
	if !ok {
		return -1, nil
	}
	return hours, nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
