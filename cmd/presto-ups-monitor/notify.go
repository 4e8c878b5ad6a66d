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
	"fmt"
	"sync"
	"time"

	"github.com/piklz/presto-ups/ntfy"
)

const (
	currentWindowSize = 3
	powerWindowSize   = 5

	// Currents inside the deadband are treated as neither charging nor
	// discharging, which stops USB noise from flapping the state.
	currentDeadbandMA = 10.0

	// Average draws below this make the runtime estimate meaningless.
	minEstimatePowerW = 0.1

	notificationCooldown = 5 * time.Minute
	notificationTitle    = "Raspberry Pi Power Alert"
)

// rollingWindow keeps the last size values appended to it.
type rollingWindow struct {
	values []float64
	size   int
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size}
}

func (w *rollingWindow) append(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[1:]
	}
}

func (w *rollingWindow) full() bool {
	return len(w.values) == w.size
}

func (w *rollingWindow) allBelow(threshold float64) bool {
	for _, v := range w.values {
		if v >= threshold {
			return false
		}
	}
	return len(w.values) > 0
}

func (w *rollingWindow) allAbove(threshold float64) bool {
	for _, v := range w.values {
		if v <= threshold {
			return false
		}
	}
	return len(w.values) > 0
}

func (w *rollingWindow) average() float64 {
	if len(w.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values))
}

// notifier watches consecutive readings for power events and pushes alerts
// through ntfy. All state lives here, guarded by mu: the sampler feeds the
// power window while the main loop drives process.
type notifier struct {
	mu sync.Mutex

	client *ntfy.Client
	conf   *Config

	currentWindow    *rollingWindow
	powerWindow      *rollingWindow
	isUnplugged      bool
	lastNotification time.Time

	// publishEvent mirrors dispatched alerts to telemetry when set.
	publishEvent func(kind, message string)

	now func() time.Time
}

func newNotifier(conf *Config, client *ntfy.Client) *notifier {
	return &notifier{
		client:        client,
		conf:          conf,
		currentWindow: newRollingWindow(currentWindowSize),
		powerWindow:   newRollingWindow(powerWindowSize),
		now:           time.Now,
	}
}

// recordPower is called by the sampler with every power reading.
func (n *notifier) recordPower(powerW float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.powerWindow.append(powerW)
}

// onBattery reports whether the last transition left us unplugged.
func (n *notifier) onBattery() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isUnplugged
}

// runtimeEstimate returns the estimated hours left at the recent average
// draw. ok is false until the power window fills, or when the average draw
// is too small to divide by meaningfully.
func (n *notifier) runtimeEstimate() (float64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runtimeEstimateLocked()
}

func (n *notifier) runtimeEstimateLocked() (float64, bool) {
	if !n.powerWindow.full() {
		return 0, false
	}
	avgPowerW := n.powerWindow.average()
	if avgPowerW < minEstimatePowerW {
		return 0, false
	}
	energyMWh := float64(n.conf.BatteryCapacityMAh) * n.conf.BatteryVoltage
	return energyMWh / (avgPowerW * 1000), true
}

// process appends the reading's current to the window and evaluates the
// transitions, in priority order, once both windows are full. State flips
// apply on every evaluation; the cooldown only gates how often a message is
// actually dispatched.
func (n *notifier) process(r Reading) {
	n.mu.Lock()
	n.currentWindow.append(r.CurrentMA)
	if !n.currentWindow.full() || !n.powerWindow.full() {
		n.mu.Unlock()
		return
	}

	discharging := n.currentWindow.allBelow(-currentDeadbandMA)
	charging := n.currentWindow.allAbove(currentDeadbandMA)
	hostname := getHostname()

	message := ""
	kind := ""
	switch {
	case discharging && !n.isUnplugged:
		runtimeStr := "unknown"
		if hours, ok := n.runtimeEstimateLocked(); ok {
			runtimeStr = fmt.Sprintf("%.1f hours", hours)
		}
		message = fmt.Sprintf("USB charger unplugged on %s: Running on battery, estimated runtime %s", hostname, runtimeStr)
		kind = "unplugged"
		n.isUnplugged = true
	case charging && n.isUnplugged:
		message = fmt.Sprintf("USB charger reconnected on %s: System back on external power", hostname)
		kind = "reconnected"
		n.isUnplugged = false
	case charging && r.PowerW < n.conf.PowerThreshold:
		message = fmt.Sprintf("Low power alert on %s: %.3f W (Threshold: %v W)", hostname, r.PowerW, n.conf.PowerThreshold)
		kind = "low-power"
	case charging && r.Percent < n.conf.PercentThreshold:
		message = fmt.Sprintf("Low percent alert on %s: %.1f%% (Threshold: %v%%)", hostname, r.Percent, n.conf.PercentThreshold)
		kind = "low-percent"
	}

	dispatch := message != "" && n.cooldownOverLocked()
	if dispatch {
		// Stamped before delivery, a failed send still counts against the
		// cooldown.
		n.lastNotification = n.now()
	}
	publishEvent := n.publishEvent
	n.mu.Unlock()

	if message == "" {
		return
	}
	if !dispatch {
		log.Debug("Suppressing notification during cooldown: ", message)
		return
	}
	if err := n.client.Send(notificationTitle, message); err != nil {
		log.Warnf("Failed to send notification: %v", err)
	} else {
		log.Info("Notification sent: ", message)
	}
	if publishEvent != nil {
		publishEvent(kind, message)
	}
}

func (n *notifier) cooldownOverLocked() bool {
	return n.lastNotification.IsZero() || n.now().Sub(n.lastNotification) >= notificationCooldown
}
