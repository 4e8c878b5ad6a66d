package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	idleSleep = 100 * time.Millisecond

	csvHeader   = "timestamp,bus_voltage_v,current_ma,power_w,percent"
	maxCSVLines = 5000
	csvTrimRate = 24 * time.Hour
)

// monitor owns the consumer side: the latest reading, the report cadence and
// the CSV data log.
type monitor struct {
	mu     sync.RWMutex
	latest *Reading

	conf      *Config
	notifier  *notifier
	telemetry *telemetryPublisher
}

func newMonitor(conf *Config, n *notifier) *monitor {
	return &monitor{conf: conf, notifier: n}
}

func (m *monitor) setLatest(r Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = &r
}

func (m *monitor) latestReading() (Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Reading{}, false
	}
	return *m.latest, true
}

// statusSnapshot is what the D-Bus service and telemetry publish.
type statusSnapshot struct {
	Time         string  `json:"time"`
	BusVoltageV  float64 `json:"bus_voltage_v"`
	CurrentMA    float64 `json:"current_ma"`
	PowerW       float64 `json:"power_w"`
	Percent      float64 `json:"percent"`
	OnBattery    bool    `json:"on_battery"`
	RuntimeHours float64 `json:"runtime_hours"`
	Hostname     string  `json:"hostname"`
}

func (m *monitor) status() (statusSnapshot, error) {
	r, ok := m.latestReading()
	if !ok {
		return statusSnapshot{}, errors.New("no reading yet")
	}
	hours, ok := m.notifier.runtimeEstimate()
	if !ok {
		hours = -1
	}
	return statusSnapshot{
		Time:         r.Time.Format(time.RFC3339),
		BusVoltageV:  r.BusVoltage,
		CurrentMA:    r.CurrentMA,
		PowerW:       r.PowerW,
		Percent:      r.Percent,
		OnBattery:    m.notifier.onBattery(),
		RuntimeHours: hours,
		Hostname:     getHostname(),
	}, nil
}

// run is the main consumer loop. It polls the queue without blocking,
// sleeping briefly when there is nothing to do, and emits a consolidated
// report on the configured report interval.
func (m *monitor) run(readings <-chan Reading, stop <-chan struct{}) error {
	if err := keepLastLines(m.conf.CSVLog, maxCSVLines); err != nil {
		return err
	}
	lastTrim := time.Now()
	lastReport := time.Time{}

	for {
		select {
		case <-stop:
			log.Info("Monitor stopped")
			return nil
		default:
		}

		if time.Since(lastTrim) > csvTrimRate {
			if err := keepLastLines(m.conf.CSVLog, maxCSVLines); err != nil {
				return err
			}
			lastTrim = time.Now()
		}

		select {
		case r := <-readings:
			m.setLatest(r)
			m.notifier.process(r)
			if time.Since(lastReport) >= m.conf.ReportInterval {
				m.report(r)
				lastReport = time.Now()
			}
		default:
			time.Sleep(idleSleep)
		}
	}
}

func (m *monitor) report(r Reading) {
	log.Infof("Load Voltage: %6.3f V", r.BusVoltage)
	log.Infof("Current:      %6.3f A", r.CurrentMA/1000)
	log.Infof("Power:        %6.3f W", r.PowerW)
	log.Infof("Percent:     %6.1f%%", r.Percent)
	log.Info("System Info:")
	log.Info("Hostname:    ", getHostname())
	log.Info("IP Address:  ", getIPAddress())
	log.Info("CPU Temp:    ", formatTemp(getCPUTemp()))
	log.Info("GPU Temp:    ", formatTemp(getGPUTemp()))
	log.Info("---")

	if err := m.appendCSV(r); err != nil {
		log.Warnf("Failed to append to %s: %v", m.conf.CSVLog, err)
	}

	if m.telemetry != nil {
		snap, err := m.status()
		if err != nil {
			return
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Warnf("Failed to marshal status: %v", err)
			return
		}
		m.telemetry.publishState(payload)
	}
}

func (m *monitor) appendCSV(r Reading) error {
	_, statErr := os.Stat(m.conf.CSVLog)
	file, err := os.OpenFile(m.conf.CSVLog, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	if os.IsNotExist(statErr) {
		if _, err := file.WriteString(csvHeader + "\n"); err != nil {
			return err
		}
	}
	line := fmt.Sprintf("%s,%.3f,%.1f,%.3f,%.1f", r.Time.Format("2006-01-02 15:04:05"), r.BusVoltage, r.CurrentMA, r.PowerW, r.Percent)
	_, err = file.WriteString(line + "\n")
	return err
}

// keepLastLines keeps the last maxLines lines of the specified file.
func keepLastLines(filePath string, maxLines int) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	// The tmp file sits next to the target so the rename stays on one
	// filesystem.
	tmpFile := filePath + ".tmp"
	err := os.Remove(tmpFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	commands := []string{"sh", "-c", fmt.Sprintf("tail -n %d %s > %s", maxLines, filePath, tmpFile)}
	cmd := exec.Command(commands[0], commands[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("err running '%s', %v, %v", strings.Join(commands, " "), string(out), err)
	}
	return os.Rename(tmpFile, filePath)
}
