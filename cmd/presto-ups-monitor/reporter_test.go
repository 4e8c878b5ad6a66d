package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/piklz/presto-ups/ntfy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T) *monitor {
	t.Helper()
	conf := testConfig()
	conf.CSVLog = filepath.Join(t.TempDir(), "presto-ups.csv")
	n := newNotifier(conf, ntfy.New("http://127.0.0.1:0", "test"))
	return newMonitor(conf, n)
}

func TestRunConsumesReadingsAndReports(t *testing.T) {
	m := newTestMonitor(t)
	readings := make(chan Reading, queueSize)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.run(readings, stop) }()

	readings <- reading(100, 2.0, 80)

	// The first reading reports immediately and lands in the CSV log.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(m.conf.CSVLog)
		return err == nil && strings.Count(string(data), "\n") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	latest, ok := m.latestReading()
	require.True(t, ok)
	assert.Equal(t, 100.0, latest.CurrentMA)

	close(stop)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestAppendCSVWritesHeaderOnce(t *testing.T) {
	m := newTestMonitor(t)
	r := Reading{
		Time:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		BusVoltage: 3.51,
		CurrentMA:  -120,
		PowerW:     1.5,
		Percent:    42.5,
	}
	require.NoError(t, m.appendCSV(r))
	require.NoError(t, m.appendCSV(r))

	data, err := os.ReadFile(m.conf.CSVLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, csvHeader, lines[0])
	assert.Equal(t, "2026-01-02 03:04:05,3.510,-120.0,1.500,42.5", lines[1])
	assert.Equal(t, lines[1], lines[2])
}

func TestKeepLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, strings.Repeat("x", i+1))
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))

	require.NoError(t, keepLastLines(path, 4))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	kept := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, lines[6:], kept)
}

func TestKeepLastLinesMissingFile(t *testing.T) {
	assert.NoError(t, keepLastLines(filepath.Join(t.TempDir(), "absent.csv"), 4))
}

func TestStatusBeforeFirstReading(t *testing.T) {
	m := newTestMonitor(t)
	_, err := m.status()
	require.Error(t, err)
}

func TestStatusSnapshot(t *testing.T) {
	m := newTestMonitor(t)
	m.setLatest(Reading{
		Time:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		BusVoltage: 3.9,
		CurrentMA:  -150,
		PowerW:     0.6,
		Percent:    75,
	})

	snap, err := m.status()
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T03:04:05Z", snap.Time)
	assert.Equal(t, 3.9, snap.BusVoltageV)
	assert.Equal(t, -150.0, snap.CurrentMA)
	assert.Equal(t, 0.6, snap.PowerW)
	assert.Equal(t, 75.0, snap.Percent)
	assert.False(t, snap.OnBattery)
	assert.Equal(t, -1.0, snap.RuntimeHours, "no estimate until the power window fills")
	assert.NotEmpty(t, snap.Hostname)

	fillPowerWindow(m.notifier, 0.5)
	snap, err = m.status()
	require.NoError(t, err)
	assert.InDelta(t, 7.4, snap.RuntimeHours, 1e-9)
}
