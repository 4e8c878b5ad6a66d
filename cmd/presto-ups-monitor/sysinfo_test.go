package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCPUTemp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp")
	require.NoError(t, os.WriteFile(path, []byte("48123\n"), 0644))
	old := thermalZonePath
	thermalZonePath = path
	defer func() { thermalZonePath = old }()

	temp, err := getCPUTemp()
	require.NoError(t, err)
	assert.InDelta(t, 48.123, temp, 1e-9)
}

func TestGetCPUTempMissingZone(t *testing.T) {
	old := thermalZonePath
	thermalZonePath = filepath.Join(t.TempDir(), "absent")
	defer func() { thermalZonePath = old }()

	_, err := getCPUTemp()
	require.Error(t, err)
}

func TestGetGPUTemp(t *testing.T) {
	old := vcgencmdOutput
	vcgencmdOutput = func() (string, error) { return "temp=48.3'C\n", nil }
	defer func() { vcgencmdOutput = old }()

	temp, err := getGPUTemp()
	require.NoError(t, err)
	assert.InDelta(t, 48.3, temp, 1e-9)
}

func TestGetGPUTempCommandMissing(t *testing.T) {
	old := vcgencmdOutput
	vcgencmdOutput = func() (string, error) { return "", errors.New("executable file not found in $PATH") }
	defer func() { vcgencmdOutput = old }()

	_, err := getGPUTemp()
	require.Error(t, err)
}

func TestParseVcgencmdTemp(t *testing.T) {
	temp, err := parseVcgencmdTemp("temp=42.8'C")
	require.NoError(t, err)
	assert.InDelta(t, 42.8, temp, 1e-9)

	_, err = parseVcgencmdTemp("nonsense")
	assert.Error(t, err)
	_, err = parseVcgencmdTemp("temp=42.8")
	assert.Error(t, err)
}

func TestFormatTemp(t *testing.T) {
	assert.Equal(t, "  48.1 °C", formatTemp(48.123, nil))
	assert.Equal(t, "Unknown", formatTemp(0, errors.New("nope")))
}

func TestGetHostname(t *testing.T) {
	assert.NotEmpty(t, getHostname())
}
