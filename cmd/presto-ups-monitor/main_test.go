package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	conf, err := loadConfig(argSpec{ConfigDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "0x43", conf.AddrStr)
	assert.Equal(t, uint16(0x43), conf.Addr)
	assert.Equal(t, "https://ntfy.sh", conf.NtfyServer)
	assert.Equal(t, "pizero_UPSc", conf.NtfyTopic)
	assert.Equal(t, 0.5, conf.PowerThreshold)
	assert.Equal(t, 20.0, conf.PercentThreshold)
	assert.Equal(t, 1000, conf.BatteryCapacityMAh)
	assert.Equal(t, 3.7, conf.BatteryVoltage)
	assert.Equal(t, 2*time.Second, conf.SampleInterval)
	assert.Equal(t, 10*time.Second, conf.ReportInterval)
	assert.Equal(t, "/var/log/presto-ups.csv", conf.CSVLog)
	assert.Empty(t, conf.MQTTBroker)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := "addr = \"0x40\"\npower-threshold = 1.5\nntfy-topic = \"my_ups\"\nsample-interval = \"500ms\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presto-ups.toml"), []byte(content), 0644))

	conf, err := loadConfig(argSpec{ConfigDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "0x40", conf.AddrStr)
	assert.Equal(t, uint16(0x40), conf.Addr)
	assert.Equal(t, 1.5, conf.PowerThreshold)
	assert.Equal(t, "my_ups", conf.NtfyTopic)
	assert.Equal(t, 500*time.Millisecond, conf.SampleInterval)
	// Keys the file does not set keep their defaults.
	assert.Equal(t, 20.0, conf.PercentThreshold)
	assert.Equal(t, 10*time.Second, conf.ReportInterval)
}

func TestFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presto-ups.toml"), []byte("addr = \"0x40\"\n"), 0644))

	addr := "0x41"
	conf, err := loadConfig(argSpec{ConfigDir: dir, Addr: &addr})
	require.NoError(t, err)
	assert.Equal(t, "0x41", conf.AddrStr)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presto-ups.toml"), []byte("power-threshold = 1.5\n"), 0644))
	t.Setenv("PRESTO_POWER_THRESHOLD", "2.5")

	conf, err := loadConfig(argSpec{ConfigDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 2.5, conf.PowerThreshold)
}

func TestEnvFileLoads(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "presto.env")
	require.NoError(t, os.WriteFile(envPath, []byte("PRESTO_NTFY_TOPIC=env_topic\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("PRESTO_NTFY_TOPIC") })

	conf, err := loadConfig(argSpec{ConfigDir: t.TempDir(), EnvFile: envPath})
	require.NoError(t, err)
	assert.Equal(t, "env_topic", conf.NtfyTopic)
}

func TestEnvFileMissing(t *testing.T) {
	_, err := loadConfig(argSpec{
		ConfigDir: t.TempDir(),
		EnvFile:   filepath.Join(t.TempDir(), "absent.env"),
	})
	require.Error(t, err)
}

func TestMalformedConfigFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "presto-ups.toml"), []byte("addr = [unclosed\n"), 0644))

	_, err := loadConfig(argSpec{ConfigDir: dir})
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	require.NoError(t, testConfig().validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"addr without prefix", func(c *Config) { c.AddrStr = "43" }},
		{"addr too long", func(c *Config) { c.AddrStr = "0x433" }},
		{"addr not hex", func(c *Config) { c.AddrStr = "0xZZ" }},
		{"zero power threshold", func(c *Config) { c.PowerThreshold = 0 }},
		{"negative power threshold", func(c *Config) { c.PowerThreshold = -1 }},
		{"zero percent threshold", func(c *Config) { c.PercentThreshold = 0 }},
		{"percent threshold above 100", func(c *Config) { c.PercentThreshold = 100.1 }},
		{"zero capacity", func(c *Config) { c.BatteryCapacityMAh = 0 }},
		{"zero voltage", func(c *Config) { c.BatteryVoltage = 0 }},
		{"zero sample interval", func(c *Config) { c.SampleInterval = 0 }},
		{"zero report interval", func(c *Config) { c.ReportInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := testConfig()
			tt.mutate(conf)
			assert.Error(t, conf.validate())
		})
	}
}

func TestConfigValidationBounds(t *testing.T) {
	conf := testConfig()
	conf.PercentThreshold = 100
	assert.NoError(t, conf.validate(), "100 percent is allowed")

	conf = testConfig()
	conf.AddrStr = "0x4A"
	assert.NoError(t, conf.validate())
	conf.AddrStr = "0x4a"
	assert.NoError(t, conf.validate())
}
