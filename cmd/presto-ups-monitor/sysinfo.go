package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Overridable in tests.
var (
	thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"
	vcgencmdOutput  = func() (string, error) {
		out, err := exec.Command("vcgencmd", "measure_temp").Output()
		return string(out), err
	}
)

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "Unknown"
	}
	return hostname
}

// getIPAddress finds the address this host would route external traffic
// from. The dial is UDP so no packet is sent.
func getIPAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "Unknown"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func getCPUTemp() (float64, error) {
	raw, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, err
	}
	return milli / 1000, nil
}

func getGPUTemp() (float64, error) {
	out, err := vcgencmdOutput()
	if err != nil {
		return 0, err
	}
	return parseVcgencmdTemp(out)
}

// parseVcgencmdTemp pulls the value out of vcgencmd output like
// "temp=48.3'C".
func parseVcgencmdTemp(out string) (float64, error) {
	out = strings.TrimSpace(out)
	_, value, found := strings.Cut(out, "=")
	if !found {
		return 0, fmt.Errorf("unexpected vcgencmd output: %q", out)
	}
	value, _, found = strings.Cut(value, "'")
	if !found {
		return 0, fmt.Errorf("unexpected vcgencmd output: %q", out)
	}
	return strconv.ParseFloat(value, 64)
}

func formatTemp(temp float64, err error) string {
	if err != nil {
		return "Unknown"
	}
	return fmt.Sprintf("%6.1f °C", temp)
}
