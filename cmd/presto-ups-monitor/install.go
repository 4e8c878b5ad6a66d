package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/piklz/presto-ups/ntfy"
)

type installServiceCmd struct {
	Force bool `arg:"--force" help:"Reinstall without prompting"`
}

const (
	serviceName   = "presto-ups.service"
	servicePath   = "/etc/systemd/system/" + serviceName
	logrotatePath = "/etc/logrotate.d/presto-ups"
)

const serviceTemplate = `[Unit]
Description=Raspberry Pi Presto UPS Monitor Service
After=network.target

[Service]
ExecStart=%s --config %s
Restart=always

[Install]
WantedBy=multi-user.target
`

const logrotateTemplate = `%s {
    size 1M
    rotate 7
    compress
    missingok
    notifempty
    copytruncate
}
`

// installService writes the config, systemd unit and logrotate files, then
// enables and starts the service.
func installService(cmd *installServiceCmd, conf *Config) error {
	if os.Geteuid() != 0 {
		return errors.New("service installation must be run as root (use sudo)")
	}

	if _, err := os.Stat(servicePath); err == nil {
		if !cmd.Force && !confirm(serviceName+" is already installed, reinstall?") {
			log.Info("Aborting installation")
			return nil
		}
		log.Info("Stopping ", serviceName)
		if err := runSystemctl("stop", serviceName); err != nil {
			log.Warnf("Failed to stop %s: %v", serviceName, err)
		}
	}

	if err := writeConfigFile(conf); err != nil {
		return err
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("finding current executable: %w", err)
	}

	log.Info("Writing ", servicePath)
	unit := fmt.Sprintf(serviceTemplate, exePath, conf.ConfigDir)
	if err := os.WriteFile(servicePath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", servicePath, err)
	}

	createLogrotateFile(conf.CSVLog)

	for _, action := range []string{"daemon-reload", "enable", "start"} {
		target := serviceName
		if action == "daemon-reload" {
			target = ""
		}
		log.Info("Running systemctl ", action, " ", target)
		if err := runSystemctl(action, target); err != nil {
			return err
		}
	}

	testNtfy(conf)

	log.Info("To check logs: sudo journalctl -u ", serviceName)
	log.Info("To stop the service: sudo systemctl stop ", serviceName)
	log.Info("To disable the service: sudo systemctl disable ", serviceName)
	return nil
}

// writeConfigFile writes the effective config to the config dir, skipping if
// one already exists.
func writeConfigFile(conf *Config) error {
	configPath := filepath.Join(conf.ConfigDir, "presto-ups.toml")
	if _, err := os.Stat(configPath); err == nil {
		log.Info(configPath, " already exists, skipping")
		return nil
	}
	if err := os.MkdirAll(conf.ConfigDir, 0755); err != nil {
		return err
	}
	content := fmt.Sprintf(
		"addr = %q\n"+
			"ntfy-server = %q\n"+
			"ntfy-topic = %q\n"+
			"power-threshold = %v\n"+
			"percent-threshold = %v\n"+
			"battery-capacity = %d\n"+
			"battery-voltage = %v\n"+
			"sample-interval = %q\n"+
			"report-interval = %q\n"+
			"mqtt-broker = %q\n"+
			"csv-log = %q\n",
		conf.AddrStr, conf.NtfyServer, conf.NtfyTopic, conf.PowerThreshold,
		conf.PercentThreshold, conf.BatteryCapacityMAh, conf.BatteryVoltage,
		conf.SampleInterval.String(), conf.ReportInterval.String(),
		conf.MQTTBroker, conf.CSVLog)
	log.Info("Writing ", configPath)
	return os.WriteFile(configPath, []byte(content), 0644)
}

func createLogrotateFile(csvLog string) {
	if _, err := os.Stat("/usr/sbin/logrotate"); os.IsNotExist(err) {
		log.Warn("logrotate not found. Install with 'sudo apt-get install logrotate'")
		return
	}
	if _, err := os.Stat(logrotatePath); err == nil {
		log.Info(logrotatePath, " already exists, skipping")
		return
	}
	log.Info("Writing ", logrotatePath)
	content := fmt.Sprintf(logrotateTemplate, csvLog)
	if err := os.WriteFile(logrotatePath, []byte(content), 0644); err != nil {
		log.Warnf("Failed to write %s: %v", logrotatePath, err)
	}
}

func testNtfy(conf *Config) {
	client := ntfy.New(conf.NtfyServer, conf.NtfyTopic)
	err := client.Send(notificationTitle, "presto-ups test notification from "+getHostname())
	if err != nil {
		log.Warnf("Failed to send test notification, check network or ntfy server/topic: %v", err)
		return
	}
	log.Infof("ntfy test notification sent, check your topic (%s/%s)", conf.NtfyServer, conf.NtfyTopic)
}

func runSystemctl(args ...string) error {
	cmdArgs := []string{}
	for _, a := range args {
		if a != "" {
			cmdArgs = append(cmdArgs, a)
		}
	}
	out, err := exec.Command("systemctl", cmdArgs...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %v, %s", strings.Join(cmdArgs, " "), err, out)
	}
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
