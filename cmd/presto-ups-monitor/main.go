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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/piklz/presto-ups/ina219"
	"github.com/piklz/presto-ups/ntfy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var version = "No version provided"

var log = logrus.New()

type argSpec struct {
	Addr             *string            `arg:"--addr" help:"I2C address of the INA219 (e.g. 0x43)"`
	NtfyServer       *string            `arg:"--ntfy-server" help:"ntfy server URL"`
	NtfyTopic        *string            `arg:"--ntfy-topic" help:"ntfy topic for notifications"`
	PowerThreshold   *float64           `arg:"--power-threshold" help:"Power threshold for alerts in watts"`
	PercentThreshold *float64           `arg:"--percent-threshold" help:"Battery percentage threshold for alerts"`
	BatteryCapacity  *int               `arg:"--battery-capacity" help:"Battery capacity in mAh"`
	BatteryVoltage   *float64           `arg:"--battery-voltage" help:"Battery nominal voltage in volts"`
	SampleInterval   *time.Duration     `arg:"--sample-interval" help:"Time between sensor samples"`
	ReportInterval   *time.Duration     `arg:"--report-interval" help:"Time between consolidated reports"`
	MQTTBroker       *string            `arg:"--mqtt-broker" help:"MQTT broker URL for telemetry, e.g. tcp://broker:1883 (disabled when empty)"`
	MQTTUser         *string            `arg:"--mqtt-user" help:"MQTT username"`
	MQTTPassword     *string            `arg:"--mqtt-password" help:"MQTT password"`
	CSVLog           *string            `arg:"--csv-log" help:"Path of the CSV data log"`
	ConfigDir        string             `arg:"-c,--config" default:"/etc/presto-ups" help:"Directory of the config file"`
	EnvFile          string             `arg:"--env-file" help:"Env file loaded before reading PRESTO_* variables"`
	LogLevel         string             `arg:"-l,--log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
	InstallService   *installServiceCmd `arg:"subcommand:install-service" help:"Install and start the systemd service"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{}
	arg.MustParse(&args)
	return args
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

// Config is the effective monitor configuration after merging defaults, the
// TOML config file, PRESTO_* environment variables and CLI flags.
type Config struct {
	AddrStr            string
	Addr               uint16
	NtfyServer         string
	NtfyTopic          string
	PowerThreshold     float64
	PercentThreshold   float64
	BatteryCapacityMAh int
	BatteryVoltage     float64
	SampleInterval     time.Duration
	ReportInterval     time.Duration
	MQTTBroker         string
	MQTTUser           string
	MQTTPassword       string
	CSVLog             string
	ConfigDir          string
}

var addrRe = regexp.MustCompile(`^0x[0-9A-Fa-f]{2}$`)

func loadConfig(args argSpec) (*Config, error) {
	v := viper.New()
	v.SetDefault("addr", "0x43")
	v.SetDefault("ntfy-server", "https://ntfy.sh")
	v.SetDefault("ntfy-topic", "pizero_UPSc")
	v.SetDefault("power-threshold", 0.5)
	v.SetDefault("percent-threshold", 20.0)
	v.SetDefault("battery-capacity", 1000)
	v.SetDefault("battery-voltage", 3.7)
	v.SetDefault("sample-interval", 2*time.Second)
	v.SetDefault("report-interval", 10*time.Second)
	v.SetDefault("mqtt-broker", "")
	v.SetDefault("mqtt-user", "")
	v.SetDefault("mqtt-password", "")
	v.SetDefault("csv-log", "/var/log/presto-ups.csv")

	v.SetConfigName("presto-ups")
	v.SetConfigType("toml")
	v.AddConfigPath(args.ConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if args.EnvFile != "" {
		if err := godotenv.Load(args.EnvFile); err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}
	v.SetEnvPrefix("presto")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if args.Addr != nil {
		v.Set("addr", *args.Addr)
	}
	if args.NtfyServer != nil {
		v.Set("ntfy-server", *args.NtfyServer)
	}
	if args.NtfyTopic != nil {
		v.Set("ntfy-topic", *args.NtfyTopic)
	}
	if args.PowerThreshold != nil {
		v.Set("power-threshold", *args.PowerThreshold)
	}
	if args.PercentThreshold != nil {
		v.Set("percent-threshold", *args.PercentThreshold)
	}
	if args.BatteryCapacity != nil {
		v.Set("battery-capacity", *args.BatteryCapacity)
	}
	if args.BatteryVoltage != nil {
		v.Set("battery-voltage", *args.BatteryVoltage)
	}
	if args.SampleInterval != nil {
		v.Set("sample-interval", *args.SampleInterval)
	}
	if args.ReportInterval != nil {
		v.Set("report-interval", *args.ReportInterval)
	}
	if args.MQTTBroker != nil {
		v.Set("mqtt-broker", *args.MQTTBroker)
	}
	if args.MQTTUser != nil {
		v.Set("mqtt-user", *args.MQTTUser)
	}
	if args.MQTTPassword != nil {
		v.Set("mqtt-password", *args.MQTTPassword)
	}
	if args.CSVLog != nil {
		v.Set("csv-log", *args.CSVLog)
	}

	conf := &Config{
		AddrStr:            v.GetString("addr"),
		NtfyServer:         v.GetString("ntfy-server"),
		NtfyTopic:          v.GetString("ntfy-topic"),
		PowerThreshold:     v.GetFloat64("power-threshold"),
		PercentThreshold:   v.GetFloat64("percent-threshold"),
		BatteryCapacityMAh: v.GetInt("battery-capacity"),
		BatteryVoltage:     v.GetFloat64("battery-voltage"),
		SampleInterval:     v.GetDuration("sample-interval"),
		ReportInterval:     v.GetDuration("report-interval"),
		MQTTBroker:         v.GetString("mqtt-broker"),
		MQTTUser:           v.GetString("mqtt-user"),
		MQTTPassword:       v.GetString("mqtt-password"),
		CSVLog:             v.GetString("csv-log"),
		ConfigDir:          args.ConfigDir,
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(conf.AddrStr, "0x"), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("parsing I2C address: %w", err)
	}
	conf.Addr = uint16(addr)
	return conf, nil
}

func (c *Config) validate() error {
	if !addrRe.MatchString(c.AddrStr) {
		return errors.New("invalid I2C address format, use hex (e.g. 0x43)")
	}
	if c.PowerThreshold <= 0 {
		return errors.New("power threshold must be positive")
	}
	if c.PercentThreshold <= 0 || c.PercentThreshold > 100 {
		return errors.New("percent threshold must be between 0 and 100")
	}
	if c.BatteryCapacityMAh <= 0 {
		return errors.New("battery capacity must be positive")
	}
	if c.BatteryVoltage <= 0 {
		return errors.New("battery voltage must be positive")
	}
	if c.SampleInterval <= 0 {
		return errors.New("sample interval must be positive")
	}
	if c.ReportInterval <= 0 {
		return errors.New("report interval must be positive")
	}
	return nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func runMain() error {
	log.SetFormatter(new(customFormatter))
	args := procArgs()
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	conf, err := loadConfig(args)
	if err != nil {
		return err
	}

	if args.InstallService != nil {
		return installService(args.InstallService, conf)
	}

	log.Info("Connecting to INA219 at ", conf.AddrStr)
	dev, err := ina219.Open(conf.Addr)
	if err != nil {
		return err
	}

	notifier := newNotifier(conf, ntfy.New(conf.NtfyServer, conf.NtfyTopic))
	monitor := newMonitor(conf, notifier)

	if err := startService(monitor); err != nil {
		return err
	}

	stop := make(chan struct{})

	if conf.MQTTBroker != "" {
		telemetry, err := startTelemetry(conf, stop)
		if err != nil {
			return err
		}
		monitor.telemetry = telemetry
		notifier.publishEvent = telemetry.publishEvent
	}

	readings := make(chan Reading, queueSize)
	go sampleLoop(dev, conf.SampleInterval, notifier, readings, stop)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received ", sig, ", stopping")
		close(stop)
	}()

	return monitor.run(readings, stop)
}
