// Package ina219 reads the TI INA219 current/power monitor found on small
// UPS HATs over I2C.
package ina219

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Register addresses.
const (
	regConfig       = 0x00
	regShuntVoltage = 0x01
	regBusVoltage   = 0x02
	regPower        = 0x03
	regCurrent      = 0x04
	regCalibration  = 0x05
)

// Config register fields.
const (
	busVoltageRange16V     = 0x00 // bits 13
	gainDiv2Range80MV      = 0x01 // bits 11-12
	adcRes12Bit32Samples   = 0x0D // bits 7-10 (bus) and 3-6 (shunt)
	modeShuntBusContinuous = 0x07 // bits 0-2
)

// DefaultAddress is where the common UPS HATs put the INA219.
const DefaultAddress = 0x43

// Calibration holds the scaling constants programmed into the chip and used
// to convert raw register values.
type Calibration struct {
	CurrentLSB float64 // mA per bit
	PowerLSB   float64 // W per bit
	CalValue   uint16
	Config     uint16
}

// Calibration16V5A is the 16V bus / 5A shunt profile used by the UPS HATs
// this daemon targets.
func Calibration16V5A() Calibration {
	config := uint16(busVoltageRange16V)<<13 |
		uint16(gainDiv2Range80MV)<<11 |
		uint16(adcRes12Bit32Samples)<<7 |
		uint16(adcRes12Bit32Samples)<<3 |
		uint16(modeShuntBusContinuous)
	return Calibration{
		CurrentLSB: 0.1524,
		PowerLSB:   0.003048,
		CalValue:   26868,
		Config:     config,
	}
}

// Sample is one snapshot of the gauge taken with the device locked across
// the full read sequence.
type Sample struct {
	BusVoltageV   float64
	ShuntVoltageV float64
	CurrentMA     float64
	PowerW        float64
}

// txer is the transaction surface of i2c.Dev.
type txer interface {
	Tx(w, r []byte) error
}

// Device is a handle to an INA219 on the I2C bus.
type Device struct {
	mu  sync.Mutex
	dev txer
	cal Calibration
}

// Open initialises the host, opens the first available I2C bus and connects
// to an INA219 at the given address with the 16V 5A calibration.
func Open(addr uint16) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, err
	}
	return Connect(&i2c.Dev{Bus: bus, Addr: addr}, Calibration16V5A())
}

// Connect programs the calibration profile into the device and returns a
// handle to it.
func Connect(dev txer, cal Calibration) (*Device, error) {
	d := &Device{dev: dev, cal: cal}
	if err := d.writeRegister(regCalibration, cal.CalValue); err != nil {
		return nil, fmt.Errorf("calibrating ina219: %w", err)
	}
	if err := d.writeRegister(regConfig, cal.Config); err != nil {
		return nil, fmt.Errorf("configuring ina219: %w", err)
	}
	return d, nil
}

// Sample reads bus voltage, shunt voltage, current and power while holding
// the device lock so the four values belong to the same instant.
func (d *Device) Sample() (Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var s Sample
	var err error
	if s.BusVoltageV, err = d.busVoltageV(); err != nil {
		return Sample{}, err
	}
	mv, err := d.shuntVoltageMV()
	if err != nil {
		return Sample{}, err
	}
	s.ShuntVoltageV = mv / 1000
	if s.CurrentMA, err = d.currentMA(); err != nil {
		return Sample{}, err
	}
	if s.PowerW, err = d.powerW(); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// BusVoltageV returns the voltage on the load side in volts.
func (d *Device) BusVoltageV() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busVoltageV()
}

// ShuntVoltageMV returns the voltage across the shunt resistor in millivolts.
func (d *Device) ShuntVoltageMV() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shuntVoltageMV()
}

// CurrentMA returns the current through the shunt in milliamps. Negative
// values mean the battery is discharging.
func (d *Device) CurrentMA() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentMA()
}

// PowerW returns the power drawn by the load in watts.
func (d *Device) PowerW() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerW()
}

// A brown-out can reset the calibration register, so it is rewritten before
// the reads that depend on it.
func (d *Device) busVoltageV() (float64, error) {
	if err := d.writeRegister(regCalibration, d.cal.CalValue); err != nil {
		return 0, err
	}
	// The first read flushes a stale conversion, the value comes from the
	// second.
	if _, err := d.readRegister(regBusVoltage); err != nil {
		return 0, err
	}
	raw, err := d.readRegister(regBusVoltage)
	if err != nil {
		return 0, err
	}
	return float64(raw>>3) * 0.004, nil
}

func (d *Device) shuntVoltageMV() (float64, error) {
	if err := d.writeRegister(regCalibration, d.cal.CalValue); err != nil {
		return 0, err
	}
	raw, err := d.readRegister(regShuntVoltage)
	if err != nil {
		return 0, err
	}
	return signed(raw) * 0.01, nil
}

func (d *Device) currentMA() (float64, error) {
	raw, err := d.readRegister(regCurrent)
	if err != nil {
		return 0, err
	}
	return signed(raw) * d.cal.CurrentLSB, nil
}

func (d *Device) powerW() (float64, error) {
	if err := d.writeRegister(regCalibration, d.cal.CalValue); err != nil {
		return 0, err
	}
	raw, err := d.readRegister(regPower)
	if err != nil {
		return 0, err
	}
	return signed(raw) * d.cal.PowerLSB, nil
}

// signed converts a raw register value the way the vendor's driver does:
// values above 0x7FFF subtract 65535, not 65536.
func signed(v uint16) float64 {
	if v > 32767 {
		return float64(int32(v) - 65535)
	}
	return float64(v)
}

func (d *Device) readRegister(reg byte) (uint16, error) {
	r := make([]byte, 2)
	if err := d.dev.Tx([]byte{reg}, r); err != nil {
		return 0, fmt.Errorf("reading register 0x%02X: %w", reg, err)
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

func (d *Device) writeRegister(reg byte, value uint16) error {
	if err := d.dev.Tx([]byte{reg, byte(value >> 8), byte(value & 0xFF)}, nil); err != nil {
		return fmt.Errorf("writing register 0x%02X: %w", reg, err)
	}
	return nil
}
