package main

import (
	"time"

	"github.com/piklz/presto-ups/ina219"
)

const (
	queueSize    = 32
	errorLogRate = 30 * time.Second
)

// Reading is one battery snapshot handed from the sampler to the main loop.
type Reading struct {
	Time         time.Time
	BusVoltage   float64 // V
	ShuntVoltage float64 // V
	CurrentMA    float64
	PowerW       float64
	Percent      float64
}

// gauge is the part of the ina219 driver the sampler needs.
type gauge interface {
	Sample() (ina219.Sample, error)
}

// sampleLoop reads the gauge on every tick and feeds readings into the
// queue, blocking when the consumer falls behind. Read failures skip the
// tick; the loop never gives up on the bus.
func sampleLoop(dev gauge, interval time.Duration, n *notifier, readings chan<- Reading, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastErrLog := time.Time{}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s, err := dev.Sample()
		if err != nil {
			if time.Since(lastErrLog) > errorLogRate {
				log.Errorf("Sampling error: %v", err)
				lastErrLog = time.Now()
			} else {
				log.Debugf("Sampling error: %v", err)
			}
			continue
		}

		r := Reading{
			Time:         time.Now(),
			BusVoltage:   s.BusVoltageV,
			ShuntVoltage: s.ShuntVoltageV,
			CurrentMA:    s.CurrentMA,
			PowerW:       s.PowerW,
			Percent:      percentFromVoltage(s.BusVoltageV),
		}
		log.Debugf("Sampled %.3f V, %.1f mA, %.3f W, %.1f%%", r.BusVoltage, r.CurrentMA, r.PowerW, r.Percent)

		select {
		case readings <- r:
		case <-stop:
			return
		}
		n.recordPower(r.PowerW)
	}
}

// percentFromVoltage maps bus voltage onto the pack's usable 3.0 to 4.2 V
// range, clamped to 0-100.
func percentFromVoltage(busVoltage float64) float64 {
	percent := (busVoltage - 3.0) / 1.2 * 100
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	return percent
}
