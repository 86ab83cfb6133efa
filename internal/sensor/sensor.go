// Package sensor reads the node's local instruments over I²C: a BME280
// environment sensor for temperature, humidity and pressure, and an
// INA219 monitor on the battery rail.
//
// Sampling happens before the radio comes up, so a Probe never touches
// the network. Each instrument is optional and fails independently; a
// facet that cannot be read leaves its validity flag clear on the
// returned Reading rather than spoiling the other facet.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/ina219"
	"periph.io/x/host/v3"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
)

// Battery percent is a clamped linear map over the single-cell Li-ion
// usable window.
const (
	batteryEmptyVolts = 3.30
	batteryFullVolts  = 4.15
)

// Options contains dependencies for creating a Probe.
type Options struct {
	// Config selects the bus and the instruments to attach.
	Config config.SensorsConfig

	// Logger for sensor events. If nil, the default logger is used.
	Logger *logging.Logger
}

// Probe owns the I²C bus and the attached instruments for the life of
// the process. Not safe for concurrent use; the episode runner samples
// from a single goroutine.
type Probe struct {
	log   *logging.Logger
	bus   i2c.BusCloser
	env   *bmxx80.Dev
	power *ina219.Dev
}

// New initialises the host drivers, opens the configured I²C bus and
// attaches the enabled instruments. At least one instrument must be
// enabled; a configured instrument that fails to respond fails the
// whole construction so a misconfigured node is caught at startup, not
// silently mute.
//
// Parameters:
//   - opts: Probe creation options
//
// Returns:
//   - *Probe: Ready probe with the enabled instruments attached
//   - error: If no instrument is enabled or the bus or a device fails
func New(opts Options) (*Probe, error) {
	cfg := opts.Config
	if !cfg.Enabled && !cfg.Battery.Enabled {
		return nil, errors.New("sensor: no instrument enabled")
	}

	var envAddr uint16
	if cfg.Enabled {
		a, err := deviceAddr(cfg.BME280Addr)
		if err != nil {
			return nil, fmt.Errorf("sensor: bme280: %w", err)
		}
		envAddr = a
	}
	iopts := ina219.DefaultOpts
	if cfg.Battery.Enabled && cfg.Battery.Addr != 0 {
		a, err := deviceAddr(cfg.Battery.Addr)
		if err != nil {
			return nil, fmt.Errorf("sensor: ina219: %w", err)
		}
		iopts.Address = int(a)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.With("component", "sensor")

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("sensor: initialising host drivers: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("sensor: opening i2c bus %q: %w", cfg.I2CBus, err)
	}

	p := &Probe{log: log, bus: bus}

	if cfg.Enabled {
		dev, err := bmxx80.NewI2C(bus, envAddr, &bmxx80.DefaultOpts)
		if err != nil {
			p.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("sensor: attaching bme280 at %#x: %w", envAddr, err)
		}
		p.env = dev
		log.Info("environment sensor attached", "device", dev.String(), "addr", fmt.Sprintf("%#x", envAddr))
	}

	if cfg.Battery.Enabled {
		dev, err := ina219.New(bus, &iopts)
		if err != nil {
			p.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("sensor: attaching ina219 at %#x: %w", iopts.Address, err)
		}
		p.power = dev
		log.Info("battery monitor attached", "addr", fmt.Sprintf("%#x", iopts.Address))
	}

	return p, nil
}

// Sample reads every attached instrument once.
//
// A facet that fails to read is logged and left invalid on the
// Reading. The error is non-nil only when every attached instrument
// failed, so callers can treat it as "nothing fresh this wake".
func (p *Probe) Sample(ctx context.Context) (telemetry.Reading, error) {
	r := telemetry.Reading{TakenAt: time.Now()}

	var errs []error

	if p.env != nil {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		var e physic.Env
		if err := p.env.Sense(&e); err != nil {
			p.log.Warn("environment sense failed", "error", err)
			errs = append(errs, fmt.Errorf("sensor: sensing environment: %w", err))
		} else {
			r.TempC, r.Humidity, r.PressureHPa = envValues(e)
			r.HasEnv = true
		}
	}

	if p.power != nil {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		pm, err := p.power.Sense()
		if err != nil {
			p.log.Warn("battery sense failed", "error", err)
			errs = append(errs, fmt.Errorf("sensor: sensing battery: %w", err))
		} else {
			r.BatteryVolts, r.BatteryPercent = batteryValues(pm)
			r.HasBattery = true
		}
	}

	if !r.HasEnv && !r.HasBattery {
		return r, errors.Join(errs...)
	}
	return r, nil
}

// Close puts the environment sensor to sleep and releases the bus.
// Safe to call more than once.
func (p *Probe) Close() error {
	var errs []error

	if p.env != nil {
		if err := p.env.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("sensor: halting bme280: %w", err))
		}
		p.env = nil
	}
	p.power = nil

	if p.bus != nil {
		if err := p.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sensor: closing bus: %w", err))
		}
		p.bus = nil
	}

	return errors.Join(errs...)
}

// deviceAddr validates a configured address against the 7-bit
// addressing range.
func deviceAddr(addr int) (uint16, error) {
	if addr <= 0 || addr > 0x7f {
		return 0, fmt.Errorf("address %#x outside 7-bit range", addr)
	}
	return uint16(addr), nil
}

// envValues converts a sensed environment into the units the node
// publishes: °C, %RH and hPa.
func envValues(e physic.Env) (tempC, humidity, pressureHPa float64) {
	tempC = e.Temperature.Celsius()
	humidity = float64(e.Humidity) / float64(physic.PercentRH)
	pressureHPa = float64(e.Pressure) / float64(100*physic.Pascal)
	return tempC, humidity, pressureHPa
}

// batteryValues converts a power reading into bus volts and a charge
// estimate.
func batteryValues(pm ina219.PowerMonitor) (volts, percent float64) {
	volts = float64(pm.Voltage) / float64(physic.Volt)
	return volts, batteryPercent(volts)
}

// batteryPercent maps bus voltage onto the Li-ion usable window,
// clamped at the cut-offs. One decimal of resolution.
func batteryPercent(volts float64) float64 {
	switch {
	case volts <= batteryEmptyVolts:
		return 0
	case volts >= batteryFullVolts:
		return 100
	}
	p := (volts - batteryEmptyVolts) / (batteryFullVolts - batteryEmptyVolts) * 100
	return math.Round(p*10) / 10
}
