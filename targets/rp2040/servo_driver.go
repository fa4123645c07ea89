//go:build rp2040

package main

import (
	"errors"
	"machine"
	"math"
	"time"

	"servopio/core"
	"servopio/servo"
	"servopio/x/mathx"

	xservo "tinygo.org/x/drivers/servo"
)

// drivers/servo configures its slice for a fixed 50 Hz refresh.
const driverPeriod = 20 * time.Millisecond

var ErrDriverPeriod = errors.New("driver backend only supports a 20ms period")

// driverBackend runs a servo through tinygo.org/x/drivers/servo. It shares
// slice bookkeeping with the PWM backend so the two cannot fight over a
// slice's period.
type driverBackend struct {
	drv        *RP2040PWMDriver
	pin        core.PWMPin
	dev        xservo.Servo
	configured bool
	pulse      time.Duration
	running    bool
}

func driverBackendFactory(d *RP2040PWMDriver) core.ServoBackendFactory {
	return func(pin uint32) (servo.Backend, error) {
		return &driverBackend{drv: d, pin: core.PWMPin(pin)}, nil
	}
}

func (b *driverBackend) SetPeriod(period time.Duration) error {
	if period != driverPeriod {
		return ErrDriverPeriod
	}
	if _, err := b.drv.reserve(b.pin, period); err != nil {
		return err
	}
	s := sliceOf(b.pin)
	b.drv.channels[b.pin] = &pwmChannel{slice: s}
	dev, err := xservo.New(peripheral(s), machine.Pin(b.pin))
	if err != nil {
		b.drv.Release(b.pin)
		return err
	}
	b.dev = dev
	b.configured = true
	b.dev.SetMicroseconds(0)
	return nil
}

func (b *driverBackend) set(d time.Duration) error {
	if !b.configured {
		return ErrPinNotPWM
	}
	b.dev.SetMicroseconds(int16(mathx.Clamp(d/time.Microsecond, 0, math.MaxInt16)))
	return nil
}

func (b *driverBackend) Start() error {
	b.running = true
	return b.set(b.pulse)
}

func (b *driverBackend) Stop() error {
	b.running = false
	return b.set(0)
}

func (b *driverBackend) Write(pulse time.Duration) error {
	b.pulse = pulse
	if !b.running {
		return nil
	}
	return b.set(pulse)
}

func (b *driverBackend) Release() error {
	if b.configured {
		b.drv.Release(b.pin)
		b.configured = false
	}
	return nil
}
