package core

import (
	"time"

	"servopio/servo"
)

// PWMPin identifies a GPIO driven by a hardware PWM slice.
type PWMPin uint32

// PWMDriver is the hardware PWM abstraction targets implement. Periods and
// pulses are given as durations; the driver converts them to slice counts.
type PWMDriver interface {
	// ConfigurePeriod routes pin to its PWM channel and sets the cycle
	// period. The output stays disabled.
	ConfigurePeriod(pin PWMPin, period time.Duration) error

	// SetPulse sets the high time per cycle.
	SetPulse(pin PWMPin, pulse time.Duration) error

	// Enable starts or stops the channel. A stopped channel holds the pin
	// low.
	Enable(pin PWMPin, on bool) error
}

// PWMReleaser is implemented by drivers that track per-pin hardware, such
// as a slice shared by two channels.
type PWMReleaser interface {
	Release(pin PWMPin)
}

// pwmBackend exposes one pin of a PWMDriver as a servo.Backend.
type pwmBackend struct {
	drv PWMDriver
	pin PWMPin
}

func NewPWMBackend(drv PWMDriver, pin PWMPin) servo.Backend {
	return &pwmBackend{drv: drv, pin: pin}
}

func (b *pwmBackend) SetPeriod(d time.Duration) error {
	return b.drv.ConfigurePeriod(b.pin, d)
}

func (b *pwmBackend) Start() error {
	return b.drv.Enable(b.pin, true)
}

func (b *pwmBackend) Stop() error {
	return b.drv.Enable(b.pin, false)
}

func (b *pwmBackend) Write(pulse time.Duration) error {
	return b.drv.SetPulse(b.pin, pulse)
}

func (b *pwmBackend) Release() error {
	if r, ok := b.drv.(PWMReleaser); ok {
		r.Release(b.pin)
	}
	return nil
}

// PWMBackendFactory builds servo backends on d, for
// SetServoBackendFactory(BackendPWM, ...).
func PWMBackendFactory(d PWMDriver) ServoBackendFactory {
	return func(pin uint32) (servo.Backend, error) {
		return NewPWMBackend(d, PWMPin(pin)), nil
	}
}
