//go:build rp2040

package main

import (
	"errors"
	"machine"
	"time"

	"servopio/core"
	"servopio/x/mathx"
)

var (
	ErrSlicePeriod = errors.New("PWM slice already runs at a different period")
	ErrPinNotPWM   = errors.New("pin not configured for PWM")
)

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type. It is
// also the PWM interface tinygo.org/x/drivers/servo expects.
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// pwmChannel is one configured pin.
type pwmChannel struct {
	slice   uint8
	channel uint8
	pulse   time.Duration
	enabled bool
}

// RP2040PWMDriver implements core.PWMDriver on the 8 hardware slices. The
// two channels of a slice share its period.
type RP2040PWMDriver struct {
	periods  [8]time.Duration
	users    [8]uint8
	channels map[core.PWMPin]*pwmChannel
}

func NewRP2040PWMDriver() *RP2040PWMDriver {
	return &RP2040PWMDriver{channels: make(map[core.PWMPin]*pwmChannel)}
}

// GPIO N sits on slice (N>>1)&7, channel A for even pins and B for odd.
func sliceOf(pin core.PWMPin) uint8 {
	return uint8((pin >> 1) & 0x7)
}

func peripheral(slice uint8) pwmPeripheral {
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}

// reserve records period on pin's slice. The other channel of a busy
// slice pins the period.
func (d *RP2040PWMDriver) reserve(pin core.PWMPin, period time.Duration) (pwmPeripheral, error) {
	s := sliceOf(pin)
	_, mine := d.channels[pin]
	others := d.users[s]
	if mine {
		others--
	}
	p := peripheral(s)
	if others > 0 {
		if d.periods[s] != period {
			return nil, ErrSlicePeriod
		}
	} else if err := p.Configure(machine.PWMConfig{Period: uint64(period)}); err != nil {
		return nil, err
	}
	if !mine {
		d.users[s]++
	}
	d.periods[s] = period
	return p, nil
}

func (d *RP2040PWMDriver) ConfigurePeriod(pin core.PWMPin, period time.Duration) error {
	p, err := d.reserve(pin, period)
	if err != nil {
		return err
	}
	ch, err := p.Channel(machine.Pin(pin))
	if err != nil {
		return err
	}
	c, ok := d.channels[pin]
	if !ok {
		c = &pwmChannel{}
		d.channels[pin] = c
	}
	c.slice, c.channel = sliceOf(pin), ch
	p.Set(ch, 0)
	return nil
}

func (d *RP2040PWMDriver) SetPulse(pin core.PWMPin, pulse time.Duration) error {
	c, ok := d.channels[pin]
	if !ok {
		return ErrPinNotPWM
	}
	c.pulse = pulse
	if c.enabled {
		d.apply(c)
	}
	return nil
}

// Enable switches the channel. TinyGo has no per-channel disable, so a
// stopped channel is held at zero duty.
func (d *RP2040PWMDriver) Enable(pin core.PWMPin, on bool) error {
	c, ok := d.channels[pin]
	if !ok {
		return ErrPinNotPWM
	}
	c.enabled = on
	if on {
		d.apply(c)
	} else {
		peripheral(c.slice).Set(c.channel, 0)
	}
	return nil
}

// Release frees pin's share of its slice.
func (d *RP2040PWMDriver) Release(pin core.PWMPin) {
	c, ok := d.channels[pin]
	if !ok {
		return
	}
	peripheral(c.slice).Set(c.channel, 0)
	delete(d.channels, pin)
	d.users[c.slice]--
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinInput})
}

func (d *RP2040PWMDriver) apply(c *pwmChannel) {
	p := peripheral(c.slice)
	period := d.periods[c.slice]
	top := uint64(p.Top())
	duty := mathx.ScaleDiv(uint64(c.pulse), top, uint64(period))
	p.Set(c.channel, uint32(mathx.Min(duty, top)))
}

var _ core.PWMReleaser = (*RP2040PWMDriver)(nil)
