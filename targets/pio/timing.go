package pio

import (
	"errors"
	"time"

	"servopio/x/mathx"
)

// The servo program counts in units of CountPeriod. Each count is one pass
// of a two-instruction loop, so the state machine runs at twice CountHz.
const (
	CountHz     = 10_000_000
	CountPeriod = time.Second / CountHz
	smHz        = 2 * CountHz
)

// Fixed instruction overhead per PWM cycle, in counts, outside the loop.
const (
	periodOverhead = 3
	pulseOverhead  = 2
)

// PulseOff keeps the output low for whole cycles: the loop counter never
// reaches it.
const PulseOff = ^uint32(0)

var (
	ErrClockTooSlow = errors.New("system clock too slow for PIO servo timing")
	ErrBadPeriod    = errors.New("PIO servo period out of range")
)

// ClockDivider returns the 16.8 fixed-point divider that brings cpuHz down
// to the state machine rate.
func ClockDivider(cpuHz uint32) (whole uint16, frac uint8, err error) {
	div := uint64(cpuHz) * 256 / smHz
	if div < 256 || div>>8 > 0xffff {
		return 0, 0, ErrClockTooSlow
	}
	return uint16(div >> 8), uint8(div), nil
}

func counts(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / CountPeriod)
}

// PeriodLoops converts a cycle period into the value preloaded into ISR.
func PeriodLoops(period time.Duration) (uint32, error) {
	c := counts(period)
	if c <= periodOverhead || c > uint64(PulseOff-1) {
		return 0, ErrBadPeriod
	}
	return uint32(c - periodOverhead), nil
}

// PulseLoops converts a pulse width into the value the program compares
// against its down counter. Zero width maps to PulseOff; widths at or past
// the period saturate to a fully high cycle.
func PulseLoops(pulse time.Duration, periodLoops uint32) uint32 {
	c := counts(pulse)
	if c == 0 {
		return PulseOff
	}
	if c <= pulseOverhead {
		return 0
	}
	return uint32(mathx.Min(c-pulseOverhead, uint64(periodLoops)))
}
