//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"servopio/core"
	"servopio/targets/pio"
)

// The RP2040 TIMER block counts microseconds; the core timer only needs
// the low word.
const (
	timerBase = 0x40054000
	timerRAWL = timerBase + 0x28
)

var rawLow = (*volatile.Register32)(unsafe.Pointer(uintptr(timerRAWL)))

// InitClock registers the clock constants the host reads from the
// dictionary. The core timer runs straight off the 1 MHz hardware counter.
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
	core.RegisterConstant("CLOCK_FREQ", uint32(core.TimerFreq))
	core.RegisterConstant("PIO_SERVO_COUNT_HZ", uint32(pio.CountHz))
}

// UpdateSystemTime copies the hardware counter into the core timer. Called
// from every main loop pass before timers are dispatched.
func UpdateSystemTime() {
	core.SetTime(rawLow.Get())
}
