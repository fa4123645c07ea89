//go:build rp2040

package main

import (
	"machine"
	"time"

	"servopio/core"
	"servopio/protocol"
	"servopio/standalone"
	"servopio/standalone/config"
)

// RunStandaloneMode drives the configured servos without a host: the demo
// sweep runs from boot and the link accepts servo G-code.
func RunStandaloneMode(link commandLink) {
	mgr := standalone.NewManager(config.DefaultSweepConfig())
	if err := mgr.Initialize(); err != nil {
		core.DebugPrintln("[standalone] " + err.Error())
		blinkForever(100 * time.Millisecond)
	}
	if err := mgr.Start(); err != nil {
		core.DebugPrintln("[standalone] " + err.Error())
		blinkForever(100 * time.Millisecond)
	}
	blink(3, 200*time.Millisecond)

	in := protocol.NewFifoBuffer(256)
	go readerLoop(link, in)

	buf := make([]byte, 64)
	for {
		UpdateSystemTime()

		for n := in.Read(buf); n > 0; n = in.Read(buf) {
			for _, b := range buf[:n] {
				if err := mgr.ProcessByte(b); err != nil {
					mgr.SendResponse("Error: " + err.Error() + "\n")
				}
			}
		}

		if out := mgr.GetOutput(); len(out) > 0 {
			writeAll(link, out)
		}

		core.ProcessTimers()

		time.Sleep(10 * time.Microsecond)
	}
}

var ledConfigured bool

func blink(times int, d time.Duration) {
	led := machine.LED
	if !ledConfigured {
		led.Configure(machine.PinConfig{Mode: machine.PinOutput})
		ledConfigured = true
	}
	for i := 0; i < times; i++ {
		led.High()
		time.Sleep(d)
		led.Low()
		time.Sleep(d)
	}
}

// blinkForever signals a fatal setup error.
func blinkForever(d time.Duration) {
	for {
		blink(1, d)
	}
}
