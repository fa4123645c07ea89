//go:build rp2040

package main

import (
	"machine"
	"time"

	"servopio/core"
	"servopio/protocol"
	"servopio/targets/pio"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	messagesReceived uint32
	messagesSent     uint32
	msgerrors        uint32
)

func main() {
	// Clear any watchdog state left over from the previous boot.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	m := GetMode()
	link := openLink(m)

	InitClock()
	core.TimerInit()
	initServoBackends()

	if m.Standalone {
		RunStandaloneMode(link)
		return
	}
	runKlipperMode(link)
}

// initServoBackends installs a factory for every backend kind this board
// supports.
func initServoBackends() {
	pwm := NewRP2040PWMDriver()
	core.SetServoBackendFactory(core.BackendPWM, core.PWMBackendFactory(pwm))
	core.SetServoBackendFactory(core.BackendDriver, driverBackendFactory(pwm))
	pio.InitServos()
}

func runKlipperMode(link commandLink) {
	core.InitCoreCommands()
	core.InitServoCommands()

	// Must happen before BuildDictionary.
	registerPins()

	// Build and cache the compressed dictionary once everything is
	// registered.
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// serialqueue expects the ACK before any response, so flush it at once.
	transport.SetFlushCallback(func() {
		flushOutput(link)
	})
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugPrintln("[cmd] id=" + itoa(int(cmdID)) + ": " + err.Error())
	})
	core.SetGlobalTransport(transport)

	// FIRMWARE_RESTART resets through the watchdog, which also makes the
	// USB device re-enumerate cleanly.
	core.SetResetHandler(func() {
		core.ResetServos()
		if machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}) != nil {
			return
		}
		if machine.Watchdog.Start() != nil {
			return
		}
		for {
			time.Sleep(time.Millisecond)
		}
	})

	onReconnect = func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		transport.Reset()
		core.ResetFirmwareState()
		messagesReceived = 0
		messagesSent = 0
	}
	go readerLoop(link, inputBuffer)

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				in := protocol.NewSliceInputBuffer(data)
				transport.Receive(in)
				messagesReceived++
				if consumed := len(data) - in.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			if len(outputBuffer.Result()) > 0 {
				flushOutput(link)
				messagesSent++
			}

			// Only after the ACK has gone out.
			core.CheckPendingReset()

			core.ProcessTimers()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// flushOutput writes pending frames. Stale output is dropped once the link
// is marked lost.
func flushOutput(link commandLink) {
	out := outputBuffer.Result()
	if len(out) == 0 {
		return
	}
	if writeAll(link, out) || reconnectPending {
		outputBuffer.Reset()
	}
}

// registerPins publishes gpio0..gpio29 so the host can name pins.
func registerPins() {
	names := make([]string, 30)
	for i := range names {
		names[i] = "gpio" + itoa(i)
	}
	core.RegisterEnumeration("pin", names)
}

// itoa avoids pulling strconv into the firmware image.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
