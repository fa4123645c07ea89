//go:build rp2040

package main

import (
	"context"
	"machine"
	"time"

	"servopio/core"
	"servopio/protocol"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// commandLink carries host traffic: Klipper frames or console text.
type commandLink interface {
	// Read blocks until at least one byte is available.
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
}

// usbLink is the USB CDC-ACM port TinyGo exposes as machine.Serial.
type usbLink struct{}

func newUSBLink() *usbLink {
	machine.Serial.Configure(machine.UARTConfig{})
	return &usbLink{}
}

func (usbLink) Read(buf []byte) (int, error) {
	for machine.Serial.Buffered() == 0 {
		time.Sleep(100 * time.Microsecond)
	}
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return n, err
		}
		buf[n] = b
		n++
	}
	return n, nil
}

func (usbLink) Write(data []byte) (int, error) {
	return machine.Serial.Write(data)
}

// uartLink runs the link over UART0 on GPIO0/GPIO1.
type uartLink struct {
	u *uartx.UART
}

const (
	uartTX = machine.GPIO0
	uartRX = machine.GPIO1
	// Pins held by the firmware itself are claimed under this oid.
	reservedOID = 0xff
)

func openUART(baud uint32) (*uartx.UART, error) {
	u := uartx.UART0
	if err := u.Configure(uartx.UARTConfig{BaudRate: baud, TX: uartTX, RX: uartRX}); err != nil {
		return nil, err
	}
	core.ClaimPin(uint32(uartTX), reservedOID)
	core.ClaimPin(uint32(uartRX), reservedOID)
	return u, nil
}

func (l *uartLink) Read(buf []byte) (int, error) {
	return l.u.RecvSomeContext(context.Background(), buf)
}

func (l *uartLink) Write(data []byte) (int, error) {
	return l.u.Write(data)
}

// openLink returns the configured command link. With the link on USB,
// UART0 carries debug text instead.
func openLink(mode ModeConfig) commandLink {
	if mode.Link == LinkUART {
		u, err := openUART(mode.UARTBaud)
		if err == nil {
			return &uartLink{u: u}
		}
	}
	l := newUSBLink()
	if u, err := openUART(debugBaud); err == nil {
		core.SetDebugWriter(func(s string) {
			u.Write([]byte(s))
			u.Write([]byte("\r\n"))
		})
	}
	return l
}

const debugBaud = 115200

// readerLoop feeds link bytes into in. It runs in its own goroutine and
// restarts itself after a panic.
func readerLoop(l commandLink, in *protocol.FifoBuffer) {
	defer func() {
		if r := recover(); r != nil {
			linkErrors++
			time.Sleep(100 * time.Millisecond)
			go readerLoop(l, in)
		}
	}()

	buf := make([]byte, 64)
	for {
		n, err := l.Read(buf)
		if err != nil {
			linkErrors++
			time.Sleep(time.Millisecond)
			continue
		}
		if reconnectPending {
			reconnectPending = false
			onReconnect()
		}
		for off := 0; off < n; {
			w := in.Write(buf[off:n])
			if w == 0 {
				// Main loop is behind; let it drain.
				linkErrors++
				time.Sleep(time.Millisecond)
				continue
			}
			off += w
		}
	}
}

var (
	linkErrors       uint32
	reconnectPending bool
	writeFailures    uint32
	// onReconnect runs when bytes arrive after the link was marked lost.
	onReconnect = func() {}
)

// maxWriteFailures consecutive failed writes mark the link as lost.
const maxWriteFailures = 10

// writeAll sends data and reports whether it all went out. After
// maxWriteFailures failures in a row the link is marked lost.
func writeAll(l commandLink, data []byte) bool {
	for written := 0; written < len(data); {
		n, err := l.Write(data[written:])
		if err != nil || n == 0 {
			writeFailures++
			if writeFailures > maxWriteFailures {
				writeFailures = 0
				reconnectPending = true
			}
			return false
		}
		written += n
	}
	writeFailures = 0
	return true
}
