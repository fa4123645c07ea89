package serial

import (
	"io"
	"time"
)

// Port is the byte stream to the firmware. Native builds use
// github.com/tarm/serial; tests use an in-memory pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC ignores it; the UART transport runs at this rate.
	Baud int

	// ReadTimeout bounds each Read so the reader can notice Close.
	ReadTimeout time.Duration
}

// DefaultBaud matches the firmware's UART0 transport.
const DefaultBaud = 250000

// DefaultConfig returns a configuration for device at DefaultBaud.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}
