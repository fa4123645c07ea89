//go:build rp2040

package main

// Link selects the transport carrying host traffic.
type Link uint8

const (
	LinkUSB Link = iota
	LinkUART
)

// ModeConfig determines which mode to run
type ModeConfig struct {
	// Standalone runs the G-code console and demo sweep instead of the
	// Klipper protocol.
	Standalone bool

	Link     Link
	UARTBaud uint32
}

// mode is adjusted at build time by the standalone and uart tags.
var mode = ModeConfig{
	Link:     LinkUSB,
	UARTBaud: 250000,
}

// GetMode returns the current mode configuration
func GetMode() ModeConfig {
	return mode
}
