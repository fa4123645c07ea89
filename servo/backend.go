package servo

import "time"

// Backend is the signal generator a Servo drives. Implementations emit a
// periodic active-high pulse on one pin: a hardware PWM slice, a PIO state
// machine, or anything else that can hold a pulse width per cycle.
//
// The servo never reads state back from a Backend.
type Backend interface {
	// SetPeriod configures the length of one PWM cycle. Called once by Build.
	SetPeriod(period time.Duration) error

	// Start enables periodic pulse generation.
	Start() error

	// Stop disables periodic pulse generation.
	Stop() error

	// Write sets the pulse duration for the current and following cycles.
	// The change takes effect at the next cycle boundary.
	Write(pulse time.Duration) error
}
