// Package servo drives a hobby servo from a PWM or PIO signal generator.
//
// A Builder freezes the servo geometry (pulse-width bounds, degree range,
// refresh period, initial position) and binds it to a Backend. The
// resulting Servo maps angles to pulse widths on every motion command and
// remembers the last commanded angle; there is no position feedback.
//
// A Servo is not safe for concurrent use. Distinct Servos over distinct
// backends are independent.
package servo

import (
	"fmt"
	"time"
)

// Servo is the runtime bound to one Backend.
type Servo struct {
	backend  Backend
	cfg      Config
	position uint32
	running  bool
	wait     Waiter
}

// Position returns the last angle successfully commanded.
func (s *Servo) Position() uint32 {
	return s.position
}

// Config returns the frozen configuration.
func (s *Servo) Config() Config {
	return s.cfg
}

// Running reports whether pulse generation was started and not stopped since.
func (s *Servo) Running() bool {
	return s.running
}

// PulseWidth is the pulse that Rotate(degrees) would write.
func (s *Servo) PulseWidth(degrees uint32) time.Duration {
	return s.cfg.PulseWidth(degrees)
}

// Start enables pulse generation and re-applies the current position so the
// output never idles at a stale or zero duty cycle.
func (s *Servo) Start() error {
	if err := s.backend.Start(); err != nil {
		return fmt.Errorf("start backend: %w", err)
	}
	s.running = true
	return s.Rotate(s.position)
}

// Stop disables pulse generation. The commanded position is kept so a later
// Start resumes at the same angle.
func (s *Servo) Stop() error {
	if err := s.backend.Stop(); err != nil {
		return fmt.Errorf("stop backend: %w", err)
	}
	s.running = false
	return nil
}

// Rotate commands an absolute angle. Angles beyond MaxDegreeRotation
// saturate at MaxPulseWidth rather than failing. While stopped the angle is
// still recorded and takes effect on the next Start.
func (s *Servo) Rotate(degrees uint32) error {
	if err := s.WriteTime(s.cfg.PulseWidth(degrees)); err != nil {
		return err
	}
	s.position = degrees
	return nil
}

// WriteTime writes a raw pulse width, bypassing the angle mapping. The
// commanded position is left untouched.
func (s *Servo) WriteTime(pulse time.Duration) error {
	if err := s.backend.Write(pulse); err != nil {
		return fmt.Errorf("write pulse %v: %w", pulse, err)
	}
	return nil
}
