package servo

import (
	"errors"
	"time"

	"servopio/x/mathx"
)

// Uncalibrated defaults for a standard analog hobby servo.
const (
	DefaultPeriod            = 20 * time.Millisecond   // 50 Hz refresh
	DefaultMinPulseWidth     = 1000 * time.Microsecond // shortest pulse sent to the servo
	DefaultMaxPulseWidth     = 2000 * time.Microsecond // longest pulse sent to the servo
	DefaultMaxDegreeRotation = uint32(180)
	DefaultInitialPosition   = uint32(0)
)

var (
	ErrInvalidConfig      = errors.New("invalid servo configuration")
	ErrPulseRange         = errors.New("min pulse width must be below max pulse width")
	ErrZeroRotation       = errors.New("max degree rotation must be non-zero")
	ErrPeriod             = errors.New("period must be positive")
	ErrPulseExceedsPeriod = errors.New("max pulse width exceeds period")
	ErrNilBackend         = errors.New("servo backend is nil")
)

// Config is the frozen servo geometry. A zero Config is not valid; start
// from DefaultConfig or a Builder.
type Config struct {
	Period            time.Duration
	MinPulseWidth     time.Duration
	MaxPulseWidth     time.Duration
	MaxDegreeRotation uint32
	InitialPosition   uint32
}

// DefaultConfig returns the uncalibrated defaults.
func DefaultConfig() Config {
	return Config{
		Period:            DefaultPeriod,
		MinPulseWidth:     DefaultMinPulseWidth,
		MaxPulseWidth:     DefaultMaxPulseWidth,
		MaxDegreeRotation: DefaultMaxDegreeRotation,
		InitialPosition:   DefaultInitialPosition,
	}
}

// Validate reports why c cannot drive a servo. The returned error wraps
// both ErrInvalidConfig and the specific cause.
func (c Config) Validate() error {
	var cause error
	switch {
	case c.Period <= 0:
		cause = ErrPeriod
	case c.MinPulseWidth < 0 || c.MinPulseWidth >= c.MaxPulseWidth:
		cause = ErrPulseRange
	case c.MaxDegreeRotation == 0:
		cause = ErrZeroRotation
	case c.MaxPulseWidth > c.Period:
		cause = ErrPulseExceedsPeriod
	default:
		return nil
	}
	return errors.Join(ErrInvalidConfig, cause)
}

// PulseWidth maps an angle to the pulse duration written to the backend.
//
// The span is scaled in integer nanoseconds with truncating division and
// then clamped to the pulse bounds. Angle 0 yields MinPulseWidth exactly; any
// angle at or beyond MaxDegreeRotation yields MaxPulseWidth exactly.
// Scaling the whole span before dividing means the result can differ by up
// to MaxDegreeRotation ns from adding a truncated per-degree step.
// c must be valid.
func (c Config) PulseWidth(degrees uint32) time.Duration {
	span := uint64(c.MaxPulseWidth - c.MinPulseWidth)
	offset := mathx.ScaleDiv(uint64(degrees), span, uint64(c.MaxDegreeRotation))
	// Offsets past the span saturate before the add so huge angles cannot wrap.
	offset = mathx.Min(offset, span)
	return mathx.Clamp(c.MinPulseWidth+time.Duration(offset), c.MinPulseWidth, c.MaxPulseWidth)
}
