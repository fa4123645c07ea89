package servo

import (
	"fmt"
	"time"
)

// Builder stages a Config over the defaults. Every setter returns an
// updated copy, so a Builder value can be shared and specialised freely.
// Cross-field validation is deferred to Build.
type Builder struct {
	cfg  Config
	wait Waiter
}

// NewBuilder returns a Builder holding DefaultConfig.
func NewBuilder() Builder {
	return Builder{cfg: DefaultConfig()}
}

// BuilderFrom starts a Builder from an existing Config.
func BuilderFrom(cfg Config) Builder {
	return Builder{cfg: cfg}
}

func (b Builder) SetPeriod(d time.Duration) Builder {
	b.cfg.Period = d
	return b
}

func (b Builder) SetMinPulseWidth(d time.Duration) Builder {
	b.cfg.MinPulseWidth = d
	return b
}

func (b Builder) SetMaxPulseWidth(d time.Duration) Builder {
	b.cfg.MaxPulseWidth = d
	return b
}

func (b Builder) SetMaxDegreeRotation(degrees uint32) Builder {
	b.cfg.MaxDegreeRotation = degrees
	return b
}

func (b Builder) SetInitialPosition(degrees uint32) Builder {
	b.cfg.InitialPosition = degrees
	return b
}

// SetWaiter installs the delay used between Sweep steps. nil restores the
// default timer-based wait.
func (b Builder) SetWaiter(w Waiter) Builder {
	b.wait = w
	return b
}

// Config returns the staged configuration without validating it.
func (b Builder) Config() Config {
	return b.cfg
}

// Build validates the staged configuration, applies the refresh period to
// backend and returns a Servo that owns it. The initial position is recorded
// but not written; the motor only moves on Start or Rotate.
func (b Builder) Build(backend Backend) (*Servo, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := backend.SetPeriod(b.cfg.Period); err != nil {
		return nil, fmt.Errorf("set period %v: %w", b.cfg.Period, err)
	}

	wait := b.wait
	if wait == nil {
		wait = SleepContext
	}
	return &Servo{
		backend:  backend,
		cfg:      b.cfg,
		position: b.cfg.InitialPosition,
		wait:     wait,
	}, nil
}
