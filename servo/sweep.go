package servo

import (
	"context"
	"time"

	"servopio/x/mathx"
)

// Waiter blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Waiter func(ctx context.Context, d time.Duration) error

// SleepContext is the default Waiter.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Step rotates one degree toward target. done is true once the commanded
// position equals target; at that point Step issues no write.
func (s *Servo) Step(target uint32) (done bool, err error) {
	if s.position == target {
		return true, nil
	}
	if err := s.Rotate(mathx.StepToward(s.position, target)); err != nil {
		return false, err
	}
	return s.position == target, nil
}

// Sweep steps one degree at a time toward target, waiting stepDelay between
// steps. It returns when the position equals target, when a write fails, or
// with ctx.Err() when ctx is cancelled. A cancelled sweep leaves the servo at
// the last angle written.
func (s *Servo) Sweep(ctx context.Context, target uint32, stepDelay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		done, err := s.Step(target)
		if err != nil || done {
			return err
		}
		if err := s.wait(ctx, stepDelay); err != nil {
			return err
		}
	}
}
