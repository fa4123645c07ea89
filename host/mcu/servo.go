package mcu

import (
	"context"
	"strconv"
	"time"

	"servopio/servo"
)

// SweepLead is how far ahead of the current firmware clock a sweep is
// scheduled, leaving room for the command to arrive.
const SweepLead = 100 * time.Millisecond

// ServoState is the firmware's view of one servo.
type ServoState struct {
	OID     uint8
	Angle   uint32
	Pulse   time.Duration
	Running bool
}

func u(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func usec(d time.Duration) string { return u(uint32(d / time.Microsecond)) }

// ConfigServo sends config_servo. pin and backend may be enumeration names
// ("gpio10", "pio") or numbers.
func (m *MCU) ConfigServo(ctx context.Context, oid uint8, pin, backend string, cfg servo.Config) error {
	return m.Send(ctx, "config_servo", map[string]string{
		"oid":       u(uint32(oid)),
		"pin":       pin,
		"backend":   backend,
		"period_us": usec(cfg.Period),
		"min_us":    usec(cfg.MinPulseWidth),
		"max_us":    usec(cfg.MaxPulseWidth),
		"range":     u(cfg.MaxDegreeRotation),
		"initial":   u(cfg.InitialPosition),
	})
}

func (m *MCU) ServoStart(ctx context.Context, oid uint8) error {
	return m.Send(ctx, "servo_start", map[string]string{"oid": u(uint32(oid))})
}

func (m *MCU) ServoStop(ctx context.Context, oid uint8) error {
	return m.Send(ctx, "servo_stop", map[string]string{"oid": u(uint32(oid))})
}

func (m *MCU) ServoRotate(ctx context.Context, oid uint8, angle uint32) error {
	return m.Send(ctx, "servo_rotate", map[string]string{"oid": u(uint32(oid)), "angle": u(angle)})
}

// ServoWritePulse writes a raw pulse width, bypassing the angle mapping.
func (m *MCU) ServoWritePulse(ctx context.Context, oid uint8, pulse time.Duration) error {
	return m.Send(ctx, "servo_write_us", map[string]string{"oid": u(uint32(oid)), "pulse_us": usec(pulse)})
}

// ServoSweep asks the firmware to step one degree toward target every
// stepDelay, starting SweepLead from now on its clock.
func (m *MCU) ServoSweep(ctx context.Context, oid uint8, target uint32, stepDelay time.Duration) error {
	freq, err := m.ConfigUint("CLOCK_FREQ")
	if err != nil {
		return err
	}
	now, err := m.GetClock(ctx)
	if err != nil {
		return err
	}
	ticks := func(d time.Duration) uint32 {
		return uint32(uint64(d) * uint64(freq) / uint64(time.Second))
	}
	return m.Send(ctx, "servo_sweep", map[string]string{
		"oid":        u(uint32(oid)),
		"clock":      u(now + ticks(SweepLead)),
		"target":     u(target),
		"step_ticks": u(ticks(stepDelay)),
	})
}

// ServoQuery reads back a servo's position.
func (m *MCU) ServoQuery(ctx context.Context, oid uint8) (ServoState, error) {
	r, err := m.Query(ctx, "servo_query", map[string]string{"oid": u(uint32(oid))}, "servo_position",
		func(r *Response) bool { return r.Uint("oid") == uint32(oid) })
	if err != nil {
		return ServoState{}, err
	}
	return ServoState{
		OID:     oid,
		Angle:   r.Uint("angle"),
		Pulse:   time.Duration(r.Uint("pulse_us")) * time.Microsecond,
		Running: r.Uint("running") != 0,
	}, nil
}
