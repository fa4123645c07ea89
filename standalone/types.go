package standalone

import (
	"encoding/json"
	"time"

	"servopio/servo"
)

// ServoSpec describes one servo in the standalone configuration
type ServoSpec struct {
	Name        string `json:"name"`
	Pin         string `json:"pin"`          // "gpio10" or "10"
	Backend     string `json:"backend"`      // "pwm", "pio" or "driver"
	PeriodUS    uint32 `json:"period_us"`    // refresh period
	FrequencyHz uint32 `json:"frequency_hz"` // alternative to PeriodUS
	MinUS       uint32 `json:"min_us"`
	MaxUS       uint32 `json:"max_us"`
	Range       uint32 `json:"range"`   // degrees
	Initial     uint32 `json:"initial"` // degrees
}

// UnmarshalJSON seeds the pulse bounds and range with the servo package
// defaults, so only keys present in the input override them and an explicit
// zero is kept.
func (s *ServoSpec) UnmarshalJSON(data []byte) error {
	type plain ServoSpec
	p := plain{
		MinUS: uint32(servo.DefaultMinPulseWidth / time.Microsecond),
		MaxUS: uint32(servo.DefaultMaxPulseWidth / time.Microsecond),
		Range: servo.DefaultMaxDegreeRotation,
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = ServoSpec(p)
	return nil
}

// Period resolves the refresh period. PeriodUS wins when both are set.
func (s ServoSpec) Period() time.Duration {
	if s.PeriodUS != 0 {
		return time.Duration(s.PeriodUS) * time.Microsecond
	}
	if s.FrequencyHz != 0 {
		return time.Second / time.Duration(s.FrequencyHz)
	}
	return 0
}

// Builder stages the spec on a servo.Builder.
func (s ServoSpec) Builder() servo.Builder {
	return servo.NewBuilder().
		SetPeriod(s.Period()).
		SetMinPulseWidth(time.Duration(s.MinUS) * time.Microsecond).
		SetMaxPulseWidth(time.Duration(s.MaxUS) * time.Microsecond).
		SetMaxDegreeRotation(s.Range).
		SetInitialPosition(s.Initial)
}

// DemoConfig controls the boot-time sweep demo
type DemoConfig struct {
	Enabled     bool   `json:"enabled"`
	StopSettle  uint32 `json:"stop_settle_ms"`  // pause after the initial stop
	StartSettle uint32 `json:"start_settle_ms"` // pause after start, before sweeping
	StepDelayMS uint32 `json:"step_delay_ms"`   // pause between one-degree steps
	Cycles      uint32 `json:"cycles"`          // full 0->range->0 cycles, 0 = forever
}

// SweepConfig is the complete standalone configuration
type SweepConfig struct {
	Mode   string      `json:"mode"` // "standalone" or "klipper"
	Servos []ServoSpec `json:"servos"`
	Demo   DemoConfig  `json:"demo"`
}

func ms(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}
