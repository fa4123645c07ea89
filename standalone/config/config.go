package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"servopio/standalone"
)

var (
	ErrNoServos  = errors.New("no servos configured")
	ErrDuplicate = errors.New("pin used by more than one servo")
)

// LoadConfig parses a JSON configuration, applies defaults and validates
// every servo entry.
func LoadConfig(jsonData []byte) (*standalone.SweepConfig, error) {
	var config standalone.SweepConfig

	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills in missing values. Pulse bounds and range are seeded
// while decoding (see standalone.ServoSpec.UnmarshalJSON), so a zero there
// was written by the user and goes to Validate as is.
func applyDefaults(config *standalone.SweepConfig) {
	if config.Mode == "" {
		config.Mode = "standalone"
	}

	for i := range config.Servos {
		s := &config.Servos[i]
		if s.Name == "" {
			s.Name = "servo" + strconv.Itoa(i)
		}
		if s.Backend == "" {
			s.Backend = "pio"
		}
		if s.PeriodUS == 0 && s.FrequencyHz == 0 {
			s.FrequencyHz = 50
		}
	}

	if config.Demo.StopSettle == 0 {
		config.Demo.StopSettle = 1000
	}
	if config.Demo.StartSettle == 0 {
		config.Demo.StartSettle = 5000
	}
	if config.Demo.StepDelayMS == 0 {
		config.Demo.StepDelayMS = 100
	}
}

// Validate checks pins, backends and each servo's pulse configuration.
func Validate(config *standalone.SweepConfig) error {
	if len(config.Servos) == 0 {
		return ErrNoServos
	}
	seen := make(map[uint32]string)
	for _, s := range config.Servos {
		pin, err := standalone.ParsePin(s.Pin)
		if err != nil {
			return fmt.Errorf("servo %s: %w", s.Name, err)
		}
		if other, ok := seen[pin]; ok {
			return fmt.Errorf("servo %s and %s: %w", other, s.Name, ErrDuplicate)
		}
		seen[pin] = s.Name
		if _, err := standalone.ParseBackend(s.Backend); err != nil {
			return fmt.Errorf("servo %s: %w", s.Name, err)
		}
		if err := s.Builder().Config().Validate(); err != nil {
			return fmt.Errorf("servo %s: %w", s.Name, err)
		}
	}
	return nil
}

// DefaultSweepConfig returns the boot demo: one servo on GPIO10 driven by
// PIO, swept end to end in 100 ms steps.
func DefaultSweepConfig() *standalone.SweepConfig {
	return &standalone.SweepConfig{
		Mode: "standalone",
		Servos: []standalone.ServoSpec{
			{
				Name:        "servo0",
				Pin:         "gpio10",
				Backend:     "pio",
				FrequencyHz: 50,
				MinUS:       1000,
				MaxUS:       2000,
				Range:       180,
				Initial:     90,
			},
		},
		Demo: standalone.DemoConfig{
			Enabled:     true,
			StopSettle:  1000,
			StartSettle: 5000,
			StepDelayMS: 100,
		},
	}
}
