package config

import (
	"errors"
	"testing"
	"time"

	"servopio/servo"
	"servopio/standalone"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{"servos":[{"pin":"gpio3"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "standalone" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	s := cfg.Servos[0]
	if s.Name != "servo0" || s.Backend != "pio" || s.MinUS != 1000 || s.MaxUS != 2000 || s.Range != 180 {
		t.Errorf("servo defaults: %+v", s)
	}
	if s.Period() != 20*time.Millisecond {
		t.Errorf("period = %v", s.Period())
	}
	if cfg.Demo.StopSettle != 1000 || cfg.Demo.StartSettle != 5000 || cfg.Demo.StepDelayMS != 100 {
		t.Errorf("demo defaults: %+v", cfg.Demo)
	}
	if cfg.Demo.Enabled {
		t.Error("demo enabled without being asked")
	}
}

func TestLoadConfigPeriodForms(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{"servos":[
		{"pin":"4","frequency_hz":333,"min_us":500,"max_us":2500},
		{"pin":"GP5","period_us":10000,"frequency_hz":50}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Servos[0].Period(); got != time.Second/333 {
		t.Errorf("frequency form: %v", got)
	}
	if got := cfg.Servos[1].Period(); got != 10*time.Millisecond {
		t.Errorf("period_us should win: %v", got)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
		want error
	}{
		{"syntax", `{"servos":`, nil},
		{"no servos", `{}`, ErrNoServos},
		{"bad pin", `{"servos":[{"pin":"gpio40"}]}`, standalone.ErrBadPin},
		{"pin name", `{"servos":[{"pin":"led"}]}`, standalone.ErrBadPin},
		{"duplicate", `{"servos":[{"pin":"1"},{"pin":"gpio1"}]}`, ErrDuplicate},
		{"backend", `{"servos":[{"pin":"1","backend":"dma"}]}`, standalone.ErrBadBackend},
		{"pulse order", `{"servos":[{"pin":"1","min_us":2000,"max_us":1000}]}`, servo.ErrInvalidConfig},
		{"pulse over period", `{"servos":[{"pin":"1","period_us":2000,"max_us":2500}]}`, servo.ErrInvalidConfig},
		{"zero range", `{"servos":[{"pin":"1","range":0}]}`, servo.ErrZeroRotation},
		{"zero max", `{"servos":[{"pin":"1","max_us":0}]}`, servo.ErrPulseRange},
	}
	for _, tt := range tests {
		_, err := LoadConfig([]byte(tt.json))
		if err == nil {
			t.Errorf("%s: accepted", tt.name)
			continue
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestLoadConfigKeepsExplicitZero(t *testing.T) {
	cfg, err := LoadConfig([]byte(`{"servos":[{"pin":"2","min_us":0,"max_us":2500,"range":270}]}`))
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.Servos[0]
	if s.MinUS != 0 || s.MaxUS != 2500 || s.Range != 270 {
		t.Fatalf("servo = %+v", s)
	}
	if got := s.Builder().Config().PulseWidth(0); got != 0 {
		t.Errorf("PulseWidth(0) = %v, want 0", got)
	}
}

func TestDefaultSweepConfig(t *testing.T) {
	cfg := DefaultSweepConfig()
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	s := cfg.Servos[0]
	pin, _ := standalone.ParsePin(s.Pin)
	if pin != 10 || s.Backend != "pio" || s.Initial != 90 {
		t.Errorf("default servo: %+v", s)
	}
	c := s.Builder().Config()
	if c.PulseWidth(90) != 1500*time.Microsecond {
		t.Errorf("centre pulse = %v", c.PulseWidth(90))
	}
	if !cfg.Demo.Enabled || cfg.Demo.StepDelayMS != 100 {
		t.Errorf("demo: %+v", cfg.Demo)
	}
}
