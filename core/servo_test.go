package core

import (
	"errors"
	"testing"
	"time"

	"servopio/servo"
)

func configServo(t *testing.T, oid, pin uint32, kind ServoBackendKind) {
	t.Helper()
	if err := run("config_servo", oid, pin, uint32(kind), 20000, 1000, 2000, 180, 90); err != nil {
		t.Fatalf("config_servo: %v", err)
	}
}

func TestConfigServoBuildsWithoutMoving(t *testing.T) {
	h := newServoHarness(t)
	configServo(t, 0, 10, BackendPIO)

	b := h.backends[10]
	if b == nil {
		t.Fatal("factory not called for pin 10")
	}
	if b.period != 20*time.Millisecond {
		t.Errorf("period = %v", b.period)
	}
	if len(b.writes) != 0 || b.running {
		t.Error("config_servo moved the servo")
	}
	obj, ok := GetServo(0)
	if !ok || obj.Kind != BackendPIO || obj.Servo.Position() != 90 {
		t.Fatalf("servo object = %+v, %v", obj, ok)
	}
	if owner, ok := PinOwner(10); !ok || owner != 0 {
		t.Errorf("pin 10 owner = %d, %v", owner, ok)
	}
}

func TestConfigServoRejections(t *testing.T) {
	h := newServoHarness(t)
	configServo(t, 0, 10, BackendPWM)

	cases := []struct {
		name string
		args []uint32
		want error
	}{
		{"same oid", []uint32{0, 11, 0, 20000, 1000, 2000, 180, 0}, ErrOIDInUse},
		{"same pin", []uint32{1, 10, 0, 20000, 1000, 2000, 180, 0}, ErrPinInUse},
		{"bad backend", []uint32{1, 11, 7, 20000, 1000, 2000, 180, 0}, ErrUnknownBackend},
		{"inverted pulses", []uint32{1, 11, 0, 20000, 2000, 1000, 180, 0}, servo.ErrPulseRange},
		{"zero range", []uint32{1, 11, 0, 20000, 1000, 2000, 0, 0}, servo.ErrZeroRotation},
	}
	for _, c := range cases {
		if err := run("config_servo", c.args...); !errors.Is(err, c.want) {
			t.Errorf("%s: err = %v, want %v", c.name, err, c.want)
		}
	}
	if _, ok := PinOwner(11); ok {
		t.Error("failed config left pin 11 claimed")
	}
	if b := h.backends[11]; b != nil && !b.released {
		t.Error("failed config did not release its backend")
	}

	SetServoBackendFactory(BackendDriver, nil)
	if err := run("config_servo", 2, 12, uint32(BackendDriver), 20000, 1000, 2000, 180, 0); !errors.Is(err, ErrNoBackendFactory) {
		t.Errorf("missing factory: %v", err)
	}
}

func TestServoCommands(t *testing.T) {
	h := newServoHarness(t)
	configServo(t, 3, 4, BackendPWM)
	b := h.backends[4]

	if err := run("servo_start", 3); err != nil {
		t.Fatal(err)
	}
	if !b.running || len(b.writes) != 1 || b.writes[0] != 1500*time.Microsecond {
		t.Fatalf("start: running=%v writes=%v", b.running, b.writes)
	}

	if err := run("servo_rotate", 3, 200); err != nil {
		t.Fatal(err)
	}
	if err := run("servo_query", 3); err != nil {
		t.Fatal(err)
	}
	got := h.sender.last(t, "servo_position").args
	want := []uint32{3, 200, 2000, 1}
	if len(got) != len(want) {
		t.Fatalf("servo_position = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("servo_position = %v, want %v", got, want)
		}
	}

	if err := run("servo_write_us", 3, 1234); err != nil {
		t.Fatal(err)
	}
	if last := b.writes[len(b.writes)-1]; last != 1234*time.Microsecond {
		t.Errorf("servo_write_us wrote %v", last)
	}

	if err := run("servo_stop", 3); err != nil {
		t.Fatal(err)
	}
	if b.running {
		t.Error("servo_stop left backend running")
	}

	// Unknown oids are ignored.
	if err := run("servo_rotate", 42, 10); err != nil {
		t.Errorf("unknown oid: %v", err)
	}
}

func TestServoSweepRunsOnTimer(t *testing.T) {
	h := newServoHarness(t)
	configServo(t, 0, 10, BackendPIO)
	b := h.backends[10]

	if err := run("servo_sweep", 0, 1000, 95, 100); err != nil {
		t.Fatal(err)
	}
	obj, _ := GetServo(0)
	if !obj.Sweeping() {
		t.Fatal("sweep not scheduled")
	}

	advance(999)
	if len(b.writes) != 0 {
		t.Fatal("sweep started early")
	}
	advance(1000)
	if obj.Servo.Position() != 91 {
		t.Errorf("after first step position = %d", obj.Servo.Position())
	}
	advance(1250)
	if obj.Servo.Position() != 93 {
		t.Errorf("after three steps position = %d", obj.Servo.Position())
	}
	advance(5000)
	if obj.Servo.Position() != 95 || obj.Sweeping() {
		t.Errorf("sweep did not finish: position=%d sweeping=%v", obj.Servo.Position(), obj.Sweeping())
	}
	if len(b.writes) != 5 {
		t.Errorf("sweep wrote %d pulses, want 5", len(b.writes))
	}
}

func TestSweepRejectsZeroStep(t *testing.T) {
	h := newServoHarness(t)
	configServo(t, 0, 10, BackendPIO)

	if err := run("servo_sweep", 0, 100, 180, 0); !errors.Is(err, ErrSweepStep) {
		t.Fatalf("err = %v, want ErrSweepStep", err)
	}
	obj, _ := GetServo(0)
	if obj.Sweeping() || PendingTimers() != 0 {
		t.Error("zero-step sweep was scheduled")
	}
	advance(1000)
	if len(h.backends[10].writes) != 0 {
		t.Errorf("zero-step sweep wrote %d pulses", len(h.backends[10].writes))
	}
}

func TestRotateCancelsSweep(t *testing.T) {
	newServoHarness(t)
	configServo(t, 0, 10, BackendPWM)

	if err := run("servo_sweep", 0, 100, 180, 10); err != nil {
		t.Fatal(err)
	}
	advance(120)
	if err := run("servo_rotate", 0, 10); err != nil {
		t.Fatal(err)
	}
	advance(10000)
	obj, _ := GetServo(0)
	if obj.Servo.Position() != 10 || obj.Sweeping() || PendingTimers() != 0 {
		t.Errorf("sweep survived rotate: position=%d sweeping=%v", obj.Servo.Position(), obj.Sweeping())
	}
}

func TestEmergencyStopHaltsServos(t *testing.T) {
	h := newServoHarness(t)
	configServo(t, 0, 10, BackendPWM)
	configServo(t, 1, 11, BackendPIO)
	h.backends[10].stopErr = errors.New("slice busy")

	for _, oid := range []uint32{0, 1} {
		if err := run("servo_start", oid); err != nil {
			t.Fatal(err)
		}
	}
	if err := run("servo_sweep", 1, 0, 0, 10); err != nil {
		t.Fatal(err)
	}

	if err := run("emergency_stop"); err != nil {
		t.Fatal(err)
	}
	if !IsShutdown() {
		t.Fatal("not shut down")
	}
	if h.backends[11].running {
		t.Error("pio servo still running after emergency stop")
	}
	if obj, _ := GetServo(1); obj.Sweeping() {
		t.Error("sweep still pending after emergency stop")
	}
	h.sender.last(t, "shutdown")

	if err := run("servo_start", 1); !errors.Is(err, ErrShutdown) {
		t.Errorf("servo_start while shut down: %v", err)
	}
	if err := run("servo_rotate", 1, 5); !errors.Is(err, ErrShutdown) {
		t.Errorf("servo_rotate while shut down: %v", err)
	}
}

func TestConfigResetReleasesEverything(t *testing.T) {
	h := newServoHarness(t)
	configServo(t, 0, 10, BackendPIO)
	if err := run("emergency_stop"); err != nil {
		t.Fatal(err)
	}

	if err := run("config_reset"); err != nil {
		t.Fatal(err)
	}
	if IsShutdown() {
		t.Error("config_reset did not clear shutdown")
	}
	if _, ok := GetServo(0); ok {
		t.Error("servo survived config_reset")
	}
	if !h.backends[10].released {
		t.Error("backend not released")
	}
	configServo(t, 0, 10, BackendPIO)
}

func TestPWMBackendAdapter(t *testing.T) {
	drv := &fakePWM{}
	b := NewPWMBackend(drv, 7)
	s, err := servo.NewBuilder().Build(b)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Rotate(180); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	want := []string{"period 7 20ms", "enable 7 true", "pulse 7 1ms", "pulse 7 2ms", "enable 7 false"}
	if len(drv.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", drv.calls, want)
	}
	for i := range want {
		if drv.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", drv.calls, want)
		}
	}
}

func TestPWMFactoryReleasesPin(t *testing.T) {
	drv := &fakePWM{}
	SetServoBackendFactory(BackendPWM, PWMBackendFactory(drv))
	defer SetServoBackendFactory(BackendPWM, nil)

	if _, err := NewServoObject(3, 12, BackendPWM, servo.NewBuilder()); err != nil {
		t.Fatal(err)
	}
	ResetServos()
	if len(drv.released) != 1 || drv.released[0] != 12 {
		t.Errorf("released = %v", drv.released)
	}
	if _, ok := PinOwner(12); ok {
		t.Error("pin 12 still claimed")
	}
}

type fakePWM struct {
	calls    []string
	released []PWMPin
}

func (f *fakePWM) Release(pin PWMPin) {
	f.released = append(f.released, pin)
}

func (f *fakePWM) ConfigurePeriod(pin PWMPin, d time.Duration) error {
	f.calls = append(f.calls, "period "+itoa(int(pin))+" "+d.String())
	return nil
}

func (f *fakePWM) SetPulse(pin PWMPin, d time.Duration) error {
	f.calls = append(f.calls, "pulse "+itoa(int(pin))+" "+d.String())
	return nil
}

func (f *fakePWM) Enable(pin PWMPin, on bool) error {
	s := "false"
	if on {
		s = "true"
	}
	f.calls = append(f.calls, "enable "+itoa(int(pin))+" "+s)
	return nil
}
