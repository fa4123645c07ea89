package mcu

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"servopio/core"
	"servopio/protocol"
	"servopio/servo"
)

func TestMain(m *testing.M) {
	core.InitCoreCommands()
	core.InitServoCommands()
	core.RegisterConstant("MCU", "test")
	core.RegisterConstant("CLOCK_FREQ", uint32(core.TimerFreq))
	pins := make([]string, 30)
	for i := range pins {
		pins[i] = "gpio" + strconv.Itoa(i)
	}
	core.RegisterEnumeration("pin", pins)
	os.Exit(m.Run())
}

// fakeBackend is shared between the firmware goroutine and the test, so it
// locks.
type fakeBackend struct {
	mu      sync.Mutex
	period  time.Duration
	running bool
	writes  []time.Duration
}

func (b *fakeBackend) SetPeriod(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.period = d
	return nil
}

func (b *fakeBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return nil
}

func (b *fakeBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	return nil
}

func (b *fakeBackend) Write(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, d)
	return nil
}

func (b *fakeBackend) last() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.writes) == 0 {
		return 0
	}
	return b.writes[len(b.writes)-1]
}

type firmware struct {
	mu       sync.Mutex
	backends map[uint32]*fakeBackend
}

func (f *firmware) backend(pin uint32) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backends[pin]
}

// startFirmware runs the real command set behind a protocol.Transport on
// the far end of a pipe and returns a connected MCU.
func startFirmware(t *testing.T) (*MCU, *firmware) {
	t.Helper()
	fw := &firmware{backends: make(map[uint32]*fakeBackend)}
	for _, kind := range []core.ServoBackendKind{core.BackendPWM, core.BackendPIO} {
		core.SetServoBackendFactory(kind, func(pin uint32) (servo.Backend, error) {
			b := &fakeBackend{}
			fw.mu.Lock()
			fw.backends[pin] = b
			fw.mu.Unlock()
			return b, nil
		})
	}
	core.SetTime(5000)
	core.TimerInit()

	hostEnd, mcuEnd := net.Pipe()
	out := protocol.NewScratchOutput()
	tr := protocol.NewTransport(out, core.DispatchCommand)
	core.SetGlobalTransport(tr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		in := protocol.NewFifoBuffer(512)
		buf := make([]byte, 64)
		for {
			n, err := mcuEnd.Read(buf)
			if err != nil {
				return
			}
			in.Write(buf[:n])
			tr.Receive(in)
			if len(out.Result()) > 0 {
				if _, err := mcuEnd.Write(out.Result()); err != nil {
					return
				}
				out.Reset()
			}
		}
	}()

	m := NewMCU()
	m.Attach(hostEnd)
	t.Cleanup(func() {
		m.Close()
		mcuEnd.Close()
		<-done
		core.ResetServos()
		core.SetGlobalTransport(nil)
		core.ResetFirmwareState()
		core.SetServoBackendFactory(core.BackendPWM, nil)
		core.SetServoBackendFactory(core.BackendPIO, nil)
	})
	return m, fw
}

func connect(t *testing.T) (*MCU, *firmware, context.Context) {
	t.Helper()
	m, fw := startFirmware(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if err := m.RetrieveDictionary(ctx); err != nil {
		t.Fatal(err)
	}
	return m, fw, ctx
}

func TestRetrieveDictionary(t *testing.T) {
	m, _, _ := connect(t)

	dict := m.GetDictionary()
	if dict.Version != protocol.Version {
		t.Errorf("version = %q", dict.Version)
	}
	if !bytes.Equal(m.GetDictionaryRaw(), core.GetGlobalDictionary().Generate()) {
		t.Error("raw dictionary differs from the firmware's")
	}
	if f, ok := m.Command("config_servo"); !ok || len(f.Params) != 8 {
		t.Errorf("config_servo format: %+v", f)
	}
	if freq, err := m.ConfigUint("CLOCK_FREQ"); err != nil || freq != 1000000 {
		t.Errorf("CLOCK_FREQ = %d, %v", freq, err)
	}
	if _, err := m.ConfigUint("NOPE"); !errors.Is(err, ErrUnknownConfig) {
		t.Errorf("missing constant: %v", err)
	}
	if dict.Enumerations["backend"]["pio"] != int(core.BackendPIO) || dict.Enumerations["pin"]["gpio10"] != 10 {
		t.Errorf("enumerations = %v", dict.Enumerations)
	}

	var buf bytes.Buffer
	m.PrintDictionary(&buf)
	if !bytes.Contains(buf.Bytes(), []byte("servo_rotate oid=%c angle=%hu")) {
		t.Errorf("summary missing servo_rotate:\n%s", buf.String())
	}
}

func TestServoCommandsRoundTrip(t *testing.T) {
	m, fw, ctx := connect(t)

	cfg := servo.DefaultConfig()
	cfg.InitialPosition = 45
	if err := m.ConfigServo(ctx, 2, "gpio10", "pio", cfg); err != nil {
		t.Fatal(err)
	}
	b := fw.backend(10)
	if b == nil {
		t.Fatal("no backend created for gpio10")
	}
	if err := m.ServoStart(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := m.ServoRotate(ctx, 2, 180); err != nil {
		t.Fatal(err)
	}
	if got := b.last(); got != cfg.MaxPulseWidth {
		t.Errorf("last pulse = %v", got)
	}

	st, err := m.ServoQuery(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st.Angle != 180 || st.Pulse != cfg.MaxPulseWidth || !st.Running {
		t.Errorf("state = %+v", st)
	}

	if err := m.ServoWritePulse(ctx, 2, 1234*time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if got := b.last(); got != 1234*time.Microsecond {
		t.Errorf("raw pulse = %v", got)
	}
	if err := m.ServoStop(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if st, err := m.ServoQuery(ctx, 2); err != nil || st.Running || st.Angle != 180 {
		t.Errorf("after stop: %+v, %v", st, err)
	}
}

func TestServoSweepSchedulesFromClock(t *testing.T) {
	m, _, ctx := connect(t)

	if err := m.ConfigServo(ctx, 0, "3", "pwm", servo.DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	if err := m.ServoSweep(ctx, 0, 4, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	obj, ok := core.GetServo(0)
	if !ok || !obj.Sweeping() {
		t.Fatal("sweep not scheduled")
	}
	if n := core.PendingTimers(); n != 1 {
		t.Errorf("pending timers = %d", n)
	}
}

func TestUnsolicitedShutdown(t *testing.T) {
	m, _ := startFirmware(t)
	got := make(chan *Response, 4)
	m.OnMessage = func(r *Response) {
		if r.Name == "shutdown" {
			got <- r
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.RetrieveDictionary(ctx); err != nil {
		t.Fatal(err)
	}

	if err := m.Send(ctx, "emergency_stop", nil); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-got:
		if r.String("reason") == "" {
			t.Errorf("shutdown without reason: %+v", r)
		}
	case <-ctx.Done():
		t.Fatal("no shutdown message")
	}
}

func TestSendErrors(t *testing.T) {
	m := NewMCU()
	if err := m.Send(context.Background(), "servo_start", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("unconnected: %v", err)
	}

	m, _ = startFirmware(t)
	ctx := context.Background()
	if err := m.Send(ctx, "servo_start", nil); !errors.Is(err, ErrNoDictionary) {
		t.Errorf("no dictionary: %v", err)
	}
	if err := m.RetrieveDictionary(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Send(ctx, "servo_dance", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command: %v", err)
	}
	if err := m.Send(ctx, "servo_start", nil); !errors.Is(err, ErrMissingArg) {
		t.Errorf("missing oid: %v", err)
	}
	if err := m.Send(ctx, "servo_start", map[string]string{"oid": "0", "x": "1"}); !errors.Is(err, ErrUnknownArg) {
		t.Errorf("extra arg: %v", err)
	}
	if err := m.Send(ctx, "config_servo", map[string]string{
		"oid": "0", "pin": "gpio99", "backend": "pio", "period_us": "20000",
		"min_us": "1000", "max_us": "2000", "range": "180", "initial": "0",
	}); !errors.Is(err, ErrBadArgValue) {
		t.Errorf("bad pin name: %v", err)
	}
}

func TestDecompress(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(`{"version":"x"}`))
	w.Close()

	out, err := decompress(buf.Bytes())
	if err != nil || string(out) != `{"version":"x"}` {
		t.Errorf("decompress = %q, %v", out, err)
	}
	if _, err := decompress([]byte(`{"version":"x"}`)); err == nil {
		t.Error("plain JSON treated as zlib")
	}
}
