package standalone

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"servopio/core"
	"servopio/protocol"
	"servopio/servo"
	"servopio/standalone/gcode"
	"servopio/x/mathx"
)

var (
	ErrNotInitialized = errors.New("manager not initialized")
	ErrNoSuchServo    = errors.New("no such servo")
)

// Manager runs servos without a host: a boot-time sweep demo plus a
// line-oriented G-code console. A console command addressed to a servo
// ends that servo's demo first, so only one goroutine ever drives it.
type Manager struct {
	config      *SweepConfig
	parser      *gcode.Parser
	interpreter *gcode.Interpreter
	wait        servo.Waiter

	servos []*core.ServoObject
	demos  []*demoRun

	// Serial interface
	inputBuffer []byte
	outMu       sync.Mutex
	output      []byte

	initialized bool
	running     bool
}

type demoRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager for cfg. Servos are created by Initialize.
func NewManager(cfg *SweepConfig) *Manager {
	m := &Manager{
		config:      cfg,
		parser:      gcode.NewParser(),
		wait:        servo.SleepContext,
		inputBuffer: make([]byte, 0, 96),
		output:      make([]byte, 0, 256),
	}
	m.interpreter = gcode.NewInterpreter(m, protocol.Version)
	return m
}

// SetWaiter replaces the delay used for settles, sweeps and dwells. It must
// be called before Initialize.
func (m *Manager) SetWaiter(w servo.Waiter) {
	if w == nil {
		w = servo.SleepContext
	}
	m.wait = w
}

// Initialize creates one servo per configuration entry through the core
// backend factories, using the entry index as oid.
func (m *Manager) Initialize() error {
	if m.initialized {
		return errors.New("already initialized")
	}
	for i, spec := range m.config.Servos {
		pin, err := ParsePin(spec.Pin)
		if err != nil {
			m.teardown()
			return err
		}
		kind, err := ParseBackend(spec.Backend)
		if err != nil {
			m.teardown()
			return err
		}
		obj, err := core.NewServoObject(uint8(i), pin, kind, spec.Builder().SetWaiter(m.wait))
		if err != nil {
			m.teardown()
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
		m.servos = append(m.servos, obj)
		m.demos = append(m.demos, nil)
		core.DebugPrintln("[standalone] " + spec.Name + " on gpio" + strconv.Itoa(int(pin)) + " via " + kind.String())
	}
	m.initialized = true
	return nil
}

func (m *Manager) teardown() {
	core.ResetServos()
	m.servos = nil
	m.demos = nil
}

// Start begins standalone operation and launches the demo if enabled.
func (m *Manager) Start() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	m.running = true
	m.SendResponse("servopio standalone ready\n")
	if m.config.Demo.Enabled {
		for i := range m.servos {
			m.startDemo(i)
		}
	}
	return nil
}

// Stop ends every demo and stops pulse output.
func (m *Manager) Stop() {
	for i := range m.servos {
		m.haltDemo(i)
	}
	core.ShutdownAllServos()
	m.running = false
}

// Close stops everything and releases pins and backends.
func (m *Manager) Close() {
	m.Stop()
	m.teardown()
	m.initialized = false
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	return m.running
}

// DemoRunning reports whether the demo still drives servo idx.
func (m *Manager) DemoRunning(idx int) bool {
	if idx < 0 || idx >= len(m.demos) || m.demos[idx] == nil {
		return false
	}
	select {
	case <-m.demos[idx].done:
		return false
	default:
		return true
	}
}

// Wait blocks until every demo has finished.
func (m *Manager) Wait() {
	for _, d := range m.demos {
		if d != nil {
			<-d.done
		}
	}
}

func (m *Manager) startDemo(idx int) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &demoRun{cancel: cancel, done: make(chan struct{})}
	m.demos[idx] = run
	go func() {
		defer close(run.done)
		m.runDemo(ctx, idx)
	}()
}

func (m *Manager) haltDemo(idx int) {
	if run := m.demos[idx]; run != nil {
		run.cancel()
		<-run.done
		m.demos[idx] = nil
	}
}

// runDemo stops the servo, lets it settle, starts it and then sweeps it
// between its end stops until cancelled or the configured cycles are done.
func (m *Manager) runDemo(ctx context.Context, idx int) {
	s := m.servos[idx].Servo
	name := m.config.Servos[idx].Name
	demo := m.config.Demo

	if err := s.Stop(); err != nil {
		m.reportErr(name, err)
		return
	}
	if m.wait(ctx, ms(demo.StopSettle)) != nil {
		return
	}
	if err := s.Start(); err != nil {
		m.reportErr(name, err)
		return
	}
	if m.wait(ctx, ms(demo.StartSettle)) != nil {
		return
	}

	step := ms(demo.StepDelayMS)
	ends := [2]uint32{s.Config().MaxDegreeRotation, 0}
	for cycle := uint32(0); demo.Cycles == 0 || cycle < demo.Cycles; cycle++ {
		for _, target := range ends {
			if err := s.Sweep(ctx, target, step); err != nil {
				if ctx.Err() == nil {
					m.reportErr(name, err)
				}
				return
			}
			m.SendResponse(name + " at " + strconv.FormatUint(uint64(s.Position()), 10) + "\n")
		}
	}
}

func (m *Manager) reportErr(name string, err error) {
	core.DebugPrintln("[standalone] " + name + ": " + err.Error())
	m.SendResponse("Error: " + name + ": " + err.Error() + "\n")
}

// takeover ends the demo and any timer sweep on idx and returns the servo.
func (m *Manager) takeover(idx int) (*core.ServoObject, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if idx < 0 || idx >= len(m.servos) {
		return nil, ErrNoSuchServo
	}
	m.haltDemo(idx)
	obj := m.servos[idx]
	obj.CancelSweep()
	return obj, nil
}

// takeoverForMotion is takeover for commands that move the servo, which
// are refused after an emergency stop.
func (m *Manager) takeoverForMotion(idx int) (*core.ServoObject, error) {
	if core.IsShutdown() {
		return nil, core.ErrShutdown
	}
	return m.takeover(idx)
}

func (m *Manager) Rotate(idx int, angle uint32) error {
	obj, err := m.takeoverForMotion(idx)
	if err != nil {
		return err
	}
	return obj.Servo.Rotate(angle)
}

func (m *Manager) ServoStart(idx int) error {
	obj, err := m.takeoverForMotion(idx)
	if err != nil {
		return err
	}
	return obj.Servo.Start()
}

func (m *Manager) ServoStop(idx int) error {
	obj, err := m.takeover(idx)
	if err != nil {
		return err
	}
	return obj.Servo.Stop()
}

func (m *Manager) WritePulse(idx int, pulse time.Duration) error {
	obj, err := m.takeoverForMotion(idx)
	if err != nil {
		return err
	}
	return obj.Servo.WriteTime(pulse)
}

// Sweep schedules a timer sweep starting now. The main loop's
// core.ProcessTimers drives it.
func (m *Manager) Sweep(idx int, target uint32, stepDelay time.Duration) error {
	obj, err := m.takeoverForMotion(idx)
	if err != nil {
		return err
	}
	if stepDelay <= 0 {
		stepDelay = ms(m.config.Demo.StepDelayMS)
	}
	// Sub-tick delays still advance the timer.
	step := mathx.Max(core.TimerFromUS(uint32(stepDelay/time.Microsecond)), 1)
	obj.StartSweep(core.GetTime(), target, step)
	return nil
}

func (m *Manager) Position(idx int) (uint32, time.Duration, bool, error) {
	obj, err := m.takeover(idx)
	if err != nil {
		return 0, 0, false, err
	}
	s := obj.Servo
	return s.Position(), s.PulseWidth(s.Position()), s.Running(), nil
}

func (m *Manager) Dwell(d time.Duration) error {
	return m.wait(context.Background(), d)
}

// EmergencyStop ends every demo, stops all servos and latches the shutdown
// state until Resume.
func (m *Manager) EmergencyStop() {
	for i := range m.servos {
		m.haltDemo(i)
	}
	core.TryShutdown("emergency stop")
	m.running = false
}

func (m *Manager) Resume() error {
	core.ResetFirmwareState()
	m.running = m.initialized
	return nil
}

// ProcessLine parses and executes one console line, queueing any report
// and the trailing "ok".
func (m *Manager) ProcessLine(line string) error {
	if !m.initialized {
		return ErrNotInitialized
	}

	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		return err
	}

	report, err := m.interpreter.Execute(cmd)
	if err != nil {
		return err
	}
	if report != "" {
		m.SendResponse(report + "\n")
	}
	m.SendResponse("ok\n")
	return nil
}

// ProcessByte processes a single byte of input (for serial streaming)
func (m *Manager) ProcessByte(b byte) error {
	if b != '\n' && b != '\r' {
		if len(m.inputBuffer) < cap(m.inputBuffer) {
			m.inputBuffer = append(m.inputBuffer, b)
		}
		return nil
	}

	line := string(m.inputBuffer)
	m.inputBuffer = m.inputBuffer[:0]
	for len(line) > 0 && line[len(line)-1] == ' ' {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return nil
	}
	return m.ProcessLine(line)
}

// SendResponse queues a response to be sent to the host
func (m *Manager) SendResponse(response string) {
	m.outMu.Lock()
	m.output = append(m.output, response...)
	m.outMu.Unlock()
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	if len(m.output) == 0 {
		return nil
	}
	out := make([]byte, len(m.output))
	copy(out, m.output)
	m.output = m.output[:0]
	return out
}
