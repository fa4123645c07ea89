// Servo objects: the firmware side of config_servo and friends. Each oid
// owns one servo.Servo, its backend and a timer used for sweeps.
package core

import (
	"time"

	"servopio/protocol"
	"servopio/servo"
)

// ServoObject is a configured servo.
type ServoObject struct {
	OID   uint8
	Pin   uint32
	Kind  ServoBackendKind
	Servo *servo.Servo

	backend     servo.Backend
	timer       Timer
	sweepTarget uint32
	stepTicks   uint32
	sweeping    bool
}

var servos = make(map[uint8]*ServoObject)

// InitServoCommands registers the servo commands, their response and the
// dictionary entries the host needs to build config_servo.
func InitServoCommands() {
	RegisterCommand("config_servo",
		"oid=%c pin=%u backend=%c period_us=%u min_us=%u max_us=%u range=%hu initial=%hu",
		handleConfigServo)
	RegisterCommand("servo_start", "oid=%c", handleServoStart)
	RegisterCommand("servo_stop", "oid=%c", handleServoStop)
	RegisterCommand("servo_rotate", "oid=%c angle=%hu", handleServoRotate)
	RegisterCommand("servo_write_us", "oid=%c pulse_us=%u", handleServoWriteUS)
	RegisterCommand("servo_sweep", "oid=%c clock=%u target=%hu step_ticks=%u", handleServoSweep)
	RegisterCommand("servo_query", "oid=%c", handleServoQuery)

	RegisterResponse("servo_position", "oid=%c angle=%hu pulse_us=%u running=%c")

	RegisterConstant("SERVO_DEFAULT_PERIOD_US", uint32(servo.DefaultPeriod/time.Microsecond))
	RegisterConstant("SERVO_DEFAULT_MIN_US", uint32(servo.DefaultMinPulseWidth/time.Microsecond))
	RegisterConstant("SERVO_DEFAULT_MAX_US", uint32(servo.DefaultMaxPulseWidth/time.Microsecond))
	RegisterConstant("SERVO_DEFAULT_RANGE", servo.DefaultMaxDegreeRotation)
	RegisterEnumeration("backend", BackendNames())
}

func us(v uint32) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// decodeArgs reads len(dst) VLQ arguments in order.
func decodeArgs(data *[]byte, dst ...*uint32) error {
	for _, p := range dst {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

func handleConfigServo(data *[]byte) error {
	var oid, pin, kind, periodUS, minUS, maxUS, rangeDeg, initial uint32
	if err := decodeArgs(data, &oid, &pin, &kind, &periodUS, &minUS, &maxUS, &rangeDeg, &initial); err != nil {
		return err
	}
	b := servo.NewBuilder().
		SetPeriod(us(periodUS)).
		SetMinPulseWidth(us(minUS)).
		SetMaxPulseWidth(us(maxUS)).
		SetMaxDegreeRotation(rangeDeg).
		SetInitialPosition(initial)
	obj, err := NewServoObject(uint8(oid), pin, ServoBackendKind(kind), b)
	if err != nil {
		DebugPrintln("[servo] config oid=" + itoa(int(oid)) + " failed: " + err.Error())
		return err
	}
	DebugPrintln("[servo] oid=" + itoa(int(oid)) + " pin=" + utoa(pin) + " backend=" + obj.Kind.String())
	return nil
}

// NewServoObject claims pin, creates the backend and builds the servo under
// oid. On failure nothing stays claimed. The standalone mode uses it
// directly, bypassing the wire.
func NewServoObject(oid uint8, pin uint32, kind ServoBackendKind, b servo.Builder) (*ServoObject, error) {
	if _, ok := servos[oid]; ok {
		return nil, ErrOIDInUse
	}
	if kind >= backendCount {
		return nil, ErrUnknownBackend
	}
	if err := ClaimPin(pin, oid); err != nil {
		return nil, err
	}
	backend, err := newServoBackend(kind, pin)
	if err != nil {
		ReleasePin(pin)
		return nil, err
	}
	s, err := b.Build(backend)
	if err != nil {
		releaseBackend(backend)
		ReleasePin(pin)
		return nil, err
	}
	obj := &ServoObject{OID: oid, Pin: pin, Kind: kind, Servo: s, backend: backend}
	servos[oid] = obj
	RecordTrace(EvtServoConfig, oid, GetTime(), pin, uint32(kind))
	return obj, nil
}

// GetServo returns the servo configured under oid.
func GetServo(oid uint8) (*ServoObject, bool) {
	obj, ok := servos[oid]
	return obj, ok
}

// lookupServo decodes the leading oid. Unknown oids yield a nil object and
// no error, so the rest of the frame still runs.
func lookupServo(data *[]byte) (*ServoObject, error) {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	obj, ok := servos[uint8(oid)]
	if !ok {
		DebugPrintln("[servo] unknown oid " + utoa(oid))
		return nil, nil
	}
	return obj, nil
}

func (o *ServoObject) traceErr(err error) error {
	if err != nil {
		RecordTrace(EvtServoError, o.OID, GetTime(), o.Servo.Position(), 0)
		DebugPrintln("[servo] oid=" + itoa(int(o.OID)) + ": " + err.Error())
	}
	return err
}

func handleServoStart(data *[]byte) error {
	obj, err := lookupServo(data)
	if obj == nil || err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	RecordTrace(EvtServoStart, obj.OID, GetTime(), obj.Servo.Position(), 0)
	return obj.traceErr(obj.Servo.Start())
}

func handleServoStop(data *[]byte) error {
	obj, err := lookupServo(data)
	if obj == nil || err != nil {
		return err
	}
	obj.CancelSweep()
	RecordTrace(EvtServoStop, obj.OID, GetTime(), obj.Servo.Position(), 0)
	return obj.traceErr(obj.Servo.Stop())
}

func handleServoRotate(data *[]byte) error {
	obj, err := lookupServo(data)
	if obj == nil || err != nil {
		return err
	}
	angle, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	obj.CancelSweep()
	RecordTrace(EvtServoRotate, obj.OID, GetTime(), angle, 0)
	return obj.traceErr(obj.Servo.Rotate(angle))
}

func handleServoWriteUS(data *[]byte) error {
	obj, err := lookupServo(data)
	if obj == nil || err != nil {
		return err
	}
	pulse, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	obj.CancelSweep()
	return obj.traceErr(obj.Servo.WriteTime(us(pulse)))
}

func handleServoSweep(data *[]byte) error {
	obj, err := lookupServo(data)
	if obj == nil || err != nil {
		return err
	}
	var clock, target, stepTicks uint32
	if err := decodeArgs(data, &clock, &target, &stepTicks); err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	// A zero step would reschedule at the same clock and run the whole
	// sweep inside one dispatch.
	if stepTicks == 0 {
		return ErrSweepStep
	}
	obj.StartSweep(clock, target, stepTicks)
	return nil
}

func handleServoQuery(data *[]byte) error {
	obj, err := lookupServo(data)
	if obj == nil || err != nil {
		return err
	}
	pos := obj.Servo.Position()
	pulse := uint32(obj.Servo.PulseWidth(pos) / time.Microsecond)
	SendResponse("servo_position", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(obj.OID))
		protocol.EncodeVLQUint(out, pos)
		protocol.EncodeVLQUint(out, pulse)
		protocol.EncodeVLQUint(out, boolArg(obj.Servo.Running()))
	})
	return nil
}

// StartSweep steps one degree toward target every stepTicks, the first
// step at clock. A sweep already running is replaced.
func (o *ServoObject) StartSweep(clock, target, stepTicks uint32) {
	o.CancelSweep()
	o.sweepTarget = target
	o.stepTicks = stepTicks
	o.sweeping = true
	o.timer.WakeTime = clock
	o.timer.Handler = servoSweepEvent
	ScheduleTimer(&o.timer)
}

// CancelSweep stops a running sweep, leaving the servo at the last degree
// written.
func (o *ServoObject) CancelSweep() {
	if o.sweeping {
		CancelTimer(&o.timer)
		o.sweeping = false
	}
}

// Sweeping reports whether a sweep timer is pending.
func (o *ServoObject) Sweeping() bool {
	return o.sweeping
}

func servoSweepEvent(t *Timer) uint8 {
	var obj *ServoObject
	for _, o := range servos {
		if &o.timer == t {
			obj = o
			break
		}
	}
	if obj == nil {
		return SF_DONE
	}

	done, err := obj.Servo.Step(obj.sweepTarget)
	if err != nil {
		obj.sweeping = false
		obj.traceErr(err)
		return SF_DONE
	}
	if done {
		obj.sweeping = false
		RecordTrace(EvtSweepDone, obj.OID, t.WakeTime, obj.Servo.Position(), 0)
		return SF_DONE
	}
	RecordTrace(EvtSweepStep, obj.OID, t.WakeTime, obj.Servo.Position(), obj.sweepTarget)
	t.WakeTime += obj.stepTicks
	return SF_RESCHEDULE
}

// ShutdownAllServos cancels sweeps and stops pulse output on every servo.
// Stop errors are traced and otherwise ignored so one failing backend
// cannot keep the others running.
func ShutdownAllServos() {
	for _, o := range servos {
		o.CancelSweep()
		o.traceErr(o.Servo.Stop())
	}
}

// ResetServos shuts every servo down and forgets it, releasing pins and
// backend hardware.
func ResetServos() {
	ShutdownAllServos()
	for oid, o := range servos {
		releaseBackend(o.backend)
		ReleasePin(o.Pin)
		delete(servos, oid)
	}
}

func releaseBackend(b servo.Backend) {
	if r, ok := b.(Releaser); ok {
		if err := r.Release(); err != nil {
			DebugPrintln("[servo] release: " + err.Error())
		}
	}
}
