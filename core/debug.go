package core

// DebugWriter is installed by the target to carry debug text to a UART or
// the USB console.
type DebugWriter func(string)

// Servo event codes kept in the trace ring.
const (
	EvtServoConfig = 1
	EvtServoStart  = 2
	EvtServoStop   = 3
	EvtServoRotate = 4
	EvtSweepStep   = 5
	EvtSweepDone   = 6
	EvtServoError  = 7
	EvtShutdown    = 8
)

const TraceRingSize = 32

// TraceEvent is one entry of the post-mortem ring.
type TraceEvent struct {
	EventType uint8
	OID       uint8
	Clock     uint32
	Value1    uint32
	Value2    uint32
}

var (
	debugPrintln DebugWriter = func(string) {}
	debugEnabled bool

	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8

	debugChan chan string
)

func SetDebugWriter(w DebugWriter) {
	if w == nil {
		w = func(string) {}
	}
	debugPrintln = w
}

// SetDebugEnabled toggles DebugPrintln output. It is off at boot and
// switched by the set_debug command.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes synchronously when debug output is enabled.
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// InitAsyncDebug starts the goroutine that drains DebugAsync messages.
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			debugPrintln(msg)
		}
	}()
}

// DebugAsync queues msg without blocking; it is dropped when the queue is
// full or debug output is off.
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordTrace appends to the ring regardless of the debug switch.
func RecordTrace(eventType, oid uint8, clock, value1, value2 uint32) {
	traceRing[traceRingHead] = TraceEvent{
		EventType: eventType,
		OID:       oid,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	traceRingHead = (traceRingHead + 1) % TraceRingSize
}

// TraceEvents returns the recorded events, oldest first.
func TraceEvents() []TraceEvent {
	out := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(traceRingHead+i)%TraceRingSize]
		if evt.EventType != 0 {
			out = append(out, evt)
		}
	}
	return out
}

func traceName(evt uint8) string {
	switch evt {
	case EvtServoConfig:
		return "CONFIG"
	case EvtServoStart:
		return "START"
	case EvtServoStop:
		return "STOP"
	case EvtServoRotate:
		return "ROTATE"
	case EvtSweepStep:
		return "SWEEP_STEP"
	case EvtSweepDone:
		return "SWEEP_DONE"
	case EvtServoError:
		return "ERROR!"
	case EvtShutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}

// DumpTrace writes the ring through the debug writer, bypassing the
// enable switch. It runs on shutdown.
func DumpTrace() {
	debugPrintln("[trace] begin")
	for _, evt := range TraceEvents() {
		debugPrintln("[trace] " + traceName(evt.EventType) +
			" oid=" + itoa(int(evt.OID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[trace] end")
}

func ClearTrace() {
	traceRing = [TraceRingSize]TraceEvent{}
	traceRingHead = 0
}
