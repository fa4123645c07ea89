package core

import (
	"errors"

	"servopio/servo"
)

var (
	ErrPinInUse         = errors.New("pin already claimed")
	ErrUnknownBackend   = errors.New("unknown servo backend")
	ErrNoBackendFactory = errors.New("servo backend not available on this target")
	ErrOIDInUse         = errors.New("oid already configured")
	ErrShutdown         = errors.New("firmware is shut down")
	ErrSweepStep        = errors.New("sweep step_ticks must be non-zero")
)

// ServoBackendKind selects the signal generator behind a servo. The values
// are the wire encoding of config_servo's backend parameter.
type ServoBackendKind uint8

const (
	BackendPWM    ServoBackendKind = iota // hardware PWM slice
	BackendPIO                            // PIO state machine
	BackendDriver                         // tinygo.org/x/drivers/servo
	backendCount
)

var backendNames = [backendCount]string{"pwm", "pio", "driver"}

func (k ServoBackendKind) String() string {
	if k < backendCount {
		return backendNames[k]
	}
	return "backend" + itoa(int(k))
}

// BackendNames lists the backend enumeration in wire order.
func BackendNames() []string {
	return backendNames[:]
}

// ServoBackendFactory creates a backend bound to a GPIO.
type ServoBackendFactory func(pin uint32) (servo.Backend, error)

// Releaser is implemented by backends that hold hardware beyond the pin,
// such as a PIO state machine. Release runs when the servo is torn down.
type Releaser interface {
	Release() error
}

var backendFactories [backendCount]ServoBackendFactory

// SetServoBackendFactory installs the constructor for kind. Targets call
// it at boot for every backend they support.
func SetServoBackendFactory(kind ServoBackendKind, f ServoBackendFactory) {
	if kind < backendCount {
		backendFactories[kind] = f
	}
}

func newServoBackend(kind ServoBackendKind, pin uint32) (servo.Backend, error) {
	if kind >= backendCount {
		return nil, ErrUnknownBackend
	}
	f := backendFactories[kind]
	if f == nil {
		return nil, ErrNoBackendFactory
	}
	return f(pin)
}

// claimedPins maps a GPIO to the oid that owns it.
var claimedPins = make(map[uint32]uint8)

// ClaimPin gives oid exclusive use of pin.
func ClaimPin(pin uint32, oid uint8) error {
	if _, ok := claimedPins[pin]; ok {
		return ErrPinInUse
	}
	claimedPins[pin] = oid
	return nil
}

func ReleasePin(pin uint32) {
	delete(claimedPins, pin)
}

// PinOwner reports which oid holds pin.
func PinOwner(pin uint32) (uint8, bool) {
	oid, ok := claimedPins[pin]
	return oid, ok
}
