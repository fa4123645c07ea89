package standalone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"servopio/core"
)

var (
	ErrBadPin     = errors.New("invalid pin")
	ErrBadBackend = errors.New("invalid backend")
)

// MaxPin is the highest RP2040 GPIO.
const MaxPin = 29

// ParsePin accepts "gpio10", "GP10" or "10".
func ParsePin(name string) (uint32, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "gpio")
	s = strings.TrimPrefix(s, "gp")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n > MaxPin {
		return 0, fmt.Errorf("%w %q", ErrBadPin, name)
	}
	return uint32(n), nil
}

// ParseBackend maps a backend name to its wire kind.
func ParseBackend(name string) (core.ServoBackendKind, error) {
	for i, n := range core.BackendNames() {
		if strings.EqualFold(n, name) {
			return core.ServoBackendKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrBadBackend, name)
}
