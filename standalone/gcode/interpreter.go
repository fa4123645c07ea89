package gcode

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrUnsupported  = errors.New("unsupported command")
	ErrMissingParam = errors.New("missing parameter")
)

// Machine is the set of servos the interpreter drives. Index is the
// position of the servo in the configuration.
type Machine interface {
	Rotate(index int, angle uint32) error
	ServoStart(index int) error
	ServoStop(index int) error
	WritePulse(index int, pulse time.Duration) error
	// Sweep moves one degree per stepDelay toward target. A zero stepDelay
	// selects the configured default.
	Sweep(index int, target uint32, stepDelay time.Duration) error
	Position(index int) (angle uint32, pulse time.Duration, running bool, err error)
	Dwell(d time.Duration) error
	EmergencyStop()
	// Resume clears the emergency stop latch.
	Resume() error
}

// Interpreter executes servo G-code against a Machine:
//
//	M280 P<i> [S<deg>]   rotate, or report the position without S
//	M281 P<i>            start pulse output
//	M282 P<i>            stop pulse output
//	M283 P<i> S<deg> [D<ms>]  sweep toward S
//	M284 P<i> S<us>      raw pulse width
//	M112                 emergency stop
//	M115                 firmware info
//	M999                 resume after M112
//	G4 P<ms> | S<s>      dwell
type Interpreter struct {
	machine Machine
	version string
}

// NewInterpreter creates a new G-code interpreter
func NewInterpreter(machine Machine, version string) *Interpreter {
	return &Interpreter{machine: machine, version: version}
}

// Execute runs cmd. The returned text is a report to print before "ok";
// most commands return none.
func (interp *Interpreter) Execute(cmd *Command) (string, error) {
	if cmd == nil || cmd.Type == 0 {
		return "", nil
	}

	switch cmd.Type {
	case 'G':
		return "", interp.executeG(cmd)
	case 'M':
		return interp.executeM(cmd)
	}
	return "", unsupported(cmd)
}

func (interp *Interpreter) executeG(cmd *Command) error {
	switch cmd.Number {
	case 4:
		d := time.Duration(cmd.Uint('P', 0)) * time.Millisecond
		if cmd.HasParameter('S') {
			d += time.Duration(cmd.Uint('S', 0)) * time.Second
		}
		return interp.machine.Dwell(d)
	}
	return unsupported(cmd)
}

func (interp *Interpreter) executeM(cmd *Command) (string, error) {
	switch cmd.Number {
	case 112:
		interp.machine.EmergencyStop()
		return "", nil
	case 115:
		return "FIRMWARE_NAME:" + interp.version, nil
	case 999:
		return "", interp.machine.Resume()
	}

	if !cmd.HasParameter('P') {
		if cmd.Number >= 280 && cmd.Number <= 284 {
			return "", missing(cmd, 'P')
		}
		return "", unsupported(cmd)
	}
	idx := int(cmd.Uint('P', 0))

	switch cmd.Number {
	case 280:
		if !cmd.HasParameter('S') {
			return interp.report(idx)
		}
		return "", interp.machine.Rotate(idx, cmd.Uint('S', 0))
	case 281:
		return "", interp.machine.ServoStart(idx)
	case 282:
		return "", interp.machine.ServoStop(idx)
	case 283:
		if !cmd.HasParameter('S') {
			return "", missing(cmd, 'S')
		}
		delay := time.Duration(cmd.Uint('D', 0)) * time.Millisecond
		return "", interp.machine.Sweep(idx, cmd.Uint('S', 0), delay)
	case 284:
		if !cmd.HasParameter('S') {
			return "", missing(cmd, 'S')
		}
		return "", interp.machine.WritePulse(idx, time.Duration(cmd.Uint('S', 0))*time.Microsecond)
	}
	return "", unsupported(cmd)
}

func (interp *Interpreter) report(idx int) (string, error) {
	angle, pulse, running, err := interp.machine.Position(idx)
	if err != nil {
		return "", err
	}
	state := "stopped"
	if running {
		state = "running"
	}
	return "Servo " + strconv.Itoa(idx) + ": " + strconv.FormatUint(uint64(angle), 10) +
		" pulse=" + strconv.FormatInt(int64(pulse/time.Microsecond), 10) + "us " + state, nil
}

func name(cmd *Command) string {
	return string(cmd.Type) + strconv.Itoa(cmd.Number)
}

func unsupported(cmd *Command) error {
	return fmt.Errorf("%w %s", ErrUnsupported, name(cmd))
}

func missing(cmd *Command, param byte) error {
	return fmt.Errorf("%w %c for %s", ErrMissingParam, param, name(cmd))
}
