package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"servopio/host/mcu"
	"servopio/servo"
	"servopio/standalone"
)

var errQuit = errors.New("quit")

// client is the part of *mcu.MCU the console drives.
type client interface {
	Send(ctx context.Context, name string, args map[string]string) error
	GetClock(ctx context.Context) (uint32, error)
	PrintDictionary(w io.Writer)
	GetDictionaryRaw() []byte
	ConfigServo(ctx context.Context, oid uint8, pin, backend string, cfg servo.Config) error
	ServoStart(ctx context.Context, oid uint8) error
	ServoStop(ctx context.Context, oid uint8) error
	ServoRotate(ctx context.Context, oid uint8, angle uint32) error
	ServoWritePulse(ctx context.Context, oid uint8, pulse time.Duration) error
	ServoSweep(ctx context.Context, oid uint8, target uint32, stepDelay time.Duration) error
	ServoQuery(ctx context.Context, oid uint8) (mcu.ServoState, error)
}

var _ client = (*mcu.MCU)(nil)

// console executes one line at a time against the firmware.
type console struct {
	mcu     client
	out     io.Writer
	servos  []standalone.ServoSpec
	timeout time.Duration
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Available commands:
  help                          Show this help message
  dict                          Print dictionary summary
  raw                           Print raw dictionary data
  clock                         Read the MCU clock
  config                        Send config_servo for every servo in -config
  start <oid> | stop <oid>      Enable or disable pulse output
  rotate <oid> <deg>            Rotate to an angle
  pulse <oid> <us>              Write a raw pulse width
  sweep <oid> <deg> [step_ms]   Sweep one degree per step (default 100 ms)
  query <oid>                   Read back position
  estop                         emergency_stop
  send <name> [key=value ...]   Send any dictionary command
  quit/exit/q                   Exit the program`)
}

// Execute runs one line. It returns errQuit when the user asks to leave.
func (c *console) Execute(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		c.printHelp()
	case "dict":
		c.mcu.PrintDictionary(c.out)
	case "raw":
		raw := c.mcu.GetDictionaryRaw()
		fmt.Fprintf(c.out, "Raw dictionary data (%d bytes):\n%s\n", len(raw), raw)
	case "clock":
		clock, err := c.mcu.GetClock(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "clock=%d\n", clock)
	case "config":
		return c.configure(ctx)
	case "start", "stop", "query":
		oid, err := parseOID(rest, 1)
		if err != nil {
			return err
		}
		switch cmd {
		case "start":
			return c.mcu.ServoStart(ctx, oid)
		case "stop":
			return c.mcu.ServoStop(ctx, oid)
		}
		st, err := c.mcu.ServoQuery(ctx, oid)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "servo %d: angle=%d pulse=%v running=%v\n", st.OID, st.Angle, st.Pulse, st.Running)
	case "rotate", "pulse":
		oid, err := parseOID(rest, 2)
		if err != nil {
			return err
		}
		v, err := parseUint(rest[1])
		if err != nil {
			return err
		}
		if cmd == "rotate" {
			return c.mcu.ServoRotate(ctx, oid, v)
		}
		return c.mcu.ServoWritePulse(ctx, oid, time.Duration(v)*time.Microsecond)
	case "sweep":
		oid, err := parseOID(rest, 2)
		if err != nil {
			return err
		}
		target, err := parseUint(rest[1])
		if err != nil {
			return err
		}
		step := uint32(100)
		if len(rest) > 2 {
			if step, err = parseUint(rest[2]); err != nil {
				return err
			}
		}
		return c.mcu.ServoSweep(ctx, oid, target, time.Duration(step)*time.Millisecond)
	case "estop":
		return c.mcu.Send(ctx, "emergency_stop", nil)
	case "send":
		if len(rest) == 0 {
			return errors.New("usage: send <name> [key=value ...]")
		}
		kv := make(map[string]string, len(rest)-1)
		for _, a := range rest[1:] {
			k, v, ok := strings.Cut(a, "=")
			if !ok {
				return fmt.Errorf("argument %q is not key=value", a)
			}
			kv[k] = v
		}
		return c.mcu.Send(ctx, rest[0], kv)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return nil
}

// configure sends config_servo for each configured servo, oid = index.
func (c *console) configure(ctx context.Context) error {
	if len(c.servos) == 0 {
		return errors.New("no servos configured (use -config)")
	}
	for i, s := range c.servos {
		pin, err := standalone.ParsePin(s.Pin)
		if err != nil {
			return err
		}
		if err := c.mcu.ConfigServo(ctx, uint8(i), "gpio"+strconv.Itoa(int(pin)), s.Backend, s.Builder().Config()); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		fmt.Fprintf(c.out, "oid %d: %s on gpio%d (%s)\n", i, s.Name, pin, s.Backend)
	}
	return nil
}

func parseOID(args []string, want int) (uint8, error) {
	if len(args) < want {
		return 0, fmt.Errorf("expected %d arguments", want)
	}
	v, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("bad oid %q", args[0])
	}
	return uint8(v), nil
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(v), nil
}
