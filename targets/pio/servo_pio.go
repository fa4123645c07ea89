//go:build rp2040

package pio

// PIO servo backend using tinygo-org/pio.
//
// Program (loaded at offset 0 of each block that hosts a servo):
//
//	0: pull noblock      ; OSR <- newest pulse, or X when the FIFO is empty
//	1: mov x, osr        ; X = pulse loops
//	2: mov y, isr        ; Y = period loops, preloaded by SetPeriod
//	3: set pins, 0
//	countloop:
//	4: jmp x!=y, 6
//	5: set pins, 1       ; rising edge once Y counts down to X
//	6: jmp y--, 4
//
// The pin is low for the first part of each cycle and high for the last X
// counts, so a FIFO write takes effect at the next cycle boundary.

import (
	"errors"
	"machine"
	"time"

	"servopio/core"
	"servopio/servo"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

const servoPIOOrigin = 0

var ErrReleased = errors.New("PIO servo released")

var asm = rp2pio.AssemblerV0{SidesetBits: 0}

func buildServoProgram() []uint16 {
	return []uint16{
		// .wrap_target
		asm.Pull(false, false).Encode(),                          // 0: pull noblock
		asm.Mov(rp2pio.MovDestX, rp2pio.MovSrcOSR).Encode(),      // 1: mov x, osr
		asm.Mov(rp2pio.MovDestY, rp2pio.MovSrcISR).Encode(),      // 2: mov y, isr
		asm.Set(rp2pio.SetDestPins, 0).Encode(),                  // 3: set pins, 0
		asm.Jmp(servoPIOOrigin+6, rp2pio.JmpXNotEqualY).Encode(), // 4: jmp x!=y, 6
		asm.Set(rp2pio.SetDestPins, 1).Encode(),                  // 5: set pins, 1
		asm.Jmp(servoPIOOrigin+4, rp2pio.JmpYNZeroDec).Encode(),  // 6: jmp y--, 4
		// .wrap
	}
}

var (
	allocator Allocator
	// claimed remembers state machines already claimed from the hardware;
	// a claim is never handed back, the allocator tracks reuse.
	claimed [NumBlocks][SMsPerBlock]bool
	// loaded holds offset+1 of the program per block, 0 when not loaded.
	loaded [NumBlocks]uint8
)

func block(n uint8) *rp2pio.PIO {
	if n == 0 {
		return rp2pio.PIO0
	}
	return rp2pio.PIO1
}

func claimSlot(s Slot) bool {
	if claimed[s.Block][s.SM] {
		return true
	}
	if !block(s.Block).StateMachine(s.SM).TryClaim() {
		return false
	}
	claimed[s.Block][s.SM] = true
	return true
}

// ServoPIO drives one pin from a PIO state machine.
type ServoPIO struct {
	pio         *rp2pio.PIO
	sm          rp2pio.StateMachine
	slot        Slot
	pin         machine.Pin
	offset      uint8
	periodLoops uint32
	width       time.Duration
	pulse       uint32
	running     bool
	released    bool
}

// NewServoPIO allocates a state machine and configures it for pin. Output
// stays disabled until Start.
func NewServoPIO(pin uint32) (*ServoPIO, error) {
	slot, err := allocator.Allocate(claimSlot)
	if err != nil {
		return nil, err
	}
	b := &ServoPIO{
		pio:   block(slot.Block),
		slot:  slot,
		pin:   machine.Pin(pin),
		pulse: PulseOff,
	}
	b.sm = b.pio.StateMachine(slot.SM)
	if err := b.init(); err != nil {
		allocator.Free(slot)
		return nil, err
	}
	return b, nil
}

func (b *ServoPIO) init() error {
	program := buildServoProgram()
	if loaded[b.slot.Block] == 0 {
		offset, err := b.pio.AddProgram(program, servoPIOOrigin)
		if err != nil {
			return err
		}
		loaded[b.slot.Block] = offset + 1
	}
	b.offset = loaded[b.slot.Block] - 1

	whole, frac, err := ClockDivider(machine.CPUFrequency())
	if err != nil {
		return err
	}

	b.pin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.pin, 1)
	cfg.SetWrap(b.offset+uint8(len(program))-1, b.offset)
	cfg.SetClkDivIntFrac(whole, frac)

	// Init before pin directions, as with the stepper program.
	b.sm.Init(b.offset, cfg)
	b.sm.SetPindirsConsecutive(b.pin, 1, true)
	b.sm.SetPinsConsecutive(b.pin, 1, false)

	// Park X at PulseOff so the first cycles stay low.
	b.load(PulseOff, rp2pio.MovDestX)
	return nil
}

// load pushes v through the FIFO into dest with the state machine stopped.
func (b *ServoPIO) load(v uint32, dest rp2pio.MovDest) {
	b.sm.ClearFIFOs()
	b.sm.TxPut(v)
	b.sm.Exec(asm.Pull(false, true).Encode())
	b.sm.Exec(asm.Mov(dest, rp2pio.MovSrcOSR).Encode())
}

func (b *ServoPIO) SetPeriod(period time.Duration) error {
	if b.released {
		return ErrReleased
	}
	loops, err := PeriodLoops(period)
	if err != nil {
		return err
	}
	b.sm.SetEnabled(false)
	b.periodLoops = loops
	b.pulse = PulseLoops(b.width, loops)
	b.load(loops, rp2pio.MovDestISR)
	b.load(b.pulse, rp2pio.MovDestX)
	b.sm.SetEnabled(b.running)
	return nil
}

func (b *ServoPIO) Start() error {
	if b.released {
		return ErrReleased
	}
	b.running = true
	b.sm.SetEnabled(true)
	return nil
}

// Stop halts the state machine and drives the pin low.
func (b *ServoPIO) Stop() error {
	if b.released {
		return ErrReleased
	}
	b.running = false
	b.sm.SetEnabled(false)
	b.sm.Exec(asm.Set(rp2pio.SetDestPins, 0).Encode())
	return nil
}

// Write queues a new pulse width. With the FIFO full the stale widths are
// dropped; only the newest matters.
func (b *ServoPIO) Write(pulse time.Duration) error {
	if b.released {
		return ErrReleased
	}
	b.width = pulse
	b.pulse = PulseLoops(pulse, b.periodLoops)
	if !b.running {
		b.load(b.pulse, rp2pio.MovDestX)
		return nil
	}
	if b.sm.IsTxFIFOFull() {
		b.sm.ClearFIFOs()
	}
	b.sm.TxPut(b.pulse)
	return nil
}

// Release stops output and returns the state machine to the allocator.
func (b *ServoPIO) Release() error {
	if b.released {
		return nil
	}
	b.Stop()
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	allocator.Free(b.slot)
	b.released = true
	return nil
}

// Slot reports the state machine backing b.
func (b *ServoPIO) Slot() Slot {
	return b.slot
}

var (
	_ servo.Backend = (*ServoPIO)(nil)
	_ core.Releaser = (*ServoPIO)(nil)
)

// InitServos installs the PIO backend factory.
func InitServos() {
	core.SetServoBackendFactory(core.BackendPIO, func(pin uint32) (servo.Backend, error) {
		return NewServoPIO(pin)
	})
}

// AllocationStatus returns the state machine table for debugging.
func AllocationStatus() [NumBlocks][SMsPerBlock]bool {
	return allocator.Status()
}
