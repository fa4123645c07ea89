package pio

import "errors"

// RP2040 and RP2350 both carry two PIO blocks with four state machines each.
const (
	NumBlocks   = 2
	SMsPerBlock = 4
)

var ErrNoStateMachine = errors.New("no free PIO state machine")

// Slot names one state machine.
type Slot struct {
	Block uint8
	SM    uint8
}

// Allocator hands out state machines round-robin across both blocks, so
// consecutive servos land on different blocks first.
type Allocator struct {
	used [NumBlocks][SMsPerBlock]bool
	next uint8
}

// Allocate returns the next free slot. claim, when non-nil, gets the final
// say: a slot it refuses (for example one held by other firmware code) is
// skipped.
func (a *Allocator) Allocate(claim func(Slot) bool) (Slot, error) {
	const total = NumBlocks * SMsPerBlock
	for i := 0; i < total; i++ {
		n := (a.next + uint8(i)) % total
		s := Slot{Block: n % NumBlocks, SM: n / NumBlocks}
		if a.used[s.Block][s.SM] {
			continue
		}
		if claim != nil && !claim(s) {
			continue
		}
		a.used[s.Block][s.SM] = true
		a.next = (n + 1) % total
		return s, nil
	}
	return Slot{}, ErrNoStateMachine
}

// Free returns s to the pool. Freeing an unused slot is a no-op.
func (a *Allocator) Free(s Slot) {
	if s.Block < NumBlocks && s.SM < SMsPerBlock {
		a.used[s.Block][s.SM] = false
	}
}

// InUse counts allocated slots.
func (a *Allocator) InUse() int {
	n := 0
	for _, blk := range a.used {
		for _, u := range blk {
			if u {
				n++
			}
		}
	}
	return n
}

// Status returns the allocation table for debugging.
func (a *Allocator) Status() [NumBlocks][SMsPerBlock]bool {
	return a.used
}

// Reset frees every slot.
func (a *Allocator) Reset() {
	*a = Allocator{}
}
