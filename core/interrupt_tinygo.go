//go:build tinygo

package core

import "runtime/interrupt"

// The timer list is touched from the main loop and from goroutines woken
// by the USB reader, so list edits run with interrupts masked.
type State = interrupt.State

func disableInterrupts() State { return interrupt.Disable() }

func restoreInterrupts(s State) { interrupt.Restore(s) }
