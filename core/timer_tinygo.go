//go:build tinygo

package core

import "sync/atomic"

// The USB reader goroutine and the main loop both read the clock.
var systemTicksValue atomic.Uint32

func getSystemTicks() uint32 {
	return systemTicksValue.Load()
}

func setSystemTicks(ticks uint32) {
	systemTicksValue.Store(ticks)
}
