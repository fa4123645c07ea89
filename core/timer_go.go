//go:build !tinygo

package core

// Host builds have no hardware clock; tests drive it with SetTime.
var systemTicks uint32

func getSystemTicks() uint32 {
	return systemTicks
}

func setSystemTicks(ticks uint32) {
	systemTicks = ticks
}
