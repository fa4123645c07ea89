package core

// TimerFreq is the tick rate of GetTime: the RP2040 timer counts
// microseconds.
const TimerFreq = 1000000

// GetTime returns the current clock in ticks.
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime is called by targets with the hardware clock, and by tests.
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

var uptimeHigh uint32
var lastTicks uint32

// GetUptime extends the 32-bit clock to 64 bits. It must be called at
// least once per wrap, which ProcessTimers guarantees.
func GetUptime() uint64 {
	now := GetTime()
	if now < lastTicks {
		uptimeHigh++
	}
	lastTicks = now
	return uint64(uptimeHigh)<<32 | uint64(now)
}

// TimerFromUS converts microseconds to ticks.
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts ticks to microseconds.
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

func TimerInit() {
	lastTicks = GetTime()
	uptimeHigh = 0
}

// ProcessTimers samples the clock and runs due timers. Targets call it from
// the main loop.
func ProcessTimers() {
	currentTime = GetTime()
	GetUptime()
	TimerDispatch()
}
