package core

// Timer is one entry of the cooperative timer list. Handler runs from
// ProcessTimers once WakeTime has passed and returns SF_RESCHEDULE after
// moving WakeTime forward to run again.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// timerBefore compares clocks across 32-bit wraparound.
func timerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ScheduleTimer inserts t ordered by WakeTime. t must not already be
// scheduled; use CancelTimer first when re-arming.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	insertTimer(t)
}

// CancelTimer unlinks t and reports whether it was scheduled.
func CancelTimer(t *Timer) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for pp := &timerList; *pp != nil; pp = &(*pp).Next {
		if *pp == t {
			*pp = t.Next
			t.Next = nil
			return true
		}
	}
	return false
}

func insertTimer(t *Timer) {
	pp := &timerList
	for *pp != nil && !timerBefore(t.WakeTime, (*pp).WakeTime) {
		pp = &(*pp).Next
	}
	t.Next = *pp
	*pp = t
}

// TimerDispatch runs every timer due at currentTime.
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && !timerBefore(currentTime, timerList.WakeTime) {
		t := timerList
		timerList = t.Next
		t.Next = nil
		if t.Handler(t) == SF_RESCHEDULE {
			insertTimer(t)
		}
	}
}

// PendingTimers counts scheduled timers.
func PendingTimers() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	n := 0
	for t := timerList; t != nil; t = t.Next {
		n++
	}
	return n
}

// resetTimers drops every scheduled timer.
func resetTimers() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	for t := timerList; t != nil; {
		next := t.Next
		t.Next = nil
		t = next
	}
	timerList = nil
}
