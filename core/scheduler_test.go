package core

import "testing"

func TestTimerOrderingAcrossWrap(t *testing.T) {
	t.Cleanup(resetTimers)
	resetTimers()

	var fired []string
	mk := func(name string, at uint32) *Timer {
		return &Timer{WakeTime: at, Handler: func(*Timer) uint8 {
			fired = append(fired, name)
			return SF_DONE
		}}
	}
	// 0xFFFFFFF0 is before 0x10 once the clock wraps.
	ScheduleTimer(mk("late", 0x10))
	ScheduleTimer(mk("early", 0xFFFFFFF0))
	ScheduleTimer(mk("mid", 0xFFFFFFF8))

	SetTime(0xFFFFFFF4)
	ProcessTimers()
	if len(fired) != 1 || fired[0] != "early" {
		t.Fatalf("fired = %v", fired)
	}
	SetTime(0x20)
	ProcessTimers()
	if len(fired) != 3 || fired[1] != "mid" || fired[2] != "late" {
		t.Fatalf("fired = %v", fired)
	}
}

func TestTimerRescheduleAndCancel(t *testing.T) {
	t.Cleanup(resetTimers)
	resetTimers()
	SetTime(0)

	runs := 0
	tm := &Timer{WakeTime: 100, Handler: func(t *Timer) uint8 {
		runs++
		t.WakeTime += 100
		return SF_RESCHEDULE
	}}
	ScheduleTimer(tm)

	advance(250)
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
	if !CancelTimer(tm) {
		t.Fatal("CancelTimer did not find a scheduled timer")
	}
	if CancelTimer(tm) {
		t.Error("CancelTimer found a timer twice")
	}
	advance(1000)
	if runs != 2 || PendingTimers() != 0 {
		t.Errorf("cancelled timer ran: runs=%d pending=%d", runs, PendingTimers())
	}
}

func TestUptimeExtendsClock(t *testing.T) {
	SetTime(0xFFFFFF00)
	TimerInit()
	SetTime(0x100)
	if up := GetUptime(); up != 1<<32|0x100 {
		t.Errorf("uptime = %#x", up)
	}
}
