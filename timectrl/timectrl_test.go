package timectrl

import (
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
	if got := NowMs(tc); got != newNow.UnixMilli() {
		t.Fatalf("NowMs() = %d, want %d", got, newNow.UnixMilli())
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, Accelerated)

	var ticks int
	tc.AddListener(func(time.Time) { ticks++ })

	done := tc.Start(15 * time.Millisecond)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
	if ticks != 3 {
		t.Fatalf("listener called %d times, want 3", ticks)
	}
}

func TestTimeControllerAfterFiresOnSimulatedTime(t *testing.T) {
	start := time.Unix(0, 0)
	tc := NewTimeController(start, time.Second, Accelerated)

	ch := tc.After(2 * time.Second)
	tc.Step()
	select {
	case <-ch:
		t.Fatalf("After fired early")
	default:
	}

	tc.Step()
	select {
	case got := <-ch:
		if !got.Equal(start.Add(2 * time.Second)) {
			t.Fatalf("After delivered %v", got)
		}
	default:
		t.Fatalf("After did not fire at deadline")
	}
}

func TestTimeControllerAfterNonPositiveFiresImmediately(t *testing.T) {
	tc := NewTimeController(time.Unix(100, 0), time.Second, Accelerated)
	select {
	case <-tc.After(0):
	default:
		t.Fatalf("After(0) should fire immediately")
	}
}

func TestTimeControllerStopSignal(t *testing.T) {
	tc := NewTimeController(time.Unix(0, 0), time.Hour, RealTime)
	stop := make(chan struct{})
	done := tc.StartUntil(0, stop)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("controller did not stop")
	}
}

func TestWallClock(t *testing.T) {
	before := time.Now().UnixMilli()
	got := NowMs(WallClock{})
	if got < before {
		t.Fatalf("NowMs(WallClock) = %d, before = %d", got, before)
	}
	if NowMs(nil) < before {
		t.Fatalf("NowMs(nil) should fall back to wall clock")
	}
}
