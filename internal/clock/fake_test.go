package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	ch := c.After(10 * time.Second)

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(10 * time.Second)) {
			t.Errorf("fire time: got %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestFakeAfterZeroFiresImmediately(t *testing.T) {
	c := NewFake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
	if c.Pending() != 0 {
		t.Errorf("pending: got %d, want 0", c.Pending())
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := NewFake(epoch)
	tm := c.NewTimer(time.Second)
	if c.Pending() != 1 {
		t.Fatalf("pending: got %d, want 1", c.Pending())
	}
	if !tm.Stop() {
		t.Error("Stop on active timer should return true")
	}
	if tm.Stop() {
		t.Error("second Stop should return false")
	}
	if c.Pending() != 0 {
		t.Errorf("pending after stop: got %d, want 0", c.Pending())
	}

	c.Advance(2 * time.Second)
	select {
	case <-tm.C():
		t.Error("stopped timer fired")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)
	<-done
}

func TestFakeNextDeadline(t *testing.T) {
	c := NewFake(epoch)
	if _, ok := c.NextDeadline(); ok {
		t.Error("expected no deadline on empty clock")
	}
	c.After(30 * time.Second)
	c.After(10 * time.Second)
	d, ok := c.NextDeadline()
	if !ok || d != 10*time.Second {
		t.Errorf("next deadline: got %v %v, want 10s true", d, ok)
	}
}
