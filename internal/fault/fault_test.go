package fault

import (
	"context"
	"errors"
	"sync"
	"testing"
)

var errBroker = errors.New("no broker configured")

func TestFatalHalts(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	h := New(Options{Halt: cancel})

	h.Fatal(errBroker)

	<-h.Done()
	if !errors.Is(context.Cause(ctx), errBroker) {
		t.Errorf("cause: got %v, want %v", context.Cause(ctx), errBroker)
	}
	if !errors.Is(h.Err(), errBroker) {
		t.Errorf("Err: got %v", h.Err())
	}
}

func TestFatalReboots(t *testing.T) {
	reboots := 0
	halted := false
	h := New(Options{
		Reboot:     true,
		RebootFunc: func() error { reboots++; return nil },
		Halt:       func(error) { halted = true },
	})

	h.Fatal(errBroker)

	if reboots != 1 {
		t.Errorf("reboots: got %d, want 1", reboots)
	}
	if halted {
		t.Error("should not halt after a successful reboot")
	}
}

func TestFatalRebootFailureHalts(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	rebootErr := errors.New("operation not permitted")
	h := New(Options{
		Reboot:     true,
		RebootFunc: func() error { return rebootErr },
		Halt:       cancel,
	})

	h.Fatal(errBroker)

	cause := context.Cause(ctx)
	if !errors.Is(cause, errBroker) {
		t.Errorf("cause should wrap the fatal error, got %v", cause)
	}
}

func TestFatalOnce(t *testing.T) {
	var mu sync.Mutex
	halts := 0
	h := New(Options{Halt: func(error) { mu.Lock(); halts++; mu.Unlock() }})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Fatal(errors.New("retries exhausted"))
		}()
	}
	wg.Wait()

	if halts != 1 {
		t.Errorf("halts: got %d, want 1", halts)
	}
}

func TestErrNilBeforeFatal(t *testing.T) {
	h := New(Options{})
	if h.Err() != nil {
		t.Errorf("Err: got %v, want nil", h.Err())
	}
	select {
	case <-h.Done():
		t.Error("Done should not be closed")
	default:
	}
}
