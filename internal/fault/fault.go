// Package fault handles unrecoverable errors: missing broker configuration,
// identity retrieval failure and exhausted connection retries. The device
// either reboots or halts; it never keeps running in a degraded state.
package fault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Options configures a Handler.
type Options struct {
	Logger *slog.Logger

	// Reboot restarts the system on a fatal error. Otherwise Halt is called.
	Reboot bool

	// Halt stops the daemon, normally the cancel func of the root context.
	Halt context.CancelCauseFunc

	// RebootFunc overrides the platform reboot. Used by tests.
	RebootFunc func() error
}

// Handler runs the fatal error path once.
type Handler struct {
	logger   *slog.Logger
	reboot   bool
	halt     context.CancelCauseFunc
	rebootFn func() error

	once sync.Once
	mu   sync.Mutex
	err  error
	done chan struct{}
}

// New creates a Handler.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rebootFn := opts.RebootFunc
	if rebootFn == nil {
		rebootFn = reboot
	}
	halt := opts.Halt
	if halt == nil {
		halt = func(error) {}
	}
	return &Handler{
		logger:   logger,
		reboot:   opts.Reboot,
		halt:     halt,
		rebootFn: rebootFn,
		done:     make(chan struct{}),
	}
}

// Fatal logs err and reboots or halts. Only the first call has an effect.
func (h *Handler) Fatal(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		defer close(h.done)

		h.logger.Error("fault: fatal error", "err", err, "reboot", h.reboot)
		if h.reboot {
			rerr := h.rebootFn()
			if rerr == nil {
				return
			}
			h.logger.Error("fault: reboot failed, halting", "err", rerr)
			err = fmt.Errorf("%w (reboot failed: %v)", err, rerr)
		}
		h.halt(err)
	})
}

// Err returns the first fatal error, or nil.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once a fatal error has been handled.
func (h *Handler) Done() <-chan struct{} { return h.done }
