// Package gpio reads the tracker's two push buttons.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"log/slog"
	"time"

	"github.com/sweeney/cat-tracker/internal/clock"
)

// Reader reads the button lines.
type Reader interface {
	// Read returns whether button 1 and button 2 are held down.
	// The lines are active low: raw 0 = pressed.
	Read() (bool, bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinButton1 = 17
	PinButton2 = 27
)

// DefaultPoll is the button sampling interval.
const DefaultPoll = 50 * time.Millisecond

// Watch polls r and sends the button number (1 or 2) on out for every
// press. A press is a released-to-held transition; holding a button down
// produces one press. Read errors are logged and polling continues.
// Watch returns when ctx is done.
func Watch(ctx context.Context, r Reader, clk clock.Clock, poll time.Duration, out chan<- int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = DefaultPoll
	}

	var prev [2]bool
	failing := false
	for {
		b1, b2, err := r.Read()
		if err != nil {
			if !failing {
				logger.Warn("gpio: read failed", "err", err)
				failing = true
			}
		} else {
			failing = false
			cur := [2]bool{b1, b2}
			for i := range cur {
				if cur[i] && !prev[i] {
					select {
					case out <- i + 1:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			prev = cur
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(poll):
		}
	}
}
