//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the buttons from the Linux GPIO character device.
type RealReader struct {
	chip *gpiocdev.Chip
	pin1 *gpiocdev.Line
	pin2 *gpiocdev.Line
}

// NewRealReader requests the two button lines on chip (e.g. "gpiochip0").
func NewRealReader(chip string, pin1, pin2 int) (*RealReader, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	// Buttons short the line to ground when pressed.
	line1, err := c.RequestLine(pin1, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer("cat-tracker"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request button 1 pin %d: %w", pin1, err)
	}

	line2, err := c.RequestLine(pin2, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer("cat-tracker"))
	if err != nil {
		line1.Close()
		c.Close()
		return nil, fmt.Errorf("request button 2 pin %d: %w", pin2, err)
	}

	return &RealReader{chip: c, pin1: line1, pin2: line2}, nil
}

// Read returns whether each button is held. Raw 0 = pressed.
func (r *RealReader) Read() (bool, bool, error) {
	raw1, err := r.pin1.Value()
	if err != nil {
		return false, false, fmt.Errorf("read button 1: %w", err)
	}
	raw2, err := r.pin2.Value()
	if err != nil {
		return false, false, fmt.Errorf("read button 2: %w", err)
	}
	return raw1 == 0, raw2 == 0, nil
}

// Close releases the lines and the chip.
func (r *RealReader) Close() error {
	var errs []error
	if r.pin1 != nil {
		if err := r.pin1.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button 1: %w", err))
		}
	}
	if r.pin2 != nil {
		if err := r.pin2.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button 2: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
