//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: character device lines need linux")

// RealReader has no implementation outside Linux.
type RealReader struct{}

// NewRealReader always fails outside Linux.
func NewRealReader(chip string, pin1, pin2 int) (*RealReader, error) {
	return nil, errUnsupported
}

func (*RealReader) Read() (bool, bool, error) { return false, false, errUnsupported }

func (*RealReader) Close() error { return nil }
