package gpio

import (
	"errors"
	"sync"
)

// ErrNoScript is returned by a FakeReader with nothing scripted.
var ErrNoScript = errors.New("gpio: no button states scripted")

// Sample is one reading of both buttons, true while held.
type Sample struct {
	Button1 bool
	Button2 bool
}

// FakeReader replays scripted button states. Once the script runs out the
// last state is held.
type FakeReader struct {
	mu     sync.Mutex
	script []Sample
	pos    int
	err    error
	reads  int
	closed bool
}

// NewFakeReader creates a FakeReader that replays script.
func NewFakeReader(script ...Sample) *FakeReader {
	return &FakeReader{script: script}
}

func (f *FakeReader) Read() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++

	switch {
	case f.err != nil:
		return false, false, f.err
	case len(f.script) == 0:
		return false, false, ErrNoScript
	}
	s := f.script[f.pos]
	if f.pos < len(f.script)-1 {
		f.pos++
	}
	return s.Button1, s.Button2, nil
}

// SetError makes Read fail with err until cleared with nil.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Reads returns the number of Read calls.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called since the last Rewind.
func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Rewind restarts the script and reopens the reader.
func (f *FakeReader) Rewind() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = 0
	f.closed = false
}
