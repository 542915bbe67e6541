// Package ring provides the fixed-capacity per-signal buffers that hold
// telemetry between capture and confirmed delivery.
//
// A Ring never grows: every slot is allocated up front and insertion either
// overwrites an existing slot or is refused by the retention policy. Slots
// stay queued until their delivery is confirmed. Not safe for concurrent use;
// the device loop is the only caller.
package ring

import (
	"iter"
	"log/slog"
	"time"
)

// Entry is one ring slot.
type Entry[T any] struct {
	// Seq identifies the sample; it is unique within a ring and grows
	// with every write. Zero means the slot was never written.
	Seq uint64 `json:"-"`

	Time   time.Time `json:"ts"`
	Queued bool      `json:"-"`
	Value  T         `json:"v"`
}

// Options configures a Ring.
type Options struct {
	// Name is used in log messages.
	Name string

	// Logger receives overflow warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// MinInterval is the minimum time between two samples considered by a
	// keep-highest ring. Ignored by round-robin rings.
	MinInterval time.Duration
}

// Stats summarizes a ring for status reporting.
type Stats struct {
	Capacity    int
	Occupied    int
	Queued      int
	Overwritten uint64 // queued samples lost to round-robin overwrite
	Evicted     uint64 // queued samples replaced by a higher magnitude
	Rejected    uint64 // samples refused by the keep-highest policy
}

// Ring is a fixed-capacity buffer of Entry[T].
type Ring[T any] struct {
	slots   []Entry[T]
	used    int // slots written at least once (round-robin fill cursor)
	head    int // next round-robin overwrite position once full
	current int // slot holding the latest sample, -1 before the first write
	seq     uint64
	queued  int

	// keep-highest policy; nil for round-robin rings
	magnitude      func(T) float64
	minInterval    time.Duration
	lastConsidered time.Time

	name     string
	logger   *slog.Logger
	overflow bool // true if a queued sample was lost since the ring last emptied
	stats    Stats
}

// NewRoundRobin creates a ring that overwrites its oldest slot once full.
func NewRoundRobin[T any](capacity int, opts Options) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ring[T]{
		slots:   make([]Entry[T], capacity),
		current: -1,
		name:    opts.Name,
		logger:  logger,
	}
}

// NewKeepHighest creates a ring that, once every slot is queued, retains the
// samples with the largest magnitude instead of the most recent ones.
func NewKeepHighest[T any](capacity int, magnitude func(T) float64, opts Options) *Ring[T] {
	r := NewRoundRobin[T](capacity, opts)
	r.magnitude = magnitude
	r.minInterval = opts.MinInterval
	return r
}

// Record inserts v captured at t and returns the slot it was written to.
// stored is false only when a keep-highest ring refuses the sample.
func (r *Ring[T]) Record(t time.Time, v T) (slot int, stored bool) {
	if r.magnitude != nil {
		return r.recordHighest(t, v)
	}
	return r.recordRoundRobin(t, v), true
}

func (r *Ring[T]) recordRoundRobin(t time.Time, v T) int {
	var slot int
	if r.used < len(r.slots) {
		slot = r.used
		r.used++
	} else {
		slot = r.head
		r.head = (r.head + 1) % len(r.slots)
		if r.slots[slot].Queued {
			r.stats.Overwritten++
			r.warnOverflow()
		}
	}
	r.write(slot, t, v)
	r.current = slot
	return slot
}

func (r *Ring[T]) warnOverflow() {
	if r.overflow {
		return
	}
	r.overflow = true
	r.logger.Warn("ring: buffer full, overwriting undelivered samples",
		"ring", r.name, "capacity", len(r.slots))
}

func (r *Ring[T]) write(slot int, t time.Time, v T) {
	r.seq++
	e := &r.slots[slot]
	if !e.Queued {
		r.queued++
	}
	e.Seq = r.seq
	e.Time = t
	e.Value = v
	e.Queued = true
}

// Drain yields every queued entry, oldest first. It does not change the
// queued state; call Confirm with the Seq of delivered entries. The sequence
// can be ranged over any number of times.
func (r *Ring[T]) Drain() iter.Seq[Entry[T]] {
	return func(yield func(Entry[T]) bool) {
		var last uint64
		for {
			next := -1
			for i := range r.slots {
				e := &r.slots[i]
				if !e.Queued || e.Seq <= last {
					continue
				}
				if next < 0 || e.Seq < r.slots[next].Seq {
					next = i
				}
			}
			if next < 0 {
				return
			}
			last = r.slots[next].Seq
			if !yield(r.slots[next]) {
				return
			}
		}
	}
}

// Confirm clears the queued flag of the entries with the given sequence
// numbers. Ids whose slot has been overwritten since they were drained are
// ignored. Returns the number of entries cleared.
func (r *Ring[T]) Confirm(ids ...uint64) int {
	n := 0
	for _, id := range ids {
		if id == 0 {
			continue
		}
		for i := range r.slots {
			e := &r.slots[i]
			if e.Seq == id && e.Queued {
				e.Queued = false
				r.queued--
				n++
				break
			}
		}
	}
	if r.queued == 0 {
		r.overflow = false
	}
	return n
}

// Latest returns the current entry: the most recent sample for round-robin
// rings, the newest queued sample for keep-highest rings.
func (r *Ring[T]) Latest() (Entry[T], bool) {
	if r.current < 0 {
		return Entry[T]{}, false
	}
	return r.slots[r.current], true
}

// UpdateLatest modifies the value of the current entry in place. Returns
// false if the ring is empty.
func (r *Ring[T]) UpdateLatest(fn func(*T)) bool {
	if r.current < 0 {
		return false
	}
	fn(&r.slots[r.current].Value)
	return true
}

// Queued returns the number of entries awaiting delivery.
func (r *Ring[T]) Queued() int { return r.queued }

// Cap returns the fixed number of slots.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Len returns the number of slots that hold a sample.
func (r *Ring[T]) Len() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].Seq != 0 {
			n++
		}
	}
	return n
}

// Stats returns counters for status reporting.
func (r *Ring[T]) Stats() Stats {
	s := r.stats
	s.Capacity = len(r.slots)
	s.Occupied = r.Len()
	s.Queued = r.queued
	return s
}
