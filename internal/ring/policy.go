package ring

import "time"

// recordHighest applies the keep-highest retention rule:
//
//  1. a slot that is not queued is reused first;
//  2. otherwise the queued slot with the smallest magnitude is replaced, but
//     only if the incoming magnitude is strictly greater. Among equally small
//     slots the oldest is replaced.
//
// Afterwards current points at the newest queued sample by timestamp.
func (r *Ring[T]) recordHighest(t time.Time, v T) (int, bool) {
	if r.minInterval > 0 && !r.lastConsidered.IsZero() && t.Sub(r.lastConsidered) < r.minInterval {
		return -1, false
	}
	r.lastConsidered = t

	slot := -1
	for i := range r.slots {
		if !r.slots[i].Queued {
			slot = i
			break
		}
	}

	if slot < 0 {
		victim := -1
		var lowest float64
		for i := range r.slots {
			m := r.magnitude(r.slots[i].Value)
			if victim < 0 || m < lowest || (m == lowest && r.slots[i].Seq < r.slots[victim].Seq) {
				victim = i
				lowest = m
			}
		}
		if !(r.magnitude(v) > lowest) {
			r.stats.Rejected++
			return -1, false
		}
		slot = victim
		r.stats.Evicted++
	}

	r.write(slot, t, v)
	r.current = r.newestQueued()
	return slot, true
}

func (r *Ring[T]) newestQueued() int {
	newest := -1
	for i := range r.slots {
		e := &r.slots[i]
		if !e.Queued {
			continue
		}
		if newest < 0 {
			newest = i
			continue
		}
		n := &r.slots[newest]
		if e.Time.After(n.Time) || (e.Time.Equal(n.Time) && e.Seq > n.Seq) {
			newest = i
		}
	}
	return newest
}
