package publish

import (
	"context"
	"fmt"

	"github.com/sweeney/cat-tracker/internal/mqtt"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

type drainer interface {
	drain(ctx context.Context, enc Encoder, sender Sender) (batches, entries int, err error)
}

// lane drains one ring through preallocated batch buffers.
type lane[T any] struct {
	class   telemetry.Class
	ring    *ring.Ring[T]
	batch   []ring.Entry[T]
	ids     []uint64
	maxSize int
}

func newLane[T any](class telemetry.Class, r *ring.Ring[T], size int) *lane[T] {
	return &lane[T]{
		class:   class,
		ring:    r,
		batch:   make([]ring.Entry[T], 0, size),
		ids:     make([]uint64, 0, size),
		maxSize: size,
	}
}

func (l *lane[T]) drain(ctx context.Context, enc Encoder, sender Sender) (batches, entries int, err error) {
	for l.ring.Queued() > 0 {
		if err := ctx.Err(); err != nil {
			return batches, entries, err
		}

		l.batch = l.batch[:0]
		l.ids = l.ids[:0]
		for e := range l.ring.Drain() {
			l.batch = append(l.batch, e)
			l.ids = append(l.ids, e.Seq)
			if len(l.batch) == l.maxSize {
				break
			}
		}

		payload, err := enc.EncodeBatch(l.class, l.batch)
		if err != nil {
			return batches, entries, fmt.Errorf("drain %s: %w", l.class, err)
		}
		if err := sender.Send(ctx, mqtt.Message{Endpoint: mqtt.EndpointBatch, QoS: 1, Payload: payload}); err != nil {
			return batches, entries, fmt.Errorf("drain %s: %w", l.class, err)
		}

		n := l.ring.Confirm(l.ids...)
		batches++
		entries += n
		if n == 0 {
			break
		}
	}
	return batches, entries, nil
}
