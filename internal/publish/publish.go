// Package publish decides what to send each cycle and drains the rings.
//
// A publish sends one snapshot of the latest samples, chosen by schema,
// followed by a drain pass that sends every queued ring entry in batches.
// Entries are confirmed only after the transport accepted them; any failure
// ends the pass and leaves the rest queued for the next cycle.
package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sweeney/cat-tracker/internal/mqtt"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// DefaultBatchSize is the maximum number of entries per batch message.
const DefaultBatchSize = 5

// Sender delivers a message to the cloud.
type Sender interface {
	Send(ctx context.Context, msg mqtt.Message) error
}

// Encoder builds message payloads.
type Encoder interface {
	EncodeSnapshot(s telemetry.Snapshot) ([]byte, error)
	EncodeBatch(class telemetry.Class, entries any) ([]byte, error)
	EncodeUserInput(s telemetry.Snapshot) ([]byte, error)
}

// SelectSchema returns the snapshot schema for a cycle. The first publish
// after boot carries the full modem description; later ones carry the
// dynamic blocks, plus GPS when a fix was acquired and the accelerometer
// block in passive mode.
func SelectSchema(firstPublish, active, fix bool) telemetry.Schema {
	if firstPublish {
		return telemetry.Full
	}
	s := telemetry.BlockModemDynamic | telemetry.BlockSensors | telemetry.BlockBattery
	if fix {
		s |= telemetry.BlockGPS
	}
	if !active {
		s |= telemetry.BlockAccel
	}
	return s
}

// Cycle describes the device state at publish time.
type Cycle struct {
	Active bool
	Fix    bool
}

// Report summarizes one publish.
type Report struct {
	Schema  telemetry.Schema
	Batches int
	Entries int
}

// Stats are cumulative publish counters.
type Stats struct {
	Snapshots  int
	Batches    int
	Entries    int
	UserInputs int
	Failures   int
}

// Options configures a Scheduler.
type Options struct {
	Store     *ring.Store
	Encoder   Encoder
	Sender    Sender
	BatchSize int
	Logger    *slog.Logger
}

// Scheduler composes snapshots and drains the rings. Not safe for
// concurrent use; it runs on the device loop.
type Scheduler struct {
	store     *ring.Store
	enc       Encoder
	sender    Sender
	logger    *slog.Logger
	published bool
	stats     Stats

	location    *lane[telemetry.Location]
	environment *lane[telemetry.Environment]
	modem       *lane[telemetry.Modem]
	userInput   *lane[telemetry.UserInput]
	motion      *lane[telemetry.Motion]
	battery     *lane[telemetry.Battery]
}

// New creates a Scheduler. Batch buffers are allocated here, once.
func New(opts Options) *Scheduler {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := opts.Store
	return &Scheduler{
		store:       s,
		enc:         opts.Encoder,
		sender:      opts.Sender,
		logger:      logger,
		location:    newLane(telemetry.ClassLocation, s.Location, size),
		environment: newLane(telemetry.ClassEnvironment, s.Environment, size),
		modem:       newLane(telemetry.ClassModem, s.Modem, size),
		userInput:   newLane(telemetry.ClassUserInput, s.UserInput, size),
		motion:      newLane(telemetry.ClassMotion, s.Motion, size),
		battery:     newLane(telemetry.ClassBattery, s.Battery, size),
	}
}

// FirstPublishDone reports whether a snapshot has been delivered since boot.
func (s *Scheduler) FirstPublishDone() bool { return s.published }

// Stats returns cumulative counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// Publish sends the cycle's snapshot and then drains every ring. The
// returned error is from the first failed step; entries not yet confirmed
// stay queued.
func (s *Scheduler) Publish(ctx context.Context, c Cycle) (Report, error) {
	rep := Report{Schema: SelectSchema(!s.published, c.Active, c.Fix)}

	if err := s.sendSnapshot(ctx, rep.Schema); err != nil {
		s.stats.Failures++
		return rep, err
	}
	s.published = true
	s.stats.Snapshots++

	err := s.drain(ctx, c, &rep)
	if err != nil {
		s.stats.Failures++
	}
	return rep, err
}

// Drain sends every queued entry without a snapshot, e.g. right after the
// session reconnects.
func (s *Scheduler) Drain(ctx context.Context, c Cycle) (Report, error) {
	var rep Report
	err := s.drain(ctx, c, &rep)
	if err != nil {
		s.stats.Failures++
	}
	return rep, err
}

func (s *Scheduler) sendSnapshot(ctx context.Context, schema telemetry.Schema) error {
	var snap telemetry.Snapshot
	var confirm []pending

	if schema.Has(telemetry.BlockModemStatic) || schema.Has(telemetry.BlockModemDynamic) {
		if e, ok := s.store.Modem.Latest(); ok {
			if schema.Has(telemetry.BlockModemStatic) {
				snap.ModemStatic = telemetry.Stamp(e.Value.Static, e.Time)
			}
			if schema.Has(telemetry.BlockModemDynamic) {
				snap.ModemDynamic = telemetry.Stamp(e.Value.Dynamic, e.Time)
			}
			confirm = append(confirm, pending{telemetry.ClassModem, e.Seq})
		}
	}
	if schema.Has(telemetry.BlockSensors) {
		if e, ok := s.store.Environment.Latest(); ok {
			snap.Sensors = telemetry.Stamp(e.Value, e.Time)
			confirm = append(confirm, pending{telemetry.ClassEnvironment, e.Seq})
		}
	}
	if schema.Has(telemetry.BlockBattery) {
		if e, ok := s.store.Battery.Latest(); ok {
			snap.Battery = telemetry.Stamp(e.Value, e.Time)
			confirm = append(confirm, pending{telemetry.ClassBattery, e.Seq})
		}
	}
	if schema.Has(telemetry.BlockGPS) {
		if e, ok := s.store.Location.Latest(); ok {
			snap.GPS = telemetry.Stamp(e.Value, e.Time)
			confirm = append(confirm, pending{telemetry.ClassLocation, e.Seq})
		}
	}
	if schema.Has(telemetry.BlockAccel) {
		if e, ok := s.store.Motion.Latest(); ok {
			snap.Accel = telemetry.Stamp(e.Value, e.Time)
			confirm = append(confirm, pending{telemetry.ClassMotion, e.Seq})
		}
	}

	payload, err := s.enc.EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("publish %s snapshot: %w", schema, err)
	}
	if err := s.sender.Send(ctx, mqtt.Message{Endpoint: mqtt.EndpointData, QoS: 1, Payload: payload}); err != nil {
		return fmt.Errorf("publish %s snapshot: %w", schema, err)
	}
	for _, p := range confirm {
		s.store.Confirm(p.class, p.seq)
	}
	s.logger.Info("publish: snapshot sent", "schema", schema.String(), "bytes", len(payload))
	return nil
}

type pending struct {
	class telemetry.Class
	seq   uint64
}

// drain runs the batch pass in fixed class order. Motion is only sent in
// passive mode.
func (s *Scheduler) drain(ctx context.Context, c Cycle, rep *Report) error {
	steps := []drainer{s.location, s.environment, s.modem, s.userInput}
	if !c.Active {
		steps = append(steps, s.motion)
	}
	steps = append(steps, s.battery)

	for _, d := range steps {
		batches, entries, err := d.drain(ctx, s.enc, s.sender)
		rep.Batches += batches
		rep.Entries += entries
		s.stats.Batches += batches
		s.stats.Entries += entries
		if err != nil {
			return err
		}
	}
	if rep.Entries > 0 {
		s.logger.Info("publish: buffers drained", "batches", rep.Batches, "entries", rep.Entries)
	}
	return nil
}

// SendUserInput sends the latest button press immediately on the messages
// endpoint, with the latest location, sensor, modem, motion and battery
// samples as context.
func (s *Scheduler) SendUserInput(ctx context.Context) error {
	ui, ok := s.store.UserInput.Latest()
	if !ok {
		return nil
	}
	snap := telemetry.Snapshot{UserInput: telemetry.Stamp(ui.Value, ui.Time)}
	if e, ok := s.store.Location.Latest(); ok {
		snap.GPS = telemetry.Stamp(e.Value, e.Time)
	}
	if e, ok := s.store.Environment.Latest(); ok {
		snap.Sensors = telemetry.Stamp(e.Value, e.Time)
	}
	if e, ok := s.store.Modem.Latest(); ok {
		snap.ModemDynamic = telemetry.Stamp(e.Value.Dynamic, e.Time)
	}
	if e, ok := s.store.Motion.Latest(); ok {
		snap.Accel = telemetry.Stamp(e.Value, e.Time)
	}
	if e, ok := s.store.Battery.Latest(); ok {
		snap.Battery = telemetry.Stamp(e.Value, e.Time)
	}

	payload, err := s.enc.EncodeUserInput(snap)
	if err != nil {
		return fmt.Errorf("publish user input: %w", err)
	}
	if err := s.sender.Send(ctx, mqtt.Message{Endpoint: mqtt.EndpointMessages, QoS: 1, Payload: payload}); err != nil {
		s.stats.Failures++
		return fmt.Errorf("publish user input: %w", err)
	}
	s.store.UserInput.Confirm(ui.Seq)
	s.stats.UserInputs++
	return nil
}
