// Package codec turns telemetry and configuration into message payloads.
//
// Device shadow payloads (snapshots and configuration) are always JSON,
// the only format the shadow service parses. Batches and button messages
// use the configured format: CBOR (default, compact for the cellular link)
// or JSON (readable, for debugging against a local broker). Batch payloads
// can additionally be zstd-compressed.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// Format selects the wire format.
type Format string

const (
	FormatCBOR Format = "cbor"
	FormatJSON Format = "json"
)

// ErrEmptyConfig is returned when a configuration payload carries no
// recognized field.
var ErrEmptyConfig = errors.New("empty configuration")

// Options configures a Codec.
type Options struct {
	Format Format
	// CompressBatches zstd-compresses batch payloads.
	CompressBatches bool
}

// Codec encodes and decodes payloads. Safe for concurrent use.
type Codec struct {
	format  Format
	encMode cbor.EncMode
	decMode cbor.DecMode
	zenc    *zstd.Encoder
	zdec    *zstd.Decoder
}

// New creates a codec.
func New(opts Options) (*Codec, error) {
	c := &Codec{format: opts.Format}
	switch opts.Format {
	case FormatJSON:
	case FormatCBOR, "":
		c.format = FormatCBOR
		encOptions := cbor.CoreDetEncOptions()
		// Whole seconds encode as integers, sub-second times as floats.
		encOptions.Time = cbor.TimeUnixDynamic
		em, err := encOptions.EncMode()
		if err != nil {
			return nil, fmt.Errorf("create cbor encoder: %w", err)
		}
		dm, err := cbor.DecOptions{
			DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		}.DecMode()
		if err != nil {
			return nil, fmt.Errorf("create cbor decoder: %w", err)
		}
		c.encMode, c.decMode = em, dm
	default:
		return nil, fmt.Errorf("unknown format %q", opts.Format)
	}

	if opts.CompressBatches {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		c.zenc, c.zdec = enc, dec
	}
	return c, nil
}

// Format returns the wire format in use.
func (c *Codec) Format() Format { return c.format }

// Compressed reports whether batch payloads are zstd-compressed.
func (c *Codec) Compressed() bool { return c.zenc != nil }

func (c *Codec) marshal(v any) ([]byte, error) {
	if c.format == FormatJSON {
		return json.Marshal(v)
	}
	return c.encMode.Marshal(v)
}

func (c *Codec) unmarshal(data []byte, v any) error {
	if c.format == FormatJSON {
		return json.Unmarshal(data, v)
	}
	return c.decMode.Unmarshal(data, v)
}

// EncodeSnapshot encodes a composed snapshot for the data endpoint. The
// data endpoint is a shadow topic, so the payload is JSON in every format.
func (c *Codec) EncodeSnapshot(s telemetry.Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// EncodeUserInput encodes a button press message with its context blocks.
func (c *Codec) EncodeUserInput(s telemetry.Snapshot) ([]byte, error) {
	if s.UserInput == nil {
		return nil, errors.New("encode user input: no button block")
	}
	b, err := c.marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode user input: %w", err)
	}
	return b, nil
}

// Batch is the body of a batch message: buffered entries of one class.
type Batch struct {
	Class   string `json:"cls"`
	Entries any    `json:"data"`
}

// EncodeBatch encodes a slice of ring entries of one class.
func (c *Codec) EncodeBatch(class telemetry.Class, entries any) ([]byte, error) {
	b, err := c.marshal(Batch{Class: class.String(), Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encode %s batch: %w", class, err)
	}
	if c.zenc != nil {
		b = c.zenc.EncodeAll(b, make([]byte, 0, len(b)))
	}
	return b, nil
}

// DecodeBatch reverses EncodeBatch into v, whose Entries field should point
// at a slice of the expected entry type.
func (c *Codec) DecodeBatch(payload []byte, v *Batch) error {
	if c.zdec != nil {
		raw, err := c.zdec.DecodeAll(payload, nil)
		if err != nil {
			return fmt.Errorf("decompress batch: %w", err)
		}
		payload = raw
	}
	if err := c.unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}
	return nil
}

type reportedState struct {
	State struct {
		Reported struct {
			Cfg mode.Delta `json:"cfg"`
		} `json:"reported"`
	} `json:"state"`
}

// EncodeConfig encodes a JSON configuration report for the state endpoint.
func (c *Codec) EncodeConfig(cfg mode.DeviceConfig) ([]byte, error) {
	var r reportedState
	r.State.Reported.Cfg = cfg.Report()
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return b, nil
}

type configEnvelope struct {
	State *struct {
		Cfg *mode.Delta `json:"cfg"`
	} `json:"state,omitempty"`
	mode.Delta
}

// DecodeConfig decodes a JSON configuration update. Both the bare
// configuration object and a {"state":{"cfg":{...}}} delta document are
// accepted.
func (c *Codec) DecodeConfig(payload []byte) (mode.Delta, error) {
	if len(payload) == 0 {
		return mode.Delta{}, ErrEmptyConfig
	}
	var env configEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return mode.Delta{}, fmt.Errorf("decode config: %w", err)
	}
	d := env.Delta
	if env.State != nil && env.State.Cfg != nil {
		d = *env.State.Cfg
	}
	if d.Empty() {
		return mode.Delta{}, ErrEmptyConfig
	}
	return d, nil
}
