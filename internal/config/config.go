// Package config loads the daemon configuration from a YAML file.
//
// Every field has a default, so an empty file (or no file) is valid except
// for the broker address, which must be supplied by the file or a flag.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/cat-tracker/internal/codec"
	"github.com/sweeney/cat-tracker/internal/gpio"
	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/publish"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/session"
)

// ErrNoBroker is returned by Validate when no broker address is configured.
var ErrNoBroker = errors.New("no broker configured")

// Config is the daemon configuration.
type Config struct {
	Device   Device            `yaml:"device"`
	Buffers  ring.Capacities   `yaml:"buffers"`
	Motion   Motion            `yaml:"motion"`
	Cloud    Cloud             `yaml:"cloud"`
	Defaults mode.DeviceConfig `yaml:"defaults"`
	HTTP     HTTP              `yaml:"http"`
	GPIO     GPIO              `yaml:"gpio"`
	Log      Log               `yaml:"log"`
}

// Device holds identity and fault handling settings.
type Device struct {
	// ClientID overrides the modem IMEI as the cloud identity.
	ClientID      string `yaml:"client_id"`
	RebootOnFatal bool   `yaml:"reboot_on_fatal"`
	Simulate      bool   `yaml:"simulate"`

	// GPSGrace is added to the GPS timeout before the loop gives up waiting
	// for the receiver to report.
	GPSGrace time.Duration `yaml:"gps_grace"`

	// ButtonInterval is the minimum time between two button messages.
	ButtonInterval time.Duration `yaml:"button_interval"`
}

// Motion configures accelerometer buffering.
type Motion struct {
	// MinInterval is the minimum time between two buffered motion samples.
	MinInterval time.Duration `yaml:"min_interval"`
}

// Cloud configures the MQTT session.
type Cloud struct {
	Broker         string         `yaml:"broker"`
	Username       string         `yaml:"username"`
	Password       string         `yaml:"password"`
	Keepalive      time.Duration  `yaml:"keepalive"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	Policy         session.Policy `yaml:",inline"`
	// Encoding applies to batch and button messages. Shadow payloads are JSON.
	Encoding       codec.Format   `yaml:"encoding"`
	Compress       bool           `yaml:"compress_batches"`
	BatchSize      int            `yaml:"batch_size"`
}

// HTTP configures the status server.
type HTTP struct {
	// Addr is the listen address; empty disables the server.
	Addr string `yaml:"addr"`
}

// GPIO configures the button lines.
type GPIO struct {
	Enabled bool          `yaml:"enabled"`
	Chip    string        `yaml:"chip"`
	Button1 int           `yaml:"button1"`
	Button2 int           `yaml:"button2"`
	Poll    time.Duration `yaml:"poll"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: Device{
			GPSGrace:       10 * time.Second,
			ButtonInterval: 2 * time.Second,
		},
		Buffers: ring.DefaultCapacities(),
		Motion:  Motion{MinInterval: time.Second},
		Cloud: Cloud{
			Keepalive:      20 * time.Minute,
			ConnectTimeout: 30 * time.Second,
			Policy:         session.DefaultPolicy(),
			Encoding:       codec.FormatCBOR,
			BatchSize:      publish.DefaultBatchSize,
		},
		Defaults: mode.Default(),
		HTTP:     HTTP{Addr: ":8080"},
		GPIO: GPIO{
			Chip:    "gpiochip0",
			Button1: gpio.PinButton1,
			Button2: gpio.PinButton2,
			Poll:    gpio.DefaultPoll,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration. A missing broker wraps ErrNoBroker.
func (c Config) Validate() error {
	if c.Cloud.Broker == "" {
		return ErrNoBroker
	}
	switch c.Cloud.Encoding {
	case codec.FormatCBOR, codec.FormatJSON:
	default:
		return fmt.Errorf("cloud.encoding: unknown format %q", c.Cloud.Encoding)
	}
	if c.Cloud.BatchSize <= 0 {
		return fmt.Errorf("cloud.batch_size must be positive, got %d", c.Cloud.BatchSize)
	}
	if c.Cloud.Keepalive <= 0 {
		return fmt.Errorf("cloud.keepalive must be positive, got %v", c.Cloud.Keepalive)
	}
	if c.Cloud.Policy.Base < 0 || c.Cloud.Policy.MaxDelay < c.Cloud.Policy.Base {
		return fmt.Errorf("cloud: backoff_max %v must not be below backoff_base %v", c.Cloud.Policy.MaxDelay, c.Cloud.Policy.Base)
	}
	if c.Cloud.Policy.MaxRetries < 0 {
		return fmt.Errorf("cloud.max_retries must not be negative, got %d", c.Cloud.Policy.MaxRetries)
	}

	caps := []struct {
		name string
		n    int
	}{
		{"location", c.Buffers.Location},
		{"motion", c.Buffers.Motion},
		{"modem", c.Buffers.Modem},
		{"environment", c.Buffers.Environment},
		{"battery", c.Buffers.Battery},
		{"user_input", c.Buffers.UserInput},
	}
	for _, b := range caps {
		if b.n <= 0 {
			return fmt.Errorf("buffers.%s must be positive, got %d", b.name, b.n)
		}
	}

	if c.Motion.MinInterval < 0 {
		return fmt.Errorf("motion.min_interval must not be negative, got %v", c.Motion.MinInterval)
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the log level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// YAML returns the configuration as a YAML document.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
