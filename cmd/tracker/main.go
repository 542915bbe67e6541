// Command tracker buffers cat tracker telemetry and synchronizes it with the
// cloud over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/codec"
	"github.com/sweeney/cat-tracker/internal/config"
	"github.com/sweeney/cat-tracker/internal/device"
	"github.com/sweeney/cat-tracker/internal/fault"
	"github.com/sweeney/cat-tracker/internal/gpio"
	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/mqtt"
	"github.com/sweeney/cat-tracker/internal/publish"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/sensor"
	"github.com/sweeney/cat-tracker/internal/session"
	"github.com/sweeney/cat-tracker/internal/status"
	"github.com/sweeney/cat-tracker/internal/web"
)

// ErrNoSensors is returned when no sensor drivers are available.
var ErrNoSensors = errors.New("no sensor drivers on this platform, run with --simulate")

type flags struct {
	configPath  string
	broker      string
	httpAddr    string
	logLevel    string
	printConfig bool
	simulate    bool
}

func main() {
	fs := pflag.NewFlagSet("tracker", pflag.ExitOnError)
	f := parseFlags(fs, os.Args[1:])

	cfg, err := loadConfig(fs, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(2)
	}

	if f.printConfig {
		cfg.Cloud.Password = redact(cfg.Cloud.Password)
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	level, _ := cfg.Log.SlogLevel()
	logger := newLogger(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nil, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tracker: exiting", "err", err)
		os.Exit(1)
	}
}

func parseFlags(fs *pflag.FlagSet, args []string) flags {
	var f flags
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&f.broker, "broker", "", "MQTT broker address, overrides cloud.broker")
	fs.StringVar(&f.httpAddr, "http", "", `HTTP status address, overrides http.addr ("off" disables)`)
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.printConfig, "print-config", false, "print the effective configuration and exit")
	fs.BoolVar(&f.simulate, "simulate", false, "use simulated sensors")
	fs.Parse(args)
	return f
}

// loadConfig reads the config file, if any, and applies flags given on the
// command line.
func loadConfig(fs *pflag.FlagSet, f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}
	if fs.Changed("broker") {
		cfg.Cloud.Broker = f.broker
	}
	if fs.Changed("http") {
		cfg.HTTP.Addr = f.httpAddr
		if f.httpAddr == "off" {
			cfg.HTTP.Addr = ""
		}
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("simulate") {
		cfg.Device.Simulate = f.simulate
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	}))
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// run wires the daemon together and blocks until ctx is done or a fatal
// error halts it. sensors may be nil to use the configured source.
func run(ctx context.Context, cfg config.Config, sensors *sensor.Set, logger *slog.Logger) error {
	ctx, halt := context.WithCancelCause(ctx)
	defer halt(nil)

	faults := fault.New(fault.Options{
		Logger: logger,
		Reboot: cfg.Device.RebootOnFatal,
		Halt:   halt,
	})

	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("invalid configuration: %w", err)
		faults.Fatal(err)
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var set sensor.Set
	switch {
	case sensors != nil:
		set = *sensors
	case cfg.Device.Simulate:
		sim := sensor.NewSim(sensor.SimOptions{Logger: logger, Seed: uint64(time.Now().UnixNano())})
		g.Go(func() error { return sim.Run(ctx) })
		set = sim.Set()
		logger.Info("tracker: using simulated sensors")
	default:
		faults.Fatal(ErrNoSensors)
		return ErrNoSensors
	}

	clientID := cfg.Device.ClientID
	if clientID == "" {
		imei, err := set.Modem.IMEI()
		if err != nil {
			err = fmt.Errorf("read modem imei: %w", err)
			faults.Fatal(err)
			return err
		}
		clientID = imei
	}

	c, err := codec.New(codec.Options{Format: cfg.Cloud.Encoding, CompressBatches: cfg.Cloud.Compress})
	if err != nil {
		return fmt.Errorf("init codec: %w", err)
	}

	store := ring.NewStore(cfg.Buffers, cfg.Motion.MinInterval, logger)
	cell := mode.NewCell(cfg.Defaults)
	tracker := status.NewTracker(time.Now(), status.Config{
		ClientID: clientID,
		Broker:   cfg.Cloud.Broker,
		Encoding: string(c.Format()),
		HTTPAddr: cfg.HTTP.Addr,
		Simulate: cfg.Device.Simulate,
	}, nil)

	transport := mqtt.NewRealTransport(mqtt.RealOptions{
		Broker:         cfg.Cloud.Broker,
		ClientID:       clientID,
		Username:       cfg.Cloud.Username,
		Password:       cfg.Cloud.Password,
		Keepalive:      cfg.Cloud.Keepalive,
		ConnectTimeout: cfg.Cloud.ConnectTimeout,
		Logger:         logger,
	})

	var mgr *session.Manager
	mgr = session.New(session.Options{
		Transport: transport,
		Codec:     c,
		Config:    cell,
		Policy:    cfg.Cloud.Policy,
		Logger:    logger,
		Fatal:     faults.Fatal,
		OnState: func(s session.State) {
			tracker.SetSession(s.String(), mgr.Retries())
		},
	})

	sched := publish.New(publish.Options{
		Store:     store,
		Encoder:   c,
		Sender:    mgr,
		BatchSize: cfg.Cloud.BatchSize,
		Logger:    logger,
	})

	var buttons chan int
	if cfg.GPIO.Enabled {
		reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.Button1, cfg.GPIO.Button2)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()
		buttons = make(chan int, 1)
		g.Go(func() error {
			return gpio.Watch(ctx, reader, clock.Real(), cfg.GPIO.Poll, buttons, logger)
		})
	}

	dev := device.New(device.Options{
		Sensors:        set,
		Store:          store,
		Scheduler:      sched,
		Config:         cell,
		Session:        mgr,
		Logger:         logger,
		Buttons:        buttons,
		Tracker:        tracker,
		GPSGrace:       cfg.Device.GPSGrace,
		ButtonInterval: cfg.Device.ButtonInterval,
	})

	if cfg.HTTP.Addr != "" {
		srv := web.New(web.Options{Addr: cfg.HTTP.Addr, Tracker: tracker, Logger: logger})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("tracker: http server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("tracker: http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("tracker: started", "client_id", clientID, "broker", cfg.Cloud.Broker,
		"encoding", c.Format(), "mode", cell.Load().ModeString())

	// The host network is up by the time the daemon runs.
	mgr.NetworkReady()

	g.Go(func() error { return mgr.Run(ctx) })
	g.Go(func() error { return dev.Run(ctx) })

	err = g.Wait()
	if ferr := faults.Err(); ferr != nil {
		return ferr
	}
	return err
}
