package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/omnihack/pkg/omnihack"
	"github.com/norasector/omnihack/pkg/omnihack/config"
	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/omnihack/pkg/omnihack/device/file"
	"github.com/norasector/omnihack/pkg/omnihack/device/null"
	"github.com/norasector/omnihack/pkg/omnihack/event"
	"github.com/norasector/omnihack/pkg/omnihack/output"
	"github.com/norasector/omnihack/pkg/omnihack/radio"
	"github.com/norasector/omnihack/pkg/omnihack/server"
	"github.com/norasector/omnihack/pkg/pda"
	"github.com/norasector/omnihack/pkg/util"
)

const (
	defaultConfigFile = "omnihack.yaml"
	fileReadSize      = 4096
)

type cliArgs struct {
	Config   string   `short:"c" help:"YAML config file (default ${default_config} when present)" type:"path"`
	Input    string   `short:"f" help:"Read samples from a cf32 file instead of the radio" type:"path"`
	Replay   string   `short:"r" help:"Transmit this cf32 recording instead of the decoder output" type:"path"`
	Which    int      `short:"w" default:"-1" help:"Device index for rtlsdr receivers"`
	RxSubdev string   `name:"rx-subdev" short:"R" help:"RX daughterboard, e.g. A, B or A:0"`
	TxSubdev string   `name:"tx-subdev" short:"T" help:"TX daughterboard, e.g. A, B or A:0"`
	Verbose  bool     `short:"v" help:"Debug logging"`
	Rest     []string `arg:"" optional:"" hidden:""`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	var cli cliArgs
	kong.Parse(&cli,
		kong.Name("omnihack"),
		kong.Description("Full-duplex transceiver for the 13.56 MHz PDA link."),
		kong.Vars{"default_config": defaultConfigFile})

	if err := run(cli); err != nil {
		var rerr *radio.Error
		if errors.As(err, &rerr) && rerr.Fatal() {
			log.Error().Stringer("kind", rerr.Kind).Err(err).Msg("fatal configuration error")
		} else {
			log.Error().Err(err).Msg("exited program")
		}
		os.Exit(1)
	}
}

func loadConfig(args cliArgs) (config.Config, error) {
	path := args.Config
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigFile
	}
	return config.Load(path)
}

func setupLogging(opts config.Config, verbose bool) {
	level, err := zerolog.ParseLevel(opts.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if opts.Log.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   opts.Log.File,
			MaxSize:    opts.Log.MaxSizeMB,
			MaxBackups: opts.Log.MaxBackups,
		})
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
}

// applyFlags lays the command line over opts and parses the subdevice
// specs that end up selected.
func applyFlags(args cliArgs, opts *config.Config) (rxSpec, txSpec *radio.SubdevSpec, err error) {
	if len(args.Rest) > 0 {
		return nil, nil, radio.ArgumentsError(nil, "unrecognized arguments: %s", strings.Join(args.Rest, " "))
	}
	if args.Input != "" {
		opts.InputFile = args.Input
	}
	if args.Replay != "" {
		opts.ReplayFile = args.Replay
	}
	if args.Which >= 0 {
		opts.RX.Index = args.Which
		opts.TX.Index = args.Which
	}
	if args.RxSubdev != "" {
		opts.RX.Subdevice = args.RxSubdev
	}
	if args.TxSubdev != "" {
		opts.TX.Subdevice = args.TxSubdev
	}

	if opts.RX.Subdevice != "" {
		spec, err := radio.ParseSubdevSpec(opts.RX.Subdevice)
		if err != nil {
			return nil, nil, err
		}
		rxSpec = &spec
	}
	if opts.TX.Subdevice != "" {
		spec, err := radio.ParseSubdevSpec(opts.TX.Subdevice)
		if err != nil {
			return nil, nil, err
		}
		txSpec = &spec
	}
	return rxSpec, txSpec, nil
}

func run(args cliArgs) error {
	opts, err := loadConfig(args)
	if err != nil {
		return err
	}
	setupLogging(opts, args.Verbose)

	rxSpec, txSpec, err := applyFlags(args, &opts)
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return radio.ArgumentsError(err, "invalid configuration")
	}

	secret, err := omnihack.ParseSecret(opts.Secret)
	if err != nil {
		return err
	}
	seqno, err := omnihack.ParseSeqno(opts.Seqno)
	if err != nil {
		return err
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if opts.InfluxDB.Host != "" {
		client := influxdb2.NewClient(opts.InfluxDB.Host, "")
		defer client.Close()
		writeAPI = client.WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
	}

	devs := &devices{opts: opts}
	var (
		source device.Source
		sink   device.Sink
		cfg    *radio.RadioConfig
	)

	if opts.InputFile != "" {
		// file input skips hardware configuration entirely
		log.Info().Str("device", "file").Str("path", opts.InputFile).Msg("initializing device...")
		src, err := file.NewFileSource(opts.InputFile, file.Format(opts.InputFormat), fileReadSize, int(opts.SampleRate), int(opts.Frequency))
		if err != nil {
			return radio.OpenError(err, "opening input file %s", opts.InputFile)
		}
		source, sink = src, null.NewSink()
		if opts.TX.Driver == config.DriverFile {
			capture, err := file.NewFileSink(opts.TX.Path)
			if err != nil {
				return radio.OpenError(err, "creating tx capture %s", opts.TX.Path)
			}
			sink = capture
		}
		cfg = &radio.RadioConfig{SampleRate: opts.SampleRate, TargetFrequency: opts.Frequency}
	} else {
		rx, err := devs.receiver()
		if err != nil {
			devs.Close()
			return err
		}
		tx, err := devs.transmitter()
		if err != nil {
			devs.Close()
			return err
		}
		cfg, err = radio.Configure(rx, tx, radio.Request{
			SampleRate:      opts.SampleRate,
			TargetFrequency: opts.Frequency,
			RxSpec:          rxSpec,
			TxSpec:          txSpec,
		}, log.Logger)
		if err != nil {
			devs.Close()
			return err
		}
		source, sink = rx, tx
	}

	bridge := event.NewBridge(event.WithLogger(log.Logger), event.WithWriteAPI(writeAPI))

	var newEngine omnihack.EngineFactory = func(sampleRate float64, poster event.Poster) (omnihack.Engine, error) {
		return pda.NewDecoder(sampleRate, poster, pda.WithLogger(log.Logger))
	}
	engine, err := newEngine(cfg.SampleRate, bridge)
	if err != nil {
		devs.Close()
		return err
	}

	topology := omnihack.TopologyLive
	pathOpts := []omnihack.Option{
		omnihack.WithLogger(log.Logger),
		omnihack.WithInfluxDB(writeAPI),
	}
	if opts.ReplayFile != "" {
		replay, err := file.NewFileSource(opts.ReplayFile, file.Format(opts.ReplayFormat), fileReadSize, int(cfg.SampleRate), int(cfg.TargetFrequency))
		if err != nil {
			devs.Close()
			return radio.OpenError(err, "opening replay file %s", opts.ReplayFile)
		}
		topology = omnihack.TopologyReplay
		pathOpts = append(pathOpts, omnihack.WithReplaySource(replay))
	}
	if opts.ChannelFilter.CutoffHz > 0 {
		pathOpts = append(pathOpts, omnihack.WithChannelFilter(opts.ChannelFilter.CutoffHz, opts.ChannelFilter.TransitionHz))
	}

	path, err := omnihack.Build(*cfg, topology, source, sink, engine, bridge, pathOpts...)
	if err != nil {
		devs.Close()
		return err
	}
	xcvr := omnihack.NewTransceiver(path, engine,
		omnihack.WithTransceiverLogger(log.Logger),
		omnihack.WithClosers(devs))
	defer xcvr.Close()

	observers := event.Observers{output.NewLogObserver(log.Logger)}

	eg, ctx := errgroup.WithContext(context.Background())

	var ctl *server.Server
	if opts.API.Listen != "" {
		apiOpts := []server.Option{server.WithMonitor(opts.Monitor), server.WithHistory(opts.API.History)}
		if opts.API.JWTSecret != "" {
			apiOpts = append(apiOpts, server.WithJWTSecret(opts.API.JWTSecret))
		}
		if opts.API.MDNS {
			apiOpts = append(apiOpts, server.WithMDNS(opts.API.InstanceName))
		}
		ctl = server.New(xcvr, apiOpts...)
		observers = append(observers, ctl)
		eg.Go(func() error {
			return ctl.Run(ctx, opts.API.Listen)
		})
	}
	if len(opts.EventOutputs) > 0 {
		udp := output.NewUDPEventOutput(opts.EventOutputs, writeAPI)
		observers = append(observers, udp)
		eg.Go(func() error {
			return udp.Start(ctx)
		})
	}

	if err := bridge.Register(observers); err != nil {
		return err
	}

	xcvr.SetMonitorMode(opts.Monitor)
	xcvr.SetSecret(secret)
	xcvr.SetSeqno(seqno)

	eg.Go(func() error {
		return bridge.Run(ctx)
	})

	if err := xcvr.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Without a control API nothing can restart the path, so exit once it
	// ends on its own.
	var pathDone <-chan struct{}
	if ctl == nil {
		pathDone = path.Done()
	}

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("shutting down")
		case <-pathDone:
		case <-ctx.Done():
		}

		if xcvr.State() == omnihack.StateRunning {
			xcvr.Stop()
		}
		err := xcvr.Wait()
		// let the stop status reach the observers
		bridge.Drain()
		if err != nil {
			return err
		}
		return context.Canceled
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
