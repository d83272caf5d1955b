// Package omnihack wires a radio receiver, a protocol engine and a radio
// transmitter into a signal path and controls its lifecycle.
package omnihack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/omnihack/pkg/dsp/filters/fir"
	"github.com/norasector/omnihack/pkg/dsp/processor"
	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/omnihack/pkg/omnihack/device/null"
	"github.com/norasector/omnihack/pkg/omnihack/event"
	"github.com/norasector/omnihack/pkg/omnihack/radio"
	"github.com/norasector/omnihack/pkg/util"
	"github.com/norasector/turbine-common/types"
	"github.com/racerxdl/segdsp/dsp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	StatusStarted        = "PDA transceiver started"
	StatusStopped        = "PDA transceiver stopped"
	StatusInputExhausted = "input exhausted"
	StatusReplayFinished = "replay exhausted"

	segmentQueueDepth = 4
)

// SignalPath owns the streaming goroutines. Only Start, Stop and Wait
// change its State; the streaming goroutines never do.
type SignalPath struct {
	cfg      radio.RadioConfig
	topology Topology

	source device.Source
	sink   device.Sink
	replay device.Source
	engine Engine
	poster event.Poster

	proc        *processor.Processor
	discard     *null.Sink
	filterTaps  []float32
	logger      zerolog.Logger
	writeAPI    api.WriteAPI
	segments    uint64
	transmitted uint64

	mu    sync.Mutex
	state State
	run   *run
}

// run is one Start..Wait cycle. err is written before done is closed.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type Option func(p *SignalPath) error

func WithLogger(logger zerolog.Logger) Option {
	return func(p *SignalPath) error {
		p.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) Option {
	return func(p *SignalPath) error {
		p.writeAPI = writeAPI
		return nil
	}
}

// WithReplaySource sets the recording transmitted by TopologyReplay.
func WithReplaySource(src device.Source) Option {
	return func(p *SignalPath) error {
		p.replay = src
		return nil
	}
}

// WithChannelFilter inserts a low-pass filter in front of the engine.
func WithChannelFilter(cutoff, transitionWidth float64) Option {
	return func(p *SignalPath) error {
		if cutoff <= 0 || transitionWidth <= 0 {
			return fmt.Errorf("channel filter cutoff and transition width must be positive")
		}
		if cutoff >= p.cfg.SampleRate/2 {
			return fmt.Errorf("channel filter cutoff %g above Nyquist for %g", cutoff, p.cfg.SampleRate)
		}
		p.filterTaps = fir.MakeLowPass(1.0, p.cfg.SampleRate, cutoff, transitionWidth, fir.Hamming)
		return nil
	}
}

// Build assembles the path and checks that every stage runs at
// cfg.SampleRate.
func Build(cfg radio.RadioConfig, topology Topology, source device.Source, sink device.Sink, engine Engine, poster event.Poster, opts ...Option) (*SignalPath, error) {
	if source == nil || sink == nil || engine == nil || poster == nil {
		return nil, errors.New("source, sink, engine and poster are required")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %g", ErrRateMismatch, cfg.SampleRate)
	}

	p := &SignalPath{
		cfg:      cfg,
		topology: topology,
		source:   source,
		sink:     sink,
		engine:   engine,
		poster:   poster,
		discard:  null.NewSink(),
		logger:   log.Logger,
		writeAPI: &util.MockWriteAPI{},
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if topology == TopologyReplay && p.replay == nil {
		return nil, errors.New("replay topology needs a replay source")
	}
	if topology != TopologyLive && topology != TopologyReplay {
		return nil, fmt.Errorf("unknown topology %s", topology)
	}

	rate := int(cfg.SampleRate)
	endpoints := []struct {
		name string
		v    interface{}
	}{{"source", source}, {"sink", sink}, {"replay", p.replay}}
	for _, ep := range endpoints {
		if rr, ok := ep.v.(device.RateReporter); ok && int(rr.SampleRate()) != rate {
			return nil, fmt.Errorf("%w: %s runs at %g, path at %g", ErrRateMismatch, ep.name, rr.SampleRate(), cfg.SampleRate)
		}
	}

	p.proc = processor.NewProcessor("rx")
	if p.filterTaps != nil {
		p.proc.AddBlock(processor.NewDSPWorker("channel_filter", rate, rate, dsp.MakeFirFilter(p.filterTaps)))
	}
	p.proc.AddBlock(processor.NewDSPWorker("engine", rate, rate, engine))
	if err := p.proc.Initialize(rate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateMismatch, err)
	}

	blocks := make([]string, 0, len(p.proc.Blocks()))
	for _, b := range p.proc.Blocks() {
		blocks = append(blocks, b.Name)
	}
	p.logger.Info().
		Stringer("topology", topology).
		Float64("sample_rate", cfg.SampleRate).
		Strs("blocks", blocks).
		Int("filter_taps", len(p.filterTaps)).
		Msg("signal path built")

	return p, nil
}

func (p *SignalPath) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SignalPath) Topology() Topology {
	return p.topology
}

// Start launches the streaming goroutines. It does not block.
func (p *SignalPath) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)

	r := &run{cancel: cancel, done: make(chan struct{})}
	p.run = r
	p.state = StateRunning

	// posted before any stage can report
	p.poster.Post(event.Status(StatusStarted))

	switch p.topology {
	case TopologyReplay:
		p.startReplay(ctx, eg)
	default:
		p.startLive(ctx, eg)
	}

	go func() {
		err := eg.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		r.err = err
		close(r.done)
	}()

	p.logger.Info().Stringer("topology", p.topology).Msg("signal path started")

	return nil
}

// Stop asks the streaming goroutines to exit and returns immediately.
func (p *SignalPath) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return ErrNotRunning
	}
	p.run.cancel()
	p.state = StateStopping

	p.logger.Info().Msg("signal path stopping")
	p.poster.Post(event.Status(StatusStopped))

	return nil
}

// Wait blocks until a stopped path has fully wound down and returns the
// streaming fault that ended it, if any. Any number of callers may wait on
// the same run; each gets its fault, and only the run that is still current
// moves the path to Stopped.
func (p *SignalPath) Wait() error {
	p.mu.Lock()
	switch p.state {
	case StateStopped:
		p.mu.Unlock()
		return nil
	case StateRunning:
		p.mu.Unlock()
		return ErrStillRunning
	}
	r := p.run
	p.mu.Unlock()

	<-r.done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == r && p.state == StateStopping {
		p.state = StateStopped
		p.logger.Info().Err(r.err).Int64("discarded", p.discard.Discarded()).Msg("signal path stopped")
	}

	return r.err
}

// Done is closed when every streaming goroutine of the current run has
// returned, whether or not Stop was called. It is nil before the first
// Start.
func (p *SignalPath) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return nil
	}
	return p.run.done
}

// Stats returns the received segment count and transmitted sample count.
func (p *SignalPath) Stats() (segments, transmitted uint64) {
	return atomic.LoadUint64(&p.segments), atomic.LoadUint64(&p.transmitted)
}

// guard turns a stage error into a fault event. Cancellation is a normal
// exit and finite input running out is reported as status.
func (p *SignalPath) guard(stage string, exhausted string, fn func() error) func() error {
	return func() error {
		err := fn()
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, io.EOF):
			p.logger.Info().Str("stage", stage).Msg(exhausted)
			p.poster.Post(event.Status(exhausted))
			return nil
		}

		p.logger.Error().Err(err).Str("stage", stage).Msg("streaming fault")
		p.poster.Post(event.Fault(fmt.Sprintf("%s: %v", stage, err)))
		return err
	}
}

func (p *SignalPath) startLive(ctx context.Context, eg *errgroup.Group) {
	raw := make(chan *types.SegmentComplex64, segmentQueueDepth)
	tx := make(chan *types.SegmentComplex64, segmentQueueDepth)

	eg.Go(p.guard("source", StatusInputExhausted, func() error {
		defer close(raw)
		return p.source.Start(ctx, raw)
	}))
	eg.Go(p.guard("engine", "", func() error {
		return p.process(ctx, raw, tx)
	}))
	eg.Go(p.guard("sink", "", func() error {
		return p.sink.Start(ctx, tx)
	}))
}

func (p *SignalPath) startReplay(ctx context.Context, eg *errgroup.Group) {
	raw := make(chan *types.SegmentComplex64, segmentQueueDepth)
	decoded := make(chan *types.SegmentComplex64, segmentQueueDepth)
	recorded := make(chan *types.SegmentComplex64, segmentQueueDepth)
	paced := make(chan *types.SegmentComplex64, segmentQueueDepth)

	eg.Go(p.guard("source", StatusInputExhausted, func() error {
		defer close(raw)
		return p.source.Start(ctx, raw)
	}))
	eg.Go(p.guard("engine", "", func() error {
		return p.process(ctx, raw, decoded)
	}))
	eg.Go(p.guard("discard", "", func() error {
		return p.discard.Start(ctx, decoded)
	}))

	eg.Go(p.guard("replay", StatusReplayFinished, func() error {
		defer close(recorded)
		return p.replay.Start(ctx, recorded)
	}))
	eg.Go(p.guard("throttle", "", func() error {
		return throttle(ctx, p.cfg.SampleRate, recorded, paced)
	}))
	eg.Go(p.guard("sink", "", func() error {
		return p.countTransmitted(ctx, paced)
	}))
}

// countTransmitted sits in front of the sink in replay mode.
func (p *SignalPath) countTransmitted(ctx context.Context, in <-chan *types.SegmentComplex64) error {
	out := make(chan *types.SegmentComplex64)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case seg, ok := <-in:
				if !ok {
					return nil
				}
				atomic.AddUint64(&p.transmitted, uint64(len(seg.Data)))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case out <- seg:
				}
			}
		}
	})
	eg.Go(func() error {
		return p.sink.Start(ctx, out)
	})
	return eg.Wait()
}

func (p *SignalPath) process(ctx context.Context, in <-chan *types.SegmentComplex64, out chan<- *types.SegmentComplex64) error {
	defer close(out)

	segNum := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-in:
			if !ok {
				return nil
			}
			segNum++
			seg.SegmentNumber = segNum
			atomic.AddUint64(&p.segments, 1)

			metrics := map[string]interface{}{
				"sample_length": len(seg.Data),
			}
			var (
				result *types.SegmentComplex64
				err    error
			)
			metrics["duration"] = util.TimeOperationMicroseconds(func() {
				result, err = p.proc.Process(seg, metrics)
			})
			if err != nil {
				return err
			}

			// processor buffers are reused on the next segment
			data := make([]complex64, len(result.Data))
			copy(data, result.Data)

			if p.topology == TopologyLive {
				atomic.AddUint64(&p.transmitted, uint64(len(data)))
			}
			metrics["output_length"] = len(data)

			go p.writeAPI.WritePoint(influxdb2.NewPoint("pipeline.segment",
				map[string]string{
					"topology": p.topology.String(),
				},
				metrics,
				time.Now()))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- &types.SegmentComplex64{Data: data, SegmentNumber: segNum}:
			}
		}
	}
}
