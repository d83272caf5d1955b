package hackrf

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/turbine-common/types"
	"github.com/samuel/go-hackrf/hackrf"
)

// HackRF has no fixed converter clock. The receive side is presented with a
// 20 MHz clock and the transmit side with twice that, so the transceiver's
// interpolation = 2 x decimation convention lands on the same sample rate.
const (
	rxClockRate = 20e6
	txClockRate = 40e6

	maxLNAGain   = 40
	lnaGainStep  = 8
	maxTXVGAGain = 47

	txQueueDepth = 16
)

// Radio is one opened HackRF. It is half duplex: the receive and transmit
// halves share the device and cannot stream at the same time.
type Radio struct {
	device *hackrf.Device

	mu         sync.Mutex
	sampleRate int
	centerFreq int
}

// Open initializes libhackrf and opens the first attached board.
func Open() (*Radio, error) {
	if err := hackrf.Init(); err != nil {
		return nil, err
	}
	dev, err := hackrf.Open()
	if err != nil {
		hackrf.Exit()
		return nil, err
	}
	return &Radio{device: dev}, nil
}

func (r *Radio) Close() error {
	err := r.device.Close()
	if exitErr := hackrf.Exit(); err == nil {
		err = exitErr
	}
	return err
}

func (r *Radio) Receiver() *Receiver {
	return &Receiver{frontend: frontend{radio: r, clock: rxClockRate, board: device.DBIDBasicRX}}
}

func (r *Radio) Transmitter() *Transmitter {
	return &Transmitter{frontend: frontend{radio: r, clock: txClockRate, board: device.DBIDBasicTX}}
}

type frontend struct {
	radio *Radio
	clock float64
	board int
}

func (f *frontend) SubdeviceID(slot, side int) (int, error) {
	if slot != 0 || side != 0 {
		return device.DBIDNone, nil
	}
	return f.board, nil
}

func (f *frontend) ConverterRate() float64 {
	return f.clock
}

func (f *frontend) SetRateFactor(factor int) error {
	if factor <= 0 {
		return fmt.Errorf("invalid rate factor %d", factor)
	}
	rate := int(f.clock / float64(factor))
	if err := f.radio.device.SetSampleRateManual(rate*2, 2); err != nil {
		return err
	}
	if err := f.radio.device.SetBasebandFilterBandwidth(rate); err != nil {
		return err
	}
	f.radio.mu.Lock()
	f.radio.sampleRate = rate
	f.radio.mu.Unlock()
	return nil
}

func (f *frontend) SetMux(slot, side int) error {
	if slot != 0 || side != 0 {
		return fmt.Errorf("hackrf has a single frontend, got slot %d side %d", slot, side)
	}
	return nil
}

func (f *frontend) Tune(slot int, freq float64) (bool, error) {
	if err := f.radio.device.SetFreq(uint64(freq)); err != nil {
		return false, err
	}
	f.radio.mu.Lock()
	f.radio.centerFreq = int(freq)
	f.radio.mu.Unlock()
	return true, nil
}

func (f *frontend) Close() error {
	return nil
}

// Receiver is the receive half of a HackRF.
type Receiver struct {
	frontend

	outputChan chan<- *types.SegmentComplex64
	ctx        context.Context
	segNum     int
}

func (r *Receiver) GainRange(slot int) (float64, float64, error) {
	return 0, maxLNAGain, nil
}

func (r *Receiver) SetGain(slot int, gain float64) error {
	// LNA gain moves in 8 dB steps.
	lna := int(gain) / lnaGainStep * lnaGainStep
	if err := r.radio.device.SetLNAGain(lna); err != nil {
		return err
	}
	return r.radio.device.SetAmpEnable(true)
}

func (r *Receiver) callback(buf []byte) error {
	r.radio.mu.Lock()
	seg := types.SegmentCS8Raw{
		SampleRate: r.radio.sampleRate,
		Data:       make([]byte, len(buf)),
		Frequency:  r.radio.centerFreq,
	}
	r.radio.mu.Unlock()
	copy(seg.Data, buf)

	complexSegment := seg.ToComplex64()
	r.segNum++
	complexSegment.SegmentNumber = r.segNum
	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case r.outputChan <- complexSegment:
	}

	return nil
}

func (r *Receiver) Start(ctx context.Context, complexSamples chan<- *types.SegmentComplex64) error {
	r.ctx = ctx
	r.outputChan = complexSamples
	r.segNum = 0
	if err := r.radio.device.StartRX(r.callback); err != nil {
		return err
	}
	<-ctx.Done()
	if err := r.radio.device.StopRX(); err != nil {
		return err
	}
	return ctx.Err()
}

// Transmitter is the transmit half of a HackRF.
type Transmitter struct {
	frontend

	pending chan []complex64
	cur     []complex64
}

func (t *Transmitter) GainRange(slot int) (float64, float64, error) {
	return 0, maxTXVGAGain, nil
}

func (t *Transmitter) SetGain(slot int, gain float64) error {
	return t.radio.device.SetTXVGAGain(int(gain))
}

func toInt8(v float32) byte {
	s := math.Max(-1, math.Min(1, float64(v)))
	return byte(int8(s * 127))
}

// txCallback runs on the libhackrf transfer thread. It never waits: when no
// samples are queued it sends silence.
func (t *Transmitter) txCallback(buf []byte) error {
	for i := 0; i+1 < len(buf); i += 2 {
		if len(t.cur) == 0 {
			select {
			case t.cur = <-t.pending:
			default:
			}
		}
		if len(t.cur) == 0 {
			buf[i], buf[i+1] = 0, 0
			continue
		}
		s := t.cur[0]
		t.cur = t.cur[1:]
		buf[i] = toInt8(real(s))
		buf[i+1] = toInt8(imag(s))
	}
	return nil
}

func (t *Transmitter) Start(ctx context.Context, complexSamples <-chan *types.SegmentComplex64) error {
	t.pending = make(chan []complex64, txQueueDepth)
	t.cur = nil
	if err := t.radio.device.StartTX(t.txCallback); err != nil {
		return err
	}
	defer t.radio.device.StopTX()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-complexSamples:
			if !ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case t.pending <- seg.Data:
			}
		}
	}
}
