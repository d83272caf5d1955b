// Package soapy drives any full-duplex radio supported by SoapySDR.
package soapy

import (
	"context"
	"fmt"
	"sync"

	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/turbine-common/types"
	soapy "github.com/pothosware/go-soapy-sdr/pkg/device"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	readSize      = 4096
	readTimeoutUs = 100000
	writeTimeout  = 100000
)

// Radio is one SoapySDR device shared by its receive and transmit halves.
// The transmit converter is presented at twice the master clock, so
// interpolation = 2 x decimation yields matching rates on both halves.
type Radio struct {
	device *soapy.SDRDevice
	clock  float64
	logger zerolog.Logger
}

// Open makes a SoapySDR device from args (e.g. {"driver": "uhd"}). A
// non-zero clockRate overrides the reported master clock.
func Open(args map[string]string, clockRate float64) (*Radio, error) {
	dev, err := soapy.Make(args)
	if err != nil {
		return nil, err
	}
	if clockRate <= 0 {
		clockRate = dev.GetMasterClockRate()
	}
	if clockRate <= 0 {
		dev.Unmake()
		return nil, fmt.Errorf("soapy device %v reports no master clock; set clock_rate", args)
	}
	return &Radio{
		device: dev,
		clock:  clockRate,
		logger: log.Logger.With().Str("device", "soapy").Logger(),
	}, nil
}

func (r *Radio) Close() error {
	return r.device.Unmake()
}

func (r *Radio) Receiver() *Receiver {
	return &Receiver{frontend: frontend{radio: r, direction: soapy.DirectionRX, clock: r.clock, board: device.DBIDBasicRX}}
}

func (r *Radio) Transmitter() *Transmitter {
	return &Transmitter{frontend: frontend{radio: r, direction: soapy.DirectionTX, clock: 2 * r.clock, board: device.DBIDBasicTX}}
}

type frontend struct {
	radio     *Radio
	direction soapy.Direction
	clock     float64
	board     int

	mu      sync.Mutex
	channel uint
	factor  int
}

func (f *frontend) SubdeviceID(slot, side int) (int, error) {
	if side != 0 || slot < 0 || uint(slot) >= f.radio.device.GetNumChannels(f.direction) {
		return device.DBIDNone, nil
	}
	return f.board, nil
}

func (f *frontend) ConverterRate() float64 {
	return f.clock
}

func (f *frontend) applyRate() error {
	if f.factor == 0 {
		return nil
	}
	return f.radio.device.SetSampleRate(f.direction, f.channel, f.clock/float64(f.factor))
}

func (f *frontend) SetRateFactor(factor int) error {
	if factor <= 0 {
		return fmt.Errorf("invalid rate factor %d", factor)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factor = factor
	return f.applyRate()
}

// SetMux selects the channel; the rate factor follows it.
func (f *frontend) SetMux(slot, side int) error {
	if id, _ := f.SubdeviceID(slot, side); id == device.DBIDNone {
		return fmt.Errorf("no channel for slot %d side %d", slot, side)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = uint(slot)
	return f.applyRate()
}

func (f *frontend) Tune(slot int, freq float64) (bool, error) {
	if err := f.radio.device.SetFrequency(f.direction, uint(slot), freq, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (f *frontend) GainRange(slot int) (float64, float64, error) {
	rng := f.radio.device.GetGainRange(f.direction, uint(slot))
	return rng.Minimum, rng.Maximum, nil
}

func (f *frontend) SetGain(slot int, gain float64) error {
	return f.radio.device.SetGain(f.direction, uint(slot), gain)
}

func (f *frontend) Close() error {
	return nil
}

func (f *frontend) selected() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel
}

type Receiver struct {
	frontend
}

func (r *Receiver) Start(ctx context.Context, complexSamples chan<- *types.SegmentComplex64) error {
	stream, err := r.radio.device.SetupSDRStreamCF32(soapy.DirectionRX, []uint{r.selected()}, nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Activate(0, 0, 0); err != nil {
		return err
	}
	defer stream.Deactivate(0, 0)

	buffers := [][]complex64{make([]complex64, readSize)}
	flags := make([]int, 1)
	segNum := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, n, err := stream.Read(buffers, readSize, flags, readTimeoutUs)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		segNum++
		seg := &types.SegmentComplex64{
			Data:          make([]complex64, n),
			SegmentNumber: segNum,
		}
		copy(seg.Data, buffers[0][:n])

		select {
		case <-ctx.Done():
			return ctx.Err()
		case complexSamples <- seg:
		}
	}
}

type Transmitter struct {
	frontend
}

func (t *Transmitter) Start(ctx context.Context, complexSamples <-chan *types.SegmentComplex64) error {
	stream, err := t.radio.device.SetupSDRStreamCF32(soapy.DirectionTX, []uint{t.selected()}, nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Activate(0, 0, 0); err != nil {
		return err
	}
	defer stream.Deactivate(0, 0)

	flags := make([]int, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg, ok := <-complexSamples:
			if !ok {
				return nil
			}
			data := seg.Data
			for len(data) > 0 {
				n, err := stream.Write([][]complex64{data}, uint(len(data)), flags, 0, writeTimeout)
				if err != nil {
					return err
				}
				if n == 0 {
					t.radio.logger.Debug().Int("pending", len(data)).Msg("transmit stream timed out")
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}
				data = data[n:]
			}
		}
	}
}
