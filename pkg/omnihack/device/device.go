package device

import (
	"context"

	"github.com/norasector/turbine-common/types"
)

// Daughterboard ids reported by SubdeviceID.
const (
	DBIDNone    = -1
	DBIDBasicTX = 0
	DBIDBasicRX = 1
	DBIDLFTX    = 14
	DBIDLFRX    = 15
)

// Frontend is the tunable part of a radio endpoint. Slot and side address a
// daughterboard the way a USRP motherboard does; single-frontend hardware
// exposes one board in slot 0.
type Frontend interface {
	// SubdeviceID returns the daughterboard id in slot/side, or DBIDNone.
	SubdeviceID(slot, side int) (int, error)
	// ConverterRate is the ADC (receive) or DAC (transmit) rate in Hz.
	ConverterRate() float64
	// SetRateFactor applies the decimation (receive) or interpolation
	// (transmit) factor.
	SetRateFactor(factor int) error
	SetMux(slot, side int) error
	Tune(slot int, freq float64) (bool, error)
	GainRange(slot int) (lo, hi float64, err error)
	SetGain(slot int, gain float64) error
	Close() error
}

// Source produces complex samples. Start blocks until ctx is done, the
// hardware fails, or a finite input is exhausted (io.EOF).
type Source interface {
	Start(ctx context.Context, samples chan<- *types.SegmentComplex64) error
}

// Sink consumes complex samples until ctx is done or samples is closed.
type Sink interface {
	Start(ctx context.Context, samples <-chan *types.SegmentComplex64) error
}

type Receiver interface {
	Frontend
	Source
}

type Transmitter interface {
	Frontend
	Sink
}

// RateReporter is implemented by endpoints that know their stream rate.
type RateReporter interface {
	SampleRate() float64
}
