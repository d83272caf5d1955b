// Package sim provides simulated radio frontends. They report configurable
// daughterboards and record every configuration call, which makes them
// usable both for dry runs without hardware and as test doubles.
package sim

import (
	"fmt"
	"sync"

	"github.com/norasector/omnihack/pkg/omnihack/device"
)

type slotSide struct {
	slot, side int
}

type Option func(f *Frontend)

// WithBoard installs a daughterboard id in slot/side.
func WithBoard(slot, side, id int) Option {
	return func(f *Frontend) {
		f.boards[slotSide{slot, side}] = id
	}
}

func WithGainRange(lo, hi float64) Option {
	return func(f *Frontend) {
		f.gainLo, f.gainHi = lo, hi
	}
}

// WithTuneResult makes Tune report ok and err for every call.
func WithTuneResult(ok bool, err error) Option {
	return func(f *Frontend) {
		f.tuneOK, f.tuneErr = ok, err
	}
}

func WithSegmentSize(n int) Option {
	return func(f *Frontend) {
		f.segmentSize = n
	}
}

type Frontend struct {
	mu sync.Mutex

	boards      map[slotSide]int
	rate        float64
	gainLo      float64
	gainHi      float64
	tuneOK      bool
	tuneErr     error
	segmentSize int

	factor int
	mux    *slotSide
	tuned  map[int]float64
	gains  map[int]float64
	closed bool
}

func newFrontend(rate float64, opts ...Option) *Frontend {
	f := &Frontend{
		boards:      make(map[slotSide]int),
		rate:        rate,
		gainHi:      100,
		tuneOK:      true,
		segmentSize: 4096,
		tuned:       make(map[int]float64),
		gains:       make(map[int]float64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Frontend) SubdeviceID(slot, side int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.boards[slotSide{slot, side}]
	if !ok {
		return device.DBIDNone, nil
	}
	return id, nil
}

func (f *Frontend) ConverterRate() float64 {
	return f.rate
}

func (f *Frontend) SetRateFactor(factor int) error {
	if factor <= 0 {
		return fmt.Errorf("invalid rate factor %d", factor)
	}
	f.mu.Lock()
	f.factor = factor
	f.mu.Unlock()
	return nil
}

func (f *Frontend) SetMux(slot, side int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boards[slotSide{slot, side}]; !ok {
		return fmt.Errorf("no board in slot %d side %d", slot, side)
	}
	f.mux = &slotSide{slot, side}
	return nil
}

func (f *Frontend) Tune(slot int, freq float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tuneErr != nil || !f.tuneOK {
		return f.tuneOK, f.tuneErr
	}
	f.tuned[slot] = freq
	return true, nil
}

func (f *Frontend) GainRange(slot int) (float64, float64, error) {
	return f.gainLo, f.gainHi, nil
}

func (f *Frontend) SetGain(slot int, gain float64) error {
	f.mu.Lock()
	f.gains[slot] = gain
	f.mu.Unlock()
	return nil
}

func (f *Frontend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// RateFactor is the last factor applied with SetRateFactor.
func (f *Frontend) RateFactor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.factor
}

// Mux returns the selected slot/side and whether SetMux was called.
func (f *Frontend) Mux() (slot, side int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mux == nil {
		return 0, 0, false
	}
	return f.mux.slot, f.mux.side, true
}

func (f *Frontend) TunedFrequency(slot int) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	freq, ok := f.tuned[slot]
	return freq, ok
}

func (f *Frontend) Gain(slot int) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gains[slot]
	return g, ok
}

func (f *Frontend) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SampleRate is the converter rate divided by the applied rate factor.
func (f *Frontend) SampleRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.factor == 0 {
		return f.rate
	}
	return f.rate / float64(f.factor)
}
