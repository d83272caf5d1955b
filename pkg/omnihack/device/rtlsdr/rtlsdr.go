package rtlsdr

import (
	"context"
	"fmt"
	"sync"

	gsdr "github.com/jpoirier/gortlsdr"
	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/turbine-common/types"
	"gonum.org/v1/gonum/floats"
)

// RTL2832U crystal; the sample rate is derived from it.
const xtalRate = 28.8e6

// RTLSDRDevice is a receive-only frontend. It reports a single basic RX
// daughterboard in slot 0.
type RTLSDRDevice struct {
	deviceIdx int
	device    *gsdr.Context

	mu         sync.Mutex
	centerFreq int
	sampleRate int

	outputChan chan<- *types.SegmentComplex64
	ctx        context.Context
	segNum     int
	wg         sync.WaitGroup
}

func NewRTLSDRDevice(deviceIdx int) (*RTLSDRDevice, error) {
	dev, err := gsdr.Open(deviceIdx)
	if err != nil {
		return nil, err
	}
	return &RTLSDRDevice{deviceIdx: deviceIdx, device: dev}, nil
}

func (r *RTLSDRDevice) SubdeviceID(slot, side int) (int, error) {
	if slot != 0 || side != 0 {
		return device.DBIDNone, nil
	}
	return device.DBIDBasicRX, nil
}

func (r *RTLSDRDevice) ConverterRate() float64 {
	return xtalRate
}

func (r *RTLSDRDevice) SetRateFactor(factor int) error {
	if factor <= 0 {
		return fmt.Errorf("invalid rate factor %d", factor)
	}
	rate := int(xtalRate / float64(factor))
	if err := r.device.SetSampleRate(rate); err != nil {
		return err
	}
	r.mu.Lock()
	r.sampleRate = rate
	r.mu.Unlock()
	return nil
}

func (r *RTLSDRDevice) SetMux(slot, side int) error {
	if slot != 0 || side != 0 {
		return fmt.Errorf("rtlsdr has a single frontend, got slot %d side %d", slot, side)
	}
	return nil
}

func (r *RTLSDRDevice) Tune(slot int, freq float64) (bool, error) {
	if err := r.device.SetCenterFreq(int(freq)); err != nil {
		return false, err
	}
	r.mu.Lock()
	r.centerFreq = int(freq)
	r.mu.Unlock()
	return true, nil
}

// GainRange is taken from the tuner's gain table, in dB.
func (r *RTLSDRDevice) GainRange(slot int) (float64, float64, error) {
	gains, err := r.device.GetTunerGains()
	if err != nil {
		return 0, 0, err
	}
	if len(gains) == 0 {
		return 0, 0, fmt.Errorf("tuner reported no gains")
	}
	db := make([]float64, len(gains))
	for i, g := range gains {
		db[i] = float64(g) / 10
	}
	return floats.Min(db), floats.Max(db), nil
}

func (r *RTLSDRDevice) SetGain(slot int, gain float64) error {
	if err := r.device.SetTunerGainMode(true); err != nil {
		return err
	}
	return r.device.SetTunerGain(int(gain * 10))
}

func (r *RTLSDRDevice) callback(buf []byte) {
	r.wg.Add(1)
	defer r.wg.Done()

	r.segNum++
	seg := &types.SegmentComplex64{
		Data:          device.CU8ToComplex64(buf),
		SegmentNumber: r.segNum,
	}
	select {
	case <-r.ctx.Done():
	case r.outputChan <- seg:
	}
}

func (r *RTLSDRDevice) Start(ctx context.Context, complexSamples chan<- *types.SegmentComplex64) error {
	r.ctx = ctx
	r.outputChan = complexSamples
	r.segNum = 0

	if err := r.device.ResetBuffer(); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- r.device.ReadAsync(r.callback, nil, 0, 0)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
		return fmt.Errorf("rtlsdr %d: stream ended", r.deviceIdx)
	case <-ctx.Done():
	}

	cancelErr := r.device.CancelAsync()
	<-errc
	r.wg.Wait()
	if cancelErr != nil {
		return cancelErr
	}
	return ctx.Err()
}

func (r *RTLSDRDevice) Close() error {
	return r.device.Close()
}
