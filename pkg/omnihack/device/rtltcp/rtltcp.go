// Package rtltcp receives samples from a remote rtl_tcp server.
package rtltcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/bemasher/rtltcp"
	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/turbine-common/types"
)

const (
	xtalRate     = 28.8e6
	readSize     = 16384
	pollInterval = 100 * time.Millisecond
)

// Receiver is a receive-only frontend backed by rtl_tcp. Gain is expressed
// as an index into the dongle's gain table.
type Receiver struct {
	sdr rtltcp.SDR
}

// Dial connects to an rtl_tcp server at addr ("host:port").
func Dial(addr string) (*Receiver, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := &Receiver{}
	if err := r.sdr.Connect(tcpAddr); err != nil {
		return nil, err
	}
	return r, nil
}

// Tuner names the dongle's tuner as reported by the server.
func (r *Receiver) Tuner() string {
	return r.sdr.Info.Tuner.String()
}

func (r *Receiver) SubdeviceID(slot, side int) (int, error) {
	if slot != 0 || side != 0 {
		return device.DBIDNone, nil
	}
	return device.DBIDBasicRX, nil
}

func (r *Receiver) ConverterRate() float64 {
	return xtalRate
}

func (r *Receiver) SetRateFactor(factor int) error {
	if factor <= 0 {
		return fmt.Errorf("invalid rate factor %d", factor)
	}
	return r.sdr.SetSampleRate(uint32(xtalRate / float64(factor)))
}

func (r *Receiver) SetMux(slot, side int) error {
	if slot != 0 || side != 0 {
		return fmt.Errorf("rtl_tcp has a single frontend, got slot %d side %d", slot, side)
	}
	return nil
}

func (r *Receiver) Tune(slot int, freq float64) (bool, error) {
	if err := r.sdr.SetCenterFreq(uint32(freq)); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Receiver) GainRange(slot int) (float64, float64, error) {
	if r.sdr.Info.GainCount == 0 {
		return 0, 0, fmt.Errorf("rtl_tcp server reported no gains")
	}
	return 0, float64(r.sdr.Info.GainCount - 1), nil
}

func (r *Receiver) SetGain(slot int, gain float64) error {
	if err := r.sdr.SetGainMode(false); err != nil {
		return err
	}
	return r.sdr.SetGainByIndex(uint32(gain))
}

func (r *Receiver) Start(ctx context.Context, complexSamples chan<- *types.SegmentComplex64) error {
	buf := make([]byte, readSize)
	var pending []byte
	segNum := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.sdr.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return err
		}
		n, err := r.sdr.Read(buf)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return err
		}
		// Keep an odd trailing byte so I and Q stay paired.
		pending = append(pending, buf[:n]...)
		even := len(pending) &^ 1
		if even == 0 {
			continue
		}
		data := device.CU8ToComplex64(pending[:even])
		pending = append(pending[:0], pending[even:]...)

		segNum++
		seg := &types.SegmentComplex64{
			Data:          data,
			SegmentNumber: segNum,
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case complexSamples <- seg:
		}
	}
}

func (r *Receiver) Close() error {
	return r.sdr.Close()
}
