package main

import (
	"io"

	"github.com/norasector/omnihack/pkg/omnihack/config"
	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/omnihack/pkg/omnihack/device/file"
	hackrfDevice "github.com/norasector/omnihack/pkg/omnihack/device/hackrf"
	"github.com/norasector/omnihack/pkg/omnihack/device/rtlsdr"
	"github.com/norasector/omnihack/pkg/omnihack/device/rtltcp"
	"github.com/norasector/omnihack/pkg/omnihack/device/sim"
	"github.com/norasector/omnihack/pkg/omnihack/device/soapy"
	"github.com/norasector/omnihack/pkg/omnihack/radio"
	"github.com/rs/zerolog/log"
)

// Simulated converter clocks, matching a USRP1 motherboard.
const (
	simADCRate = 64e6
	simDACRate = 128e6
)

// fileTransmitter tunes like a basic tx board and writes what it is asked
// to send to a cf32 capture.
type fileTransmitter struct {
	*sim.Frontend
	*file.FileSink
}

// devices opens each physical radio once, even when it serves both
// directions.
type devices struct {
	opts    config.Config
	soapy   *soapy.Radio
	hackrf  *hackrfDevice.Radio
	closers []io.Closer
}

func (d *devices) openSoapy() (*soapy.Radio, error) {
	if d.soapy != nil {
		return d.soapy, nil
	}
	r, err := soapy.Open(d.opts.Soapy.Args, d.opts.Soapy.ClockRate)
	if err != nil {
		return nil, radio.OpenError(err, "opening soapy device %v", d.opts.Soapy.Args)
	}
	d.soapy = r
	d.closers = append(d.closers, r)
	return r, nil
}

func (d *devices) openHackRF() (*hackrfDevice.Radio, error) {
	if d.hackrf != nil {
		return d.hackrf, nil
	}
	r, err := hackrfDevice.Open()
	if err != nil {
		return nil, radio.OpenError(err, "opening hackrf")
	}
	d.hackrf = r
	d.closers = append(d.closers, r)
	return r, nil
}

func (d *devices) receiver() (device.Receiver, error) {
	ep := d.opts.RX
	log.Info().Str("device", ep.Driver).Msg("initializing receiver...")

	switch ep.Driver {
	case config.DriverSoapy:
		r, err := d.openSoapy()
		if err != nil {
			return nil, err
		}
		return r.Receiver(), nil
	case config.DriverHackRF:
		r, err := d.openHackRF()
		if err != nil {
			return nil, err
		}
		return r.Receiver(), nil
	case config.DriverRTLSDR:
		dev, err := rtlsdr.NewRTLSDRDevice(ep.Index)
		if err != nil {
			return nil, radio.OpenError(err, "opening rtlsdr %d", ep.Index)
		}
		d.closers = append(d.closers, dev)
		return dev, nil
	case config.DriverRTLTCP:
		dev, err := rtltcp.Dial(ep.Address)
		if err != nil {
			return nil, radio.OpenError(err, "connecting to rtl_tcp at %s", ep.Address)
		}
		log.Info().Str("tuner", dev.Tuner()).Msg("connected to rtl_tcp")
		d.closers = append(d.closers, dev)
		return dev, nil
	case config.DriverSim:
		return sim.NewReceiver(simADCRate, sim.WithBoard(0, 0, device.DBIDBasicRX)), nil
	}
	return nil, radio.OpenError(nil, "unknown rx driver %q", ep.Driver)
}

func (d *devices) transmitter() (device.Transmitter, error) {
	ep := d.opts.TX
	log.Info().Str("device", ep.Driver).Msg("initializing transmitter...")

	switch ep.Driver {
	case config.DriverSoapy:
		r, err := d.openSoapy()
		if err != nil {
			return nil, err
		}
		return r.Transmitter(), nil
	case config.DriverHackRF:
		r, err := d.openHackRF()
		if err != nil {
			return nil, err
		}
		return r.Transmitter(), nil
	case config.DriverSim:
		return sim.NewTransmitter(simDACRate, sim.WithBoard(0, 0, device.DBIDBasicTX)), nil
	case config.DriverFile:
		sink, err := file.NewFileSink(ep.Path)
		if err != nil {
			return nil, radio.OpenError(err, "creating tx capture %s", ep.Path)
		}
		log.Info().Str("path", ep.Path).Msg("capturing transmit stream")
		frontend := sim.NewTransmitter(simDACRate, sim.WithBoard(0, 0, device.DBIDBasicTX)).Frontend
		return fileTransmitter{Frontend: frontend, FileSink: sink}, nil
	}
	return nil, radio.OpenError(nil, "unknown tx driver %q", ep.Driver)
}

func (d *devices) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
