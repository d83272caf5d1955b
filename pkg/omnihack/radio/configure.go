// Package radio brings a pair of radio frontends into a known state before
// streaming starts: it picks daughterboards, balances the receive and
// transmit rates, tunes both paths and sets gains. Every failure is a
// *Error with a Kind, and none of them are recoverable.
package radio

import (
	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/norasector/omnihack/pkg/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultSampleRate = 250e3
	DefaultFrequency  = 13.56e6
)

// Request describes the configuration to apply. A nil subdevice spec means
// automatic selection.
type Request struct {
	SampleRate      float64
	TargetFrequency float64
	RxSpec          *SubdevSpec
	TxSpec          *SubdevSpec
}

// RadioConfig is the validated result of Configure.
type RadioConfig struct {
	SampleRate      float64
	Decimation      int
	Interpolation   int
	TargetFrequency float64
	RxGain          float64
	TxGain          float64
	Rx              Subdevice
	Tx              Subdevice
}

func (r Request) withDefaults() Request {
	if r.SampleRate == 0 {
		r.SampleRate = DefaultSampleRate
	}
	if r.TargetFrequency == 0 {
		r.TargetFrequency = DefaultFrequency
	}
	return r
}

// Tune sets the subdevice frequency and fails on a refused or failed tune.
func Tune(fe device.Frontend, sub Subdevice, freq float64) error {
	ok, err := fe.Tune(sub.Slot, freq)
	if err != nil {
		return newError(KindTuningFailed, errors.Wrapf(err, "tune %s", sub), "%.0f Hz", freq)
	}
	if !ok {
		return newError(KindTuningFailed, nil, "%s refused %.0f Hz", sub, freq)
	}
	return nil
}

// Configure runs the whole configuration sequence against rx and tx, which
// may be the same device. Nothing is partially applied on the caller's
// behalf; on error the frontends should be closed.
func Configure(rx, tx device.Frontend, req Request, logger zerolog.Logger) (*RadioConfig, error) {
	req = req.withDefaults()

	adcRate := rx.ConverterRate()
	dacRate := tx.ConverterRate()

	decim, interp, achieved, err := ComputeRates(adcRate, req.SampleRate)
	if err != nil {
		return nil, err
	}
	if err := CheckBalance(adcRate, decim, dacRate, interp); err != nil {
		return nil, err
	}

	if err := rx.SetRateFactor(decim); err != nil {
		return nil, newError(KindUnbalancedRates, errors.Wrap(err, "set decimation"), "decimation %d", decim)
	}
	if err := tx.SetRateFactor(interp); err != nil {
		return nil, newError(KindUnbalancedRates, errors.Wrap(err, "set interpolation"), "interpolation %d", interp)
	}

	rxSub, err := pickSubdevice(rx, req.RxSpec, SelectRxSubdevice, ValidateRxSubdevice)
	if err != nil {
		return nil, err
	}
	txSub, err := pickSubdevice(tx, req.TxSpec, SelectTxSubdevice, ValidateTxSubdevice)
	if err != nil {
		return nil, err
	}

	if err := rx.SetMux(rxSub.Slot, rxSub.Side); err != nil {
		return nil, newError(KindInvalidSubdevice, errors.Wrap(err, "set RX mux"), "%s", rxSub)
	}
	if err := tx.SetMux(txSub.Slot, txSub.Side); err != nil {
		return nil, newError(KindInvalidSubdevice, errors.Wrap(err, "set TX mux"), "%s", txSub)
	}

	if err := Tune(rx, rxSub, req.TargetFrequency); err != nil {
		return nil, err
	}
	if err := Tune(tx, txSub, req.TargetFrequency); err != nil {
		return nil, err
	}

	cfg := &RadioConfig{
		SampleRate:      achieved,
		Decimation:      decim,
		Interpolation:   interp,
		TargetFrequency: req.TargetFrequency,
		Rx:              rxSub,
		Tx:              txSub,
	}

	lo, hi, err := rx.GainRange(rxSub.Slot)
	if err != nil {
		return nil, newError(KindHardwareOpen, errors.Wrap(err, "RX gain range"), "%s", rxSub)
	}
	cfg.RxGain = RxGain(lo, hi)
	if err := rx.SetGain(rxSub.Slot, cfg.RxGain); err != nil {
		return nil, newError(KindHardwareOpen, errors.Wrap(err, "set RX gain"), "%s", rxSub)
	}

	lo, hi, err = tx.GainRange(txSub.Slot)
	if err != nil {
		return nil, newError(KindHardwareOpen, errors.Wrap(err, "TX gain range"), "%s", txSub)
	}
	cfg.TxGain = TxGain(lo, hi)
	if err := tx.SetGain(txSub.Slot, cfg.TxGain); err != nil {
		return nil, newError(KindHardwareOpen, errors.Wrap(err, "set TX gain"), "%s", txSub)
	}

	logger.Info().
		Float64("sample_rate", cfg.SampleRate).
		Int("decimation", cfg.Decimation).
		Int("interpolation", cfg.Interpolation).
		Str("frequency", util.MHzToString(cfg.TargetFrequency)).
		Stringer("rx", cfg.Rx).
		Stringer("tx", cfg.Tx).
		Float64("rx_gain", cfg.RxGain).
		Float64("tx_gain", cfg.TxGain).
		Msg("radio configured")

	return cfg, nil
}

func pickSubdevice(fe device.Frontend, spec *SubdevSpec,
	auto func(device.Frontend) (Subdevice, error),
	explicit func(device.Frontend, SubdevSpec) (Subdevice, error)) (Subdevice, error) {
	if spec == nil {
		return auto(fe)
	}
	return explicit(fe, *spec)
}
