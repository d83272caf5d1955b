package radio

import (
	"math"
)

// ComputeRates derives the receive decimation and transmit interpolation for
// a converter clock and a desired sample rate. The achieved rate is
// adcRate/decimation.
func ComputeRates(adcRate, desiredSampleRate float64) (decimation, interpolation int, achieved float64, err error) {
	if desiredSampleRate <= 0 {
		return 0, 0, 0, newError(KindUnbalancedRates, nil, "sample rate must be positive, got %g", desiredSampleRate)
	}
	decimation = int(math.Floor(adcRate / desiredSampleRate))
	if decimation < 1 {
		return 0, 0, 0, newError(KindUnbalancedRates, nil, "ADC rate %g below sample rate %g", adcRate, desiredSampleRate)
	}
	interpolation = 2 * decimation
	return decimation, interpolation, adcRate / float64(decimation), nil
}

// CheckBalance requires the receive and transmit paths to land on exactly
// the same sample rate.
func CheckBalance(adcRate float64, decimation int, dacRate float64, interpolation int) error {
	if decimation <= 0 || interpolation <= 0 {
		return newError(KindUnbalancedRates, nil, "decimation %d / interpolation %d", decimation, interpolation)
	}
	rx := adcRate / float64(decimation)
	tx := dacRate / float64(interpolation)
	if rx != tx {
		return newError(KindUnbalancedRates, nil, "decimation and interpolation not balanced: RX %g Hz, TX %g Hz", rx, tx)
	}
	return nil
}
