package radio

// RxGain sits three quarters of the way up the receive gain range.
func RxGain(lo, hi float64) float64 {
	return lo + 0.75*(hi-lo)
}

// TxGain is the top of the transmit gain range.
func TxGain(lo, hi float64) float64 {
	return hi
}
