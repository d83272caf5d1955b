package device

// CU8ToComplex64 converts unsigned 8-bit I/Q pairs, as delivered by RTL2832U
// dongles, to unit-scaled samples. A trailing odd byte is ignored.
func CU8ToComplex64(buf []byte) []complex64 {
	out := make([]complex64, len(buf)/2)
	for i := range out {
		re := (float32(buf[2*i]) - 127.5) / 127.5
		im := (float32(buf[2*i+1]) - 127.5) / 127.5
		out[i] = complex(re, im)
	}
	return out
}
