package pda

import (
	"fmt"
	"strings"
)

// Transmit symbols understood by Modulator.
const (
	txZero    = '0'
	txOne     = '1'
	txHigh    = '^'
	txLow     = 'v'
	txSilence = 'S'
)

const (
	onPreamble   = "1110101011"
	onTrailer    = "10101011"
	onCopies     = 10
	onRepeats    = 17
	onGapMs      = 250.0
	onByteBitLen = 8
)

// Secret byte order and the nibble following each byte in an ON group.
var onGroups = []struct {
	byteIndex int
	nibble    string
}{
	{1, "0011"},
	{0, "0111"},
	{3, "1011"},
	{2, "1111"},
}

func byteBits(b byte) string {
	return fmt.Sprintf("%08b", b)
}

// OnPacket builds the symbol string of the ON request for secret, sent
// onCopies times with silenceSymbols 'S' symbols after each copy. Byte 0 is
// the most significant byte of secret.
func OnPacket(secret uint32, silenceSymbols int) string {
	var bits [4]string
	for i := range bits {
		bits[i] = byteBits(byte(secret >> uint((3-i)*onByteBitLen)))
	}

	var sb strings.Builder
	for c := 0; c < onCopies; c++ {
		sb.WriteString(onPreamble)
		for r := 0; r < onRepeats; r++ {
			for _, g := range onGroups {
				sb.WriteByte(txLow)
				sb.WriteString(bits[g.byteIndex])
				sb.WriteString(g.nibble)
				sb.WriteString(onTrailer)
			}
		}
		sb.WriteString(strings.Repeat(string(txSilence), silenceSymbols))
	}
	return sb.String()
}

// Modulator maps transmit symbols to on-off keyed baseband samples. A bit
// is two symbol periods with a transition in the middle; a violation is
// half a symbol period.
type Modulator struct {
	zero    []complex64
	one     []complex64
	high    []complex64
	low     []complex64
	silence []complex64
}

func NewModulator(sps int) *Modulator {
	m := &Modulator{
		zero:    make([]complex64, 2*sps),
		one:     make([]complex64, 2*sps),
		high:    make([]complex64, sps/2),
		low:     make([]complex64, sps/2),
		silence: make([]complex64, 2*sps),
	}
	for i := 0; i < sps; i++ {
		m.one[i] = 1
		m.zero[sps+i] = 1
	}
	for i := range m.high {
		m.high[i] = 1
	}
	return m
}

// BitLen is the number of samples in one bit.
func (m *Modulator) BitLen() int {
	return len(m.zero)
}

// Modulate returns the samples for symbols. Unknown symbols are skipped and
// reported in the error, which leaves the rest of the waveform usable.
func (m *Modulator) Modulate(symbols string) ([]complex64, error) {
	out := make([]complex64, 0, len(symbols)*m.BitLen())
	var bad []byte

	for i := 0; i < len(symbols); i++ {
		switch symbols[i] {
		case txZero:
			out = append(out, m.zero...)
		case txOne:
			out = append(out, m.one...)
		case txHigh:
			out = append(out, m.high...)
		case txLow:
			out = append(out, m.low...)
		case txSilence:
			out = append(out, m.silence...)
		default:
			bad = append(bad, symbols[i])
		}
	}

	if len(bad) > 0 {
		return out, fmt.Errorf("cannot transmit symbols %q", bad)
	}
	return out, nil
}
