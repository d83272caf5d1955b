// Package pda implements the PDA side of the pod proximity protocol on a
// 13.56 MHz on-off keyed link: it slices and Manchester-decodes received
// bursts and transmits the status ON request.
package pda

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/norasector/omnihack/pkg/omnihack/event"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

const (
	SymbolRate    = 4000.0
	averageN      = 8
	symbolError   = 0.30
	retransmitMax = 10
	retransmitMs  = 250.0
	maxBurst      = 8192
	never         = math.MaxInt64
)

type State int

const (
	StateIdle State = iota
	StateStatus
	StateStatusOnSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStatus:
		return "status"
	case StateStatusOnSent:
		return "status_on_sent"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Option func(d *Decoder)

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// Decoder consumes received samples and produces transmit samples at the
// same rate. WorkBuffer runs on the streaming goroutine; the setters may be
// called from any goroutine.
type Decoder struct {
	poster event.Poster
	logger zerolog.Logger

	// guarded by mu
	mu      sync.Mutex
	state   State
	monitor bool
	secret  int64
	seqno   int

	sampleRate float64
	sps        int
	jitter     int
	averageLen int

	// receive
	pending         []complex64
	primed          bool
	averageA        float64
	averageB        float64
	sign            int
	count           int
	changeCount     int
	burst           []byte
	burstStart      int64
	prevBurstStart  int64
	rxSampleNumber  int64
	monitorThisWork bool

	// transmit
	modulator      *Modulator
	txBuf          []complex64
	txCur          int
	txAt           int64
	retransmits    int
	txSampleNumber int64
}

func NewDecoder(sampleRate float64, poster event.Poster, opts ...Option) (*Decoder, error) {
	sps := int(math.Round(sampleRate / SymbolRate))
	if sps < 2 {
		return nil, fmt.Errorf("sample rate %g too low for %g symbols/s", sampleRate, SymbolRate)
	}

	d := &Decoder{
		poster:     poster,
		logger:     zerolog.Nop(),
		state:      StateIdle,
		monitor:    true,
		secret:     -1,
		seqno:      -1,
		sampleRate: sampleRate,
		sps:        sps,
		jitter:     sps / 4,
		averageLen: averageN * sps,
		sign:       -1,
		burst:      make([]byte, 0, maxBurst),
		modulator:  NewModulator(sps),
		txAt:       never,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.logger.Debug().
		Float64("sample_rate", sampleRate).
		Int("sps", d.sps).
		Int("jitter", d.jitter).
		Int("average_len", d.averageLen).
		Msg("pda decoder initialized")

	return d, nil
}

func (d *Decoder) displayData(format string, args ...interface{}) {
	d.poster.Post(event.Data(fmt.Sprintf(format, args...)))
}

func (d *Decoder) displayStatus(format string, args ...interface{}) {
	d.poster.Post(event.Status(fmt.Sprintf(format, args...)))
}

func (d *Decoder) SetMonitor(on bool) {
	d.mu.Lock()
	d.monitor = on
	d.mu.Unlock()

	if on {
		d.displayStatus("Monitor mode is on")
	} else {
		d.displayStatus("Monitor mode is off")
	}
}

func (d *Decoder) StartStatus() {
	d.mu.Lock()
	if d.state == StateIdle && d.secret >= 0 && d.seqno >= 0 {
		d.state = StateStatus
		d.mu.Unlock()
		d.displayStatus("Status protocol starting")
		return
	}
	d.mu.Unlock()
	d.displayStatus("Transaction already in progress")
}

// SetSecret is ignored while a transaction is in progress.
func (d *Decoder) SetSecret(secret uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateIdle {
		return
	}
	d.secret = int64(secret)
}

// SetSeqno is ignored while a transaction is in progress.
func (d *Decoder) SetSeqno(seqno uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateIdle {
		return
	}
	d.seqno = int(seqno)
}

func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Decoder) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Decoder) snapshot() (State, bool, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.monitor, d.secret
}

// PredictOutputSize bounds the transmit samples produced for n received
// samples.
func (d *Decoder) PredictOutputSize(n int) int {
	return n + 2*d.averageLen + 1
}

func (d *Decoder) history() int {
	return 2*d.averageLen + 1
}

func (d *Decoder) prime(samples []complex64) {
	a := make([]float64, d.averageLen)
	b := make([]float64, d.averageLen)
	for i := 0; i < d.averageLen; i++ {
		a[i] = cmplx.Abs(complex128(samples[d.averageLen+1+i]))
		b[i] = cmplx.Abs(complex128(samples[i]))
	}
	d.averageA = floats.Sum(a)
	d.averageB = floats.Sum(b)
	d.rxSampleNumber = int64(d.averageLen)
	d.primed = true
}

func mag(c complex64) float64 {
	return cmplx.Abs(complex128(c))
}

// WorkBuffer processes input and writes transmit samples to output. A
// window of 2*averageLen+1 samples is carried between calls.
func (d *Decoder) WorkBuffer(input []complex64, output []complex64) int {
	d.pending = append(d.pending, input...)
	samples := d.pending

	noutput := len(output)
	if p := d.PredictOutputSize(len(input)); p < noutput {
		noutput = p
	}

	if !d.primed {
		if len(samples) < d.history() {
			return 0
		}
		d.prime(samples)
	}

	// read shared state once per call
	state, monitor, secret := d.snapshot()
	d.monitorThisWork = monitor

	L := d.averageLen
	w := 0
	r := 0
	for ; r+2*L+1 < len(samples); r++ {
		d.rxSampleNumber++

		cur := mag(samples[r+L+1])
		d.averageA = d.averageA - cur + mag(samples[r+2*L+1])
		d.averageB = d.averageB - mag(samples[r]) + mag(samples[r+L])

		if state != StateIdle || monitor {
			d.processRxSample(cur)
		}

		if state == StateIdle {
			continue
		}
		if state == StateStatus {
			state = StateStatusOnSent
			d.transmitOnPacket(uint32(secret))
		}
		if d.txAt < d.txSampleNumber && w < noutput {
			w += d.processTx(output[w:noutput])
		}
	}

	for d.txSampleNumber < d.rxSampleNumber && w < noutput {
		output[w] = 0
		w++
		d.txSampleNumber++
	}

	d.pending = append(d.pending[:0], samples[r:]...)

	return w
}

func (d *Decoder) processRxSample(cur float64) {
	var avg float64
	if len(d.burst) <= averageN {
		avg = d.averageA / float64(d.averageLen)
	} else {
		avg = d.averageB / float64(d.averageLen)
	}

	// too long without a transition to be a symbol
	if d.count > averageN*d.sps && len(d.burst) > 0 {
		d.decodeBurst()
	}

	if cur < avg {
		d.track(-1)
	} else {
		d.track(1)
	}
}

func (d *Decoder) track(sign int) {
	if (sign < 0 && d.sign < 0) || (sign > 0 && d.sign > 0) {
		d.count += d.changeCount + 1
		d.changeCount = 0
		return
	}
	if d.changeCount < d.jitter {
		d.changeCount++
		return
	}
	d.slice()
	d.sign = sign
	d.count = d.changeCount + 1
	d.changeCount = 0
}

func (d *Decoder) markBurstStart() {
	if len(d.burst) > 0 {
		return
	}
	d.prevBurstStart = d.burstStart
	d.burstStart = d.rxSampleNumber - int64(d.count+d.jitter+1+2*d.averageLen)
}

func (d *Decoder) appendSymbol(sym byte) {
	d.burst = append(d.burst, sym)
	if len(d.burst) >= maxBurst {
		d.decodeBurst()
	}
}

// slice classifies the width of the run that just ended.
func (d *Decoder) slice() {
	symbols := float64(d.count) / float64(d.sps)
	high := byte(0)
	if d.sign >= 0 {
		high = 1
	}

	for i := 1; i < averageN-1 && float64(i)-symbolError < symbols; i++ {
		if symbols <= float64(i)+symbolError {
			d.markBurstStart()
			for j := 0; j < i; j++ {
				d.appendSymbol(high)
			}
			return
		}
	}

	// A half symbol is a violation and never splits a bit, so only 0.5,
	// 1.5 and 2.5 widths can occur.
	for i := 0; i <= 2 && float64(i)+0.5-symbolError < symbols; i++ {
		if symbols <= float64(i)+0.5+symbolError {
			d.markBurstStart()
			d.appendSymbol(byte(i+1)*2 + high)
			return
		}
	}

	if len(d.burst) > 0 {
		d.decodeBurst()
	}
}

func (d *Decoder) decodeBurst() {
	if len(d.burst) == 0 {
		return
	}
	decoded := ManchesterDecode(d.burst)
	d.burst = d.burst[:0]

	if decoded == "" {
		return
	}
	if d.monitorThisWork {
		elapsed := 1000.0 * float64(d.burstStart-d.prevBurstStart) / d.sampleRate
		d.displayData("%s", FormatBurst(decoded, elapsed))
	}
}

// OnSilenceSymbols is the number of 'S' symbols appended after each ON
// copy.
func (d *Decoder) OnSilenceSymbols() int {
	return int(retransmitMs * (float64(d.sps) / 1000.0) / float64(d.modulator.BitLen()))
}

func (d *Decoder) transmitOnPacket(secret uint32) {
	symbols := OnPacket(secret, d.OnSilenceSymbols())
	buf, err := d.modulator.Modulate(symbols)
	if err != nil {
		d.logger.Error().Err(err).Msg("error modulating ON packet")
	}

	d.txBuf = buf
	d.txCur = 0
	d.txAt = 0
	d.setState(StateStatusOnSent)

	d.logger.Info().
		Int("symbols", len(symbols)).
		Int("samples", len(buf)).
		Msg("ON packet queued")
}

func (d *Decoder) processTx(output []complex64) int {
	if d.txBuf == nil {
		d.logger.Warn().Msg("transmit called with nothing queued")
		return 0
	}

	n := copy(output, d.txBuf[d.txCur:])
	d.txCur += n
	d.txSampleNumber += int64(n)

	if d.txCur < len(d.txBuf) {
		return n
	}

	d.retransmits++
	d.displayData("Transmit %d", d.retransmits)

	if d.retransmits < retransmitMax {
		d.txAt = d.rxSampleNumber + int64(retransmitMs*d.sampleRate/1000.0)
		d.txCur = 0
		d.displayData("Rescheduled for %d", d.txAt)
		return n
	}

	d.txBuf = nil
	d.txCur = 0
	d.txAt = never
	d.retransmits = 0
	d.setState(StateIdle)
	d.displayData("Retransmit finished")
	d.displayStatus("Exceeded retries")

	return n
}
