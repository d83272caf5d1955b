package pda

import (
	"reflect"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/norasector/omnihack/pkg/omnihack/event"
)

type recordingPoster struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingPoster) Post(ev event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingPoster) payloads(kind event.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev.Payload)
		}
	}
	return out
}

func (r *recordingPoster) has(kind event.Kind, payload string) bool {
	for _, p := range r.payloads(kind) {
		if p == payload {
			return true
		}
	}
	return false
}

func newTestDecoder(t *testing.T, sampleRate float64) (*Decoder, *recordingPoster) {
	t.Helper()
	p := &recordingPoster{}
	d, err := NewDecoder(sampleRate, p)
	if err != nil {
		t.Fatal(err)
	}
	return d, p
}

func TestDecoderParameters(t *testing.T) {
	d, _ := newTestDecoder(t, 250e3)
	if d.sps != 63 || d.jitter != 15 || d.averageLen != 504 {
		t.Errorf("sps %d jitter %d average_len %d", d.sps, d.jitter, d.averageLen)
	}
	if n := d.OnSilenceSymbols(); n != 0 {
		t.Errorf("silence symbols %d, want 0", n)
	}

	if _, err := NewDecoder(4000, &recordingPoster{}); err == nil {
		t.Error("expected error for sample rate below two samples per symbol")
	}
}

func TestStatusTransaction(t *testing.T) {
	d, p := newTestDecoder(t, 250e3)

	d.StartStatus()
	if !p.has(event.KindStatus, "Transaction already in progress") {
		t.Error("status without a secret should be refused")
	}
	if d.State() != StateIdle {
		t.Errorf("state %s", d.State())
	}

	d.SetSecret(0xc504d891)
	d.SetSeqno(0)
	d.StartStatus()
	if !p.has(event.KindStatus, "Status protocol starting") {
		t.Error("missing start status")
	}
	if d.State() != StateStatus {
		t.Errorf("state %s", d.State())
	}

	d.SetSecret(1)
	d.mu.Lock()
	secret := d.secret
	d.mu.Unlock()
	if secret != 0xc504d891 {
		t.Errorf("secret changed during transaction: %x", secret)
	}

	before := len(p.payloads(event.KindStatus))
	d.StartStatus()
	statuses := p.payloads(event.KindStatus)
	if len(statuses) != before+1 || statuses[before] != "Transaction already in progress" {
		t.Errorf("second start: %v", statuses)
	}
}

func TestMonitorStatus(t *testing.T) {
	d, p := newTestDecoder(t, 250e3)
	d.SetMonitor(false)
	d.SetMonitor(true)
	want := []string{"Monitor mode is off", "Monitor mode is on"}
	if got := p.payloads(event.KindStatus); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v", got)
	}
}

func run(d *Decoder, input []complex64, chunk int) []complex64 {
	var out []complex64
	buf := make([]complex64, d.PredictOutputSize(chunk))
	for len(input) > 0 {
		n := chunk
		if n > len(input) {
			n = len(input)
		}
		w := d.WorkBuffer(input[:n], buf)
		out = append(out, buf[:w]...)
		input = input[n:]
	}
	return out
}

func TestTransmitOnPacket(t *testing.T) {
	const secret = 0xc504d891

	d, p := newTestDecoder(t, 8000)
	d.SetMonitor(false)
	d.SetSecret(secret)
	d.SetSeqno(0)
	d.StartStatus()

	expected, err := NewModulator(d.sps).Modulate(OnPacket(secret, d.OnSilenceSymbols()))
	if err != nil {
		t.Fatal(err)
	}

	zeros := make([]complex64, 1024)
	var out []complex64
	for i := 0; i < 200 && !p.has(event.KindData, "Transmit 1"); i++ {
		out = append(out, run(d, zeros, len(zeros))...)
	}
	if !p.has(event.KindData, "Transmit 1") {
		t.Fatal("ON packet never finished transmitting")
	}
	if d.State() != StateStatusOnSent {
		t.Errorf("state %s", d.State())
	}

	start := -1
	for i, v := range out {
		if v != 0 {
			start = i
			break
		}
	}
	if start < 0 || len(out) < start+len(expected) {
		t.Fatalf("transmitted %d samples, packet starts at %d", len(out), start)
	}
	if !reflect.DeepEqual(out[start:start+len(expected)], expected) {
		t.Error("transmitted samples do not match the modulated ON packet")
	}

	for i := 0; i < 2000 && d.State() != StateIdle; i++ {
		run(d, zeros, len(zeros))
	}
	if d.State() != StateIdle {
		t.Fatal("transaction never finished")
	}

	data := p.payloads(event.KindData)
	transmits := 0
	for _, line := range data {
		if strings.HasPrefix(line, "Transmit ") {
			transmits++
		}
	}
	if transmits != retransmitMax {
		t.Errorf("%d transmissions, want %d", transmits, retransmitMax)
	}
	if data[len(data)-1] != "Retransmit finished" {
		t.Errorf("last data event %q", data[len(data)-1])
	}
	if !p.has(event.KindStatus, "Exceeded retries") {
		t.Error("missing Exceeded retries status")
	}
}

func TestTransmitKeepsPace(t *testing.T) {
	d, _ := newTestDecoder(t, 250e3)
	in := make([]complex64, 4096)
	total := 0
	for i := 0; i < 10; i++ {
		total += len(run(d, in, len(in)))
	}
	// everything but the carried window comes back out as silence
	if want := 10*len(in) - d.history() + d.averageLen; total != want {
		t.Errorf("produced %d samples, want %d", total, want)
	}
}

var burstLine = regexp.MustCompile(`^\s*\d+\.\dms:\t.* : `)

func TestReceiveBurst(t *testing.T) {
	burst, err := NewModulator(10).Modulate("1110101011" + "v" + "10100101" + "0011" + "10101011")
	if err != nil {
		t.Fatal(err)
	}
	signal := make([]complex64, 0, len(burst)+8000)
	signal = append(signal, make([]complex64, 4000)...)
	signal = append(signal, burst...)
	signal = append(signal, make([]complex64, 4000)...)

	d, p := newTestDecoder(t, 40000)
	run(d, signal, 512)

	lines := p.payloads(event.KindData)
	if len(lines) == 0 {
		t.Fatal("no burst decoded")
	}
	for _, line := range lines {
		if !burstLine.MatchString(line) {
			t.Errorf("unexpected burst line %q", line)
		}
	}

	quiet, p := newTestDecoder(t, 40000)
	quiet.SetMonitor(false)
	run(quiet, signal, 512)
	if lines := p.payloads(event.KindData); len(lines) != 0 {
		t.Errorf("monitor off still displayed %v", lines)
	}
}
