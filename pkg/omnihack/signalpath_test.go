package omnihack

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/norasector/omnihack/pkg/omnihack/device/sim"
	"github.com/norasector/omnihack/pkg/omnihack/event"
	"github.com/norasector/omnihack/pkg/omnihack/radio"
	"github.com/rs/zerolog"
)

const testRate = 250e3

// doubler transmits twice what it receives.
type doubler struct {
	mu      sync.Mutex
	monitor []bool
	secret  []uint32
	seqno   []uint8
	status  int
}

func (d *doubler) WorkBuffer(in, out []complex64) int {
	for i, v := range in {
		out[i] = 2 * v
	}
	return len(in)
}

func (d *doubler) PredictOutputSize(n int) int { return n }

func (d *doubler) SetMonitor(on bool) {
	d.mu.Lock()
	d.monitor = append(d.monitor, on)
	d.mu.Unlock()
}

func (d *doubler) SetSecret(s uint32) {
	d.mu.Lock()
	d.secret = append(d.secret, s)
	d.mu.Unlock()
}

func (d *doubler) SetSeqno(s uint8) {
	d.mu.Lock()
	d.seqno = append(d.seqno, s)
	d.mu.Unlock()
}

func (d *doubler) StartStatus() {
	d.mu.Lock()
	d.status++
	d.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) OnData(p string)   { r.add("data:" + p) }
func (r *recorder) OnStatus(p string) { r.add("status:" + p) }
func (r *recorder) OnFault(p string)  { r.add("fault:" + p) }

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newBridge(t *testing.T) (*event.Bridge, *recorder) {
	t.Helper()
	b := event.NewBridge()
	rec := &recorder{}
	if err := b.Register(rec); err != nil {
		t.Fatal(err)
	}
	return b, rec
}

func testConfig() radio.RadioConfig {
	return radio.RadioConfig{
		SampleRate:      testRate,
		Decimation:      256,
		Interpolation:   512,
		TargetFrequency: radio.DefaultFrequency,
	}
}

func waitDone(t *testing.T, p *SignalPath) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("signal path never finished")
	}
}

func TestBuild(t *testing.T) {
	b, _ := newBridge(t)
	tx := sim.NewTransmitter(testRate)

	tests := []struct {
		name     string
		source   *sim.Receiver
		topology Topology
		opts     []Option
		wantErr  error
	}{
		{name: "live", source: sim.NewReceiver(testRate), topology: TopologyLive},
		{name: "filtered", source: sim.NewReceiver(testRate), topology: TopologyLive, opts: []Option{WithChannelFilter(20e3, 10e3)}},
		{name: "source rate", source: sim.NewReceiver(2 * testRate), topology: TopologyLive, wantErr: ErrRateMismatch},
		{name: "replay rate", source: sim.NewReceiver(testRate), topology: TopologyReplay,
			opts: []Option{WithReplaySource(sim.NewReceiver(testRate / 2))}, wantErr: ErrRateMismatch},
		{name: "replay", source: sim.NewReceiver(testRate), topology: TopologyReplay,
			opts: []Option{WithReplaySource(sim.NewReceiver(testRate))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithLogger(zerolog.Nop())}, tt.opts...)
			_, err := Build(testConfig(), tt.topology, tt.source, tx, &doubler{}, b, opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
		})
	}

	if _, err := Build(testConfig(), TopologyReplay, sim.NewReceiver(testRate), tx, &doubler{}, b); err == nil {
		t.Error("replay without a replay source should not build")
	}
	if _, err := Build(testConfig(), TopologyLive, sim.NewReceiver(testRate), tx, &doubler{}, b,
		WithChannelFilter(200e3, 10e3)); err == nil {
		t.Error("cutoff above Nyquist should not build")
	}
}

func TestLifecycle(t *testing.T) {
	b, rec := newBridge(t)
	p, err := Build(testConfig(), TopologyLive, sim.NewReceiver(testRate), sim.NewTransmitter(testRate), &doubler{}, b,
		WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if p.State() != StateStopped {
		t.Fatalf("initial state %s", p.State())
	}
	if err := p.Stop(); err != ErrNotRunning {
		t.Errorf("stop while stopped: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Errorf("wait while stopped: %v", err)
	}

	for run := 0; run < 2; run++ {
		if err := p.Start(ctx); err != nil {
			t.Fatal(err)
		}
		if p.State() != StateRunning {
			t.Errorf("state after start %s", p.State())
		}
		if err := p.Start(ctx); err != ErrAlreadyRunning {
			t.Errorf("start while running: %v", err)
		}
		if err := p.Wait(); err != ErrStillRunning {
			t.Errorf("wait while running: %v", err)
		}

		if err := p.Stop(); err != nil {
			t.Fatal(err)
		}
		if p.State() != StateStopping {
			t.Errorf("state after stop %s", p.State())
		}
		if err := p.Stop(); err != ErrNotRunning {
			t.Errorf("stop while stopping: %v", err)
		}
		if err := p.Start(ctx); err != ErrAlreadyRunning {
			t.Errorf("start while stopping: %v", err)
		}

		if err := p.Wait(); err != nil {
			t.Fatal(err)
		}
		if p.State() != StateStopped {
			t.Errorf("state after wait %s", p.State())
		}
	}

	b.Drain()
	want := []string{
		"status:" + StatusStarted, "status:" + StatusStopped,
		"status:" + StatusStarted, "status:" + StatusStopped,
	}
	if got := rec.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLiveDataFlow(t *testing.T) {
	b, rec := newBridge(t)
	rx := sim.NewReceiver(testRate)
	tx := sim.NewTransmitter(testRate)
	rx.Feed(true, []complex64{1, 2}, []complex64{3, 4})

	p, err := Build(testConfig(), TopologyLive, rx, tx, &doubler{}, b, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	if p.State() != StateRunning {
		t.Errorf("streaming goroutines must not change state, got %s", p.State())
	}
	p.Stop()
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := tx.Received(); !reflect.DeepEqual(got, []complex64{2, 4, 6, 8}) {
		t.Errorf("transmitted %v", got)
	}
	if segments, transmitted := p.Stats(); segments != 2 || transmitted != 4 {
		t.Errorf("stats %d/%d", segments, transmitted)
	}

	b.Drain()
	want := []string{"status:" + StatusStarted, "status:" + StatusInputExhausted, "status:" + StatusStopped}
	if got := rec.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReplayTransmitsOnlyRecording(t *testing.T) {
	b, rec := newBridge(t)
	rx := sim.NewReceiver(testRate)
	rx.Feed(false, []complex64{1, 1, 1})
	replay := sim.NewReceiver(testRate)
	replay.Feed(true, []complex64{5, 6}, []complex64{7})
	tx := sim.NewTransmitter(testRate)

	p, err := Build(testConfig(), TopologyReplay, rx, tx, &doubler{}, b,
		WithLogger(zerolog.Nop()), WithReplaySource(replay))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(tx.Received()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// give a stray engine segment a chance to show up
	time.Sleep(20 * time.Millisecond)

	p.Stop()
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := tx.Received(); !reflect.DeepEqual(got, []complex64{5, 6, 7}) {
		t.Errorf("transmitted %v, want only the recording", got)
	}
	if segments, _ := p.Stats(); segments != 1 {
		t.Errorf("engine saw %d segments, want 1", segments)
	}

	b.Drain()
	found := false
	for _, ev := range rec.got() {
		if ev == "status:"+StatusReplayFinished {
			found = true
		}
	}
	if !found {
		t.Errorf("missing replay status in %v", rec.got())
	}
}

func TestStreamingFault(t *testing.T) {
	b, rec := newBridge(t)
	rx := sim.NewReceiver(testRate)
	rx.FailWith(errors.New("usb gone"))

	p, err := Build(testConfig(), TopologyLive, rx, sim.NewTransmitter(testRate), &doubler{}, b, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	err = p.Wait()
	if err == nil || !strings.Contains(err.Error(), "usb gone") {
		t.Fatalf("expected fault from Wait, got %v", err)
	}
	if p.State() != StateStopped {
		t.Errorf("state %s", p.State())
	}

	b.Drain()
	want := []string{"status:" + StatusStarted, "fault:source: usb gone", "status:" + StatusStopped}
	if got := rec.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// a fault does not poison the next run
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	if err := p.Wait(); err != nil {
		t.Errorf("second run: %v", err)
	}
}

func TestConcurrentWaiters(t *testing.T) {
	b, _ := newBridge(t)
	rx := sim.NewReceiver(testRate)
	rx.FailWith(errors.New("usb gone"))
	p, err := Build(testConfig(), TopologyLive, rx, sim.NewTransmitter(testRate), &doubler{}, b, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)
	p.Stop()

	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Wait()
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err == nil || !strings.Contains(err.Error(), "usb gone") {
			t.Errorf("waiter %d got %v, want the fault", i, err)
		}
	}

	starts := rx.Starts()
	for iter := 0; iter < 20; iter++ {
		if err := p.Start(ctx); err != nil {
			t.Fatalf("iter %d: start: %v", iter, err)
		}
		p.Stop()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Wait()
		}()
		if err := p.Wait(); err != nil {
			t.Fatalf("iter %d: wait: %v", iter, err)
		}
		if err := p.Start(ctx); err != nil {
			t.Fatalf("iter %d: restart: %v", iter, err)
		}
		wg.Wait()

		if p.State() != StateRunning {
			t.Fatalf("iter %d: running path reports %s after a late Wait returned", iter, p.State())
		}
		if err := p.Start(ctx); err != ErrAlreadyRunning {
			t.Fatalf("iter %d: second start over the same devices: %v", iter, err)
		}
		p.Stop()
		if err := p.Wait(); err != nil {
			t.Fatalf("iter %d: final wait: %v", iter, err)
		}
	}
	if got := rx.Starts() - starts; got != 40 {
		t.Errorf("receiver started %d times, want 40", got)
	}
}
